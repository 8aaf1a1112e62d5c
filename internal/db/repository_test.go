package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// setupTestRepo connects to TEST_DATABASE_URL, applies the migrations and
// empties every table. Tests skip when the variable is unset.
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres integration test")
	}

	ctx := context.Background()

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	admin, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer admin.Close()

	files, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.up.sql"))
	if err != nil || len(files) == 0 {
		t.Fatalf("no migrations found: %v", err)
	}
	sort.Strings(files)
	for _, f := range files {
		sql, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := admin.Exec(ctx, string(sql)); err != nil {
			t.Fatalf("apply %s: %v", f, err)
		}
	}

	if _, err := admin.Exec(ctx, `TRUNCATE script_logs, email_logs, followup_emails,
		thank_you_emails, appointments, customers, job_locks RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	database, err := New(ctx, Config{URL: url}, zap.NewNop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(database.Close)

	return NewRepository(database, zap.NewNop())
}

func seedAppointment(t *testing.T, repo *Repository, ext string, at time.Time) (int64, int64) {
	t.Helper()
	ctx := context.Background()

	customerID, err := repo.UpsertCustomer(ctx, &Customer{ExternalID: "c-" + ext, Name: "Ana", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("upsert customer: %v", err)
	}
	apptID, err := repo.UpsertAppointment(ctx, &Appointment{
		ExternalID:      "a-" + ext,
		CustomerID:      customerID,
		ServiceType:     "Gel Manicure",
		AppointmentDate: at,
	})
	if err != nil {
		t.Fatalf("upsert appointment: %v", err)
	}
	return customerID, apptID
}

func TestRepository_UpsertIsIdempotent(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	first, err := repo.UpsertCustomer(ctx, &Customer{ExternalID: "cust-1", Name: "Ana", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := repo.UpsertCustomer(ctx, &Customer{ExternalID: "cust-1", Name: "Ana B", Email: "ana@x.com"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable id, got %d and %d", first, second)
	}

	counts, err := repo.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Customers != 1 {
		t.Errorf("expected 1 customer, got %d", counts.Customers)
	}
}

func TestRepository_ThankYouSlotIsUnique(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	customerID, apptID := seedAppointment(t, repo, "1", time.Now())
	slot := time.Now().Truncate(time.Minute)

	task := &EmailTask{AppointmentID: apptID, CustomerID: customerID, EmailAddress: "a@x.com", ScheduledAt: slot}
	if _, err := repo.ScheduleThankYou(ctx, task); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	dup := &EmailTask{AppointmentID: apptID, CustomerID: customerID, EmailAddress: "a@x.com", ScheduledAt: slot}
	if _, err := repo.ScheduleThankYou(ctx, dup); !errors.Is(err, ErrTaskExists) {
		t.Fatalf("expected ErrTaskExists, got %v", err)
	}

	exists, err := repo.ThankYouExists(ctx, apptID, slot)
	if err != nil || !exists {
		t.Fatalf("expected slot to exist, got %v (%v)", exists, err)
	}
}

func TestRepository_RetryLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	tasks := repo.Tasks(KindThankYou, 3)

	customerID, apptID := seedAppointment(t, repo, "1", time.Now())
	task := &EmailTask{AppointmentID: apptID, CustomerID: customerID, EmailAddress: "a@x.com", ScheduledAt: time.Now().Add(-time.Minute)}
	if _, err := repo.ScheduleThankYou(ctx, task); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	for i := 0; i < 3; i++ {
		due, err := tasks.Due(ctx, time.Now())
		if err != nil {
			t.Fatalf("due: %v", err)
		}
		if len(due) != 1 {
			t.Fatalf("attempt %d: expected 1 due task, got %d", i, len(due))
		}
		if due[0].CustomerName != "Ana" {
			t.Errorf("expected customer name Ana, got %q", due[0].CustomerName)
		}
		if err := tasks.IncrementRetry(ctx, task.ID); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	msg := "smtp error: connection refused"
	if err := tasks.MarkResult(ctx, task.ID, StatusFailed, &msg); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	due, err := tasks.Due(ctx, time.Now())
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("failed task should not be due, got %d", len(due))
	}

	if err := tasks.MarkResult(ctx, 999999, StatusSent, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepository_FollowUpCandidatesAndFeedback(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	at := time.Now().AddDate(0, 0, -7)
	customerID, apptID := seedAppointment(t, repo, "1", at)

	from := at.AddDate(0, 0, -1)
	to := at.AddDate(0, 0, 1)

	candidates, err := repo.FollowUpCandidates(ctx, from, to)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].AppointmentID != apptID {
		t.Fatalf("expected the seeded appointment, got %+v", candidates)
	}

	task := &EmailTask{AppointmentID: apptID, CustomerID: customerID, EmailAddress: "a@x.com", ScheduledAt: time.Now(), FeedbackToken: "tok-1"}
	if _, err := repo.CreateFollowUp(ctx, task); err != nil {
		t.Fatalf("create follow-up: %v", err)
	}

	again := &EmailTask{AppointmentID: apptID, CustomerID: customerID, EmailAddress: "a@x.com", ScheduledAt: time.Now(), FeedbackToken: "tok-2"}
	if _, err := repo.CreateFollowUp(ctx, again); !errors.Is(err, ErrTaskExists) {
		t.Fatalf("expected ErrTaskExists, got %v", err)
	}

	candidates, err = repo.FollowUpCandidates(ctx, from, to)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates after scheduling, got %d", len(candidates))
	}

	due, err := repo.Tasks(KindFollowUp, 3).Due(ctx, time.Now())
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].FeedbackToken != "tok-1" {
		t.Fatalf("expected follow-up with token, got %+v", due)
	}

	if err := repo.MarkFeedbackProvided(ctx, "tok-1"); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if err := repo.MarkFeedbackProvided(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepository_ReportingViews(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	errMsg := "smtp error: timeout"
	entries := []*DeliveryLog{
		{EmailAddress: "a@x.com", EmailType: string(KindThankYou), Subject: "s", Status: StatusSent},
		{EmailAddress: "b@x.com", EmailType: string(KindThankYou), Subject: "s", Status: StatusFailed, ErrorMessage: &errMsg},
		{EmailAddress: "c@x.com", EmailType: string(KindFollowUp), Subject: "s", Status: StatusFailed, ErrorMessage: &errMsg},
	}
	for _, e := range entries {
		if err := repo.AppendDeliveryLog(ctx, e); err != nil {
			t.Fatalf("append delivery log: %v", err)
		}
	}

	report, err := repo.FailureReport(ctx, time.Now().AddDate(0, 0, -7), 5)
	if err != nil {
		t.Fatalf("failure report: %v", err)
	}
	if report.Total != 3 || report.Sent != 1 || report.Failed != 2 {
		t.Fatalf("unexpected totals: %+v", report)
	}
	if len(report.TopErrors) != 1 || report.TopErrors[0].Count != 2 {
		t.Fatalf("unexpected top errors: %+v", report.TopErrors)
	}

	for _, sent := range []int{3, 5} {
		if err := repo.AppendExecutionLog(ctx, &ExecutionLog{
			ScriptName:      "thank_you_emails",
			Status:          ExecutionCompleted,
			EmailsSent:      sent,
			DurationSeconds: 2,
		}); err != nil {
			t.Fatalf("append execution log: %v", err)
		}
	}

	stats, err := repo.ScriptStats(ctx, "thank_you_emails", time.Now().AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("script stats: %v", err)
	}
	if stats.Runs != 2 || stats.EmailsSent != 8 || stats.AvgDurationSecs != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	recent, err := repo.RecentExecutions(ctx, 1)
	if err != nil {
		t.Fatalf("recent executions: %v", err)
	}
	if len(recent) != 1 || recent[0].EmailsSent != 5 {
		t.Fatalf("expected newest execution first, got %+v", recent)
	}
}

func TestLeaseLock_ExclusiveUntilReleased(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	a := repo.NewLeaseLock()
	b := repo.NewLeaseLock()

	ok, err := a.TryLock(ctx, "thank_you_emails", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: %v %v", ok, err)
	}

	ok, err = b.TryLock(ctx, "thank_you_emails", time.Minute)
	if err != nil || ok {
		t.Fatalf("second owner should be refused: %v %v", ok, err)
	}

	if err := a.Unlock(ctx, "thank_you_emails"); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	ok, err = b.TryLock(ctx, "thank_you_emails", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock after release: %v %v", ok, err)
	}
}
