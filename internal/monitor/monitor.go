// Package monitor implements the operator CLI: status, recent activity,
// failure analysis, connectivity checks and backups.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lalithlochan/aftercare/internal/db"
	"github.com/lalithlochan/aftercare/internal/mail"
	"github.com/lalithlochan/aftercare/internal/source"
)

// ErrUsage is returned for an unknown command or bad arguments; the help text
// has already been printed.
var ErrUsage = errors.New("usage error")

// Store is the read side of the repository plus backup.
type Store interface {
	Counts(ctx context.Context) (*db.StatusCounts, error)
	RecentExecutions(ctx context.Context, limit int) ([]*db.ExecutionLog, error)
	RecentDeliveries(ctx context.Context, limit int) ([]*db.DeliveryLog, error)
	FailureReport(ctx context.Context, since time.Time, topN int) (*db.FailureReport, error)
	ScriptStats(ctx context.Context, script string, since time.Time) (*db.ScriptStats, error)
	Backup(ctx context.Context, dir string) (string, error)
}

// Source is the appointment source connectivity surface.
type Source interface {
	VerifyConnection(ctx context.Context) error
	ListCompletedAppointments(ctx context.Context, day time.Time) ([]source.Appointment, error)
}

// Options describe the environment the checks report on.
type Options struct {
	BackupDir     string
	MailTransport string
	SenderEmail   string
	SenderName    string
	Location      *time.Location
}

type Monitor struct {
	out     io.Writer
	store   Store
	source  Source
	gateway mail.Gateway
	opts    Options
	now     func() time.Time
}

func New(out io.Writer, store Store, src Source, gateway mail.Gateway, opts Options) *Monitor {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Monitor{
		out:     out,
		store:   store,
		source:  src,
		gateway: gateway,
		opts:    opts,
		now:     time.Now,
	}
}

// Run dispatches one command. args excludes the program name.
func (m *Monitor) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		m.help()
		return nil
	}

	cmd := strings.ToLower(args[0])
	rest := args[1:]

	switch cmd {
	case "status":
		return m.status(ctx)
	case "executions":
		n, err := optionalInt(rest, 10)
		if err != nil {
			return m.usage(err)
		}
		return m.executions(ctx, n)
	case "emails":
		n, err := optionalInt(rest, 20)
		if err != nil {
			return m.usage(err)
		}
		return m.emails(ctx, n)
	case "failures":
		return m.failures(ctx)
	case "stats":
		if len(rest) == 0 {
			return m.usage(errors.New("stats needs a script name"))
		}
		days, err := optionalInt(rest[1:], 7)
		if err != nil {
			return m.usage(err)
		}
		return m.stats(ctx, rest[0], days)
	case "test-source":
		return m.testSource(ctx)
	case "test-email":
		if len(rest) == 0 {
			return m.usage(errors.New("test-email needs a recipient address"))
		}
		return m.testEmail(ctx, rest[0])
	case "backup":
		return m.backup(ctx)
	case "help", "-h", "--help":
		m.help()
		return nil
	default:
		return m.usage(fmt.Errorf("unknown command: %s", cmd))
	}
}

func (m *Monitor) status(ctx context.Context) error {
	m.header("System Status")

	c, err := m.store.Counts(ctx)
	if err != nil {
		return fmt.Errorf("load status: %w", err)
	}

	tw := m.table("Metric", "Value")
	fmt.Fprintf(tw, "Customers in Database\t%d\n", c.Customers)
	fmt.Fprintf(tw, "Total Appointments\t%d\n", c.Appointments)
	fmt.Fprintf(tw, "Pending Thank You Emails\t%d\n", c.ThankYouPending)
	fmt.Fprintf(tw, "Pending Follow-Up Emails\t%d\n", c.FollowUpPending)
	fmt.Fprintf(tw, "Failed Thank You Emails\t%d\n", c.ThankYouFailed)
	fmt.Fprintf(tw, "Failed Follow-Up Emails\t%d\n", c.FollowUpFailed)
	fmt.Fprintf(tw, "Database Size (MB)\t%.2f\n", float64(c.DatabaseBytes)/1024/1024)
	return tw.Flush()
}

func (m *Monitor) executions(ctx context.Context, limit int) error {
	m.header(fmt.Sprintf("Recent Script Executions (Last %d)", limit))

	runs, err := m.store.RecentExecutions(ctx, limit)
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(m.out, "No execution logs found.")
		return nil
	}

	tw := m.table("Script", "Execution Time", "Status", "Sent", "Skipped", "Failed", "Duration")
	for _, r := range runs {
		duration := "N/A"
		if r.DurationSeconds > 0 {
			duration = fmt.Sprintf("%.2fs", r.DurationSeconds)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ScriptName,
			r.ExecutedAt.In(m.opts.Location).Format(time.DateTime),
			r.Status,
			r.EmailsSent,
			r.EmailsSkipped,
			r.EmailsFailed,
			duration,
		)
	}
	return tw.Flush()
}

func (m *Monitor) emails(ctx context.Context, limit int) error {
	m.header(fmt.Sprintf("Recent Email Activity (Last %d)", limit))

	logs, err := m.store.RecentDeliveries(ctx, limit)
	if err != nil {
		return fmt.Errorf("list deliveries: %w", err)
	}
	if len(logs) == 0 {
		fmt.Fprintln(m.out, "No email logs found.")
		return nil
	}

	tw := m.table("Email", "Type", "Status", "Time", "Error")
	for _, l := range logs {
		errMsg := "-"
		if l.ErrorMessage != nil && *l.ErrorMessage != "" {
			errMsg = truncate(*l.ErrorMessage, 30)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			l.EmailAddress,
			l.EmailType,
			l.Status,
			l.SentAt.In(m.opts.Location).Format(time.DateTime),
			errMsg,
		)
	}
	return tw.Flush()
}

func (m *Monitor) failures(ctx context.Context) error {
	m.header("Failure Analysis (Last 7 Days)")

	report, err := m.store.FailureReport(ctx, m.now().AddDate(0, 0, -7), 5)
	if err != nil {
		return fmt.Errorf("build failure report: %w", err)
	}

	fmt.Fprintf(m.out, "Total Emails Processed: %d\n", report.Total)
	fmt.Fprintf(m.out, "Successfully Sent: %d\n", report.Sent)
	fmt.Fprintf(m.out, "Failed: %d\n", report.Failed)
	fmt.Fprintf(m.out, "Success Rate: %.2f%%\n\n", report.SuccessRate())

	if len(report.TopErrors) == 0 {
		fmt.Fprintln(m.out, "No failures in the last 7 days!")
		return nil
	}

	fmt.Fprintln(m.out, "Top Failure Reasons:")
	tw := m.table("#", "Error", "Count")
	for i, e := range report.TopErrors {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", i+1, truncate(e.Message, 50), e.Count)
	}
	return tw.Flush()
}

func (m *Monitor) stats(ctx context.Context, script string, days int) error {
	m.header(fmt.Sprintf("Script Statistics: %s (Last %d Days)", script, days))

	s, err := m.store.ScriptStats(ctx, script, m.now().AddDate(0, 0, -days))
	if err != nil {
		return fmt.Errorf("load script stats: %w", err)
	}

	tw := m.table("Metric", "Value")
	fmt.Fprintf(tw, "Total Runs\t%d\n", s.Runs)
	fmt.Fprintf(tw, "Emails Sent\t%d\n", s.EmailsSent)
	fmt.Fprintf(tw, "Emails Skipped\t%d\n", s.EmailsSkipped)
	fmt.Fprintf(tw, "Emails Failed\t%d\n", s.EmailsFailed)
	fmt.Fprintf(tw, "Average Duration\t%.2fs\n", s.AvgDurationSecs)
	return tw.Flush()
}

func (m *Monitor) testSource(ctx context.Context) error {
	m.header("Appointment Source Connection Test")

	if err := m.source.VerifyConnection(ctx); err != nil {
		fmt.Fprintln(m.out, "✗ Appointment source connection failed!")
		fmt.Fprintln(m.out, "  Check SOURCE_API_KEY and SOURCE_BUSINESS_ID")
		return fmt.Errorf("verify source: %w", err)
	}
	fmt.Fprintln(m.out, "✓ Appointment source connection successful!")

	appts, err := m.source.ListCompletedAppointments(ctx, m.now().In(m.opts.Location))
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}
	fmt.Fprintf(m.out, "✓ %d completed appointments today\n", len(appts))
	return nil
}

func (m *Monitor) testEmail(ctx context.Context, to string) error {
	m.header("Email Service Connection Test")

	fmt.Fprintf(m.out, "  - Transport: %s\n", m.opts.MailTransport)
	fmt.Fprintf(m.out, "  - Sender: %s\n", m.opts.SenderEmail)
	fmt.Fprintf(m.out, "  - Name: %s\n\n", m.opts.SenderName)

	msg := mail.Message{
		To:      to,
		Subject: "Test email from " + m.opts.SenderName,
		Text:    "This is a test email. If you can read it, outgoing mail is configured correctly.",
		HTML:    "<p>This is a test email. If you can read it, outgoing mail is configured correctly.</p>",
	}
	if err := m.gateway.Send(ctx, msg); err != nil {
		fmt.Fprintf(m.out, "✗ Test email to %s failed: %v\n", to, err)
		return fmt.Errorf("send test email: %w", err)
	}
	fmt.Fprintf(m.out, "✓ Test email sent to %s\n", to)
	return nil
}

func (m *Monitor) backup(ctx context.Context) error {
	m.header("Database Backup")

	path, err := m.store.Backup(ctx, m.opts.BackupDir)
	if err != nil {
		fmt.Fprintln(m.out, "✗ Backup failed. Check logs for details.")
		return fmt.Errorf("backup: %w", err)
	}
	fmt.Fprintln(m.out, "✓ Database backed up successfully!")
	fmt.Fprintf(m.out, "  Location: %s\n", path)
	return nil
}

func (m *Monitor) usage(err error) error {
	fmt.Fprintln(m.out, err)
	m.help()
	return fmt.Errorf("%w: %v", ErrUsage, err)
}

func (m *Monitor) help() {
	fmt.Fprint(m.out, `
Aftercare - Monitor & Maintenance Tool

Usage: monitor <command> [args]

Commands:
  status                - Show current system status
  executions [N]        - Show recent N script executions (default: 10)
  emails [N]            - Show recent N email activities (default: 20)
  failures              - Analyze failure patterns (last 7 days)
  stats <script> [days] - Totals for one script (default: 7 days)
  test-source           - Test the appointment source connection
  test-email <address>  - Send a test email
  backup                - Create database backup
  help                  - Show this help message

Examples:
  monitor status
  monitor executions 20
  monitor stats thank_you_emails 30
  monitor test-email owner@example.com
`)
}

func (m *Monitor) header(title string) {
	line := strings.Repeat("=", 60)
	fmt.Fprintf(m.out, "\n%s\n  %s\n%s\n\n", line, title, line)
}

func (m *Monitor) table(headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(m.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	seps := make([]string, len(headers))
	for i, h := range headers {
		seps[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(seps, "\t"))
	return tw
}

func optionalInt(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("expected a positive number, got %q", args[0])
	}
	return n, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
