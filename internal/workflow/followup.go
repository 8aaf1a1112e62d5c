package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/aftercare/internal/db"
	"github.com/lalithlochan/aftercare/internal/metrics"
)

// FollowUpStore is the part of the repository the prepare phase uses.
type FollowUpStore interface {
	FollowUpCandidates(ctx context.Context, from, to time.Time) ([]*db.FollowUpCandidate, error)
	FollowUpExists(ctx context.Context, customerID, appointmentID int64) (bool, error)
	CreateFollowUp(ctx context.Context, task *db.EmailTask) (int64, error)
}

// FollowUp creates one feedback-request task per appointment that is Days
// old (give or take a day) and sends whatever is due.
type FollowUp struct {
	env      envelope
	store    FollowUpStore
	sender   Sender
	days     int
	loc      *time.Location
	newToken func() string
}

func NewFollowUp(store FollowUpStore, sender Sender, days int, loc *time.Location, opts Options) *FollowUp {
	if days <= 0 {
		days = 7
	}
	if loc == nil {
		loc = time.UTC
	}
	return &FollowUp{
		env:      newEnvelope(ScriptFollowUp, "Follow-Up Email Script", opts),
		store:    store,
		sender:   sender,
		days:     days,
		loc:      loc,
		newToken: uuid.NewString,
	}
}

func (w *FollowUp) Run(ctx context.Context) bool {
	_, ok := w.RunWithResult(ctx)
	return ok
}

func (w *FollowUp) RunWithResult(ctx context.Context) (Result, bool) {
	return w.env.run(ctx, func(ctx context.Context, res *Result) error {
		w.Prepare(ctx, res)
		res.addSend(w.sender.Drain(ctx, w.env.now()))
		return nil
	})
}

// Window returns the appointment start range considered for follow-up at now:
// the whole local days from target-1 through target+1.
func (w *FollowUp) Window(now time.Time) (from, to time.Time) {
	local := now.In(w.loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.loc).AddDate(0, 0, -w.days)
	return target.AddDate(0, 0, -1), target.AddDate(0, 0, 2)
}

// Prepare creates follow-up tasks for eligible appointments. It is safe to
// call repeatedly: an appointment never gets a second task.
func (w *FollowUp) Prepare(ctx context.Context, res *Result) {
	logger := w.env.logger
	now := w.env.now()
	from, to := w.Window(now)

	candidates, err := w.store.FollowUpCandidates(ctx, from, to)
	if err != nil {
		res.addError("error preparing follow-up emails: %v", err)
		return
	}
	logger.Info("found appointments eligible for follow-up",
		zap.Int("count", len(candidates)),
		zap.Time("from", from),
		zap.Time("to", to),
	)

	for _, c := range candidates {
		exists, err := w.store.FollowUpExists(ctx, c.CustomerID, c.AppointmentID)
		if err != nil {
			res.addError("check follow-up for appointment %d: %v", c.AppointmentID, err)
			continue
		}
		if exists {
			logger.Debug("follow-up already exists", zap.Int64("appointment_id", c.AppointmentID))
			res.DuplicatesPrevented++
			metrics.RecordDuplicatePrevented(string(db.KindFollowUp))
			continue
		}

		_, err = w.store.CreateFollowUp(ctx, &db.EmailTask{
			AppointmentID: c.AppointmentID,
			CustomerID:    c.CustomerID,
			EmailAddress:  c.Email,
			ScheduledAt:   now,
			FeedbackToken: w.newToken(),
		})
		switch {
		case errors.Is(err, db.ErrTaskExists):
			res.DuplicatesPrevented++
			metrics.RecordDuplicatePrevented(string(db.KindFollowUp))
		case err != nil:
			logger.Error("failed to create follow-up", zap.Int64("appointment_id", c.AppointmentID), zap.Error(err))
			res.Failed++
		default:
			res.Scheduled++
			metrics.RecordTaskScheduled(string(db.KindFollowUp))
			logger.Info("created follow-up email", zap.String("to", c.Email), zap.String("customer", c.CustomerName))
		}
	}
}
