package workflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/aftercare/internal/config"
	"github.com/lalithlochan/aftercare/internal/db"
	"github.com/lalithlochan/aftercare/internal/metrics"
	"github.com/lalithlochan/aftercare/internal/source"
)

// AppointmentSource lists completed appointments upstream.
type AppointmentSource interface {
	VerifyConnection(ctx context.Context) error
	ListCompletedAppointments(ctx context.Context, day time.Time) ([]source.Appointment, error)
}

// ThankYouStore is the part of the repository the ingest phase writes to.
type ThankYouStore interface {
	UpsertCustomer(ctx context.Context, c *db.Customer) (int64, error)
	UpsertAppointment(ctx context.Context, a *db.Appointment) (int64, error)
	ThankYouExists(ctx context.Context, appointmentID int64, scheduledAt time.Time) (bool, error)
	ScheduleThankYou(ctx context.Context, task *db.EmailTask) (int64, error)
}

// ThankYou ingests today's completed appointments, schedules one thank-you
// per configured send time and sends whatever is due.
type ThankYou struct {
	env       envelope
	source    AppointmentSource
	store     ThankYouStore
	sender    Sender
	sendTimes []config.TimeOfDay
	loc       *time.Location
}

func NewThankYou(src AppointmentSource, store ThankYouStore, sender Sender, sendTimes []config.TimeOfDay, loc *time.Location, opts Options) *ThankYou {
	if loc == nil {
		loc = time.UTC
	}
	return &ThankYou{
		env:       newEnvelope(ScriptThankYou, "Thank You Email Script", opts),
		source:    src,
		store:     store,
		sender:    sender,
		sendTimes: sendTimes,
		loc:       loc,
	}
}

// Run performs one full run and reports whether it was clean.
func (w *ThankYou) Run(ctx context.Context) bool {
	_, ok := w.RunWithResult(ctx)
	return ok
}

// RunWithResult is Run with the counters exposed.
func (w *ThankYou) RunWithResult(ctx context.Context) (Result, bool) {
	return w.env.run(ctx, func(ctx context.Context, res *Result) error {
		now := w.env.now()
		w.ingest(ctx, now, res)
		res.addSend(w.sender.Drain(ctx, w.env.now()))
		return nil
	})
}

func (w *ThankYou) ingest(ctx context.Context, now time.Time, res *Result) {
	logger := w.env.logger

	if err := w.source.VerifyConnection(ctx); err != nil {
		res.addError("failed to verify appointment source connection: %v", err)
		return
	}

	appts, err := w.source.ListCompletedAppointments(ctx, now.In(w.loc))
	if err != nil {
		res.addError("error fetching appointments: %v", err)
		return
	}
	logger.Info("found completed appointments", zap.Int("count", len(appts)))

	for _, appt := range appts {
		w.ingestOne(ctx, now, appt, res)
	}
}

func (w *ThankYou) ingestOne(ctx context.Context, now time.Time, appt source.Appointment, res *Result) {
	logger := w.env.logger.With(zap.String("appointment", appt.ExternalID))

	if appt.Customer.Email == "" {
		logger.Warn("no email for appointment, skipping")
		res.Skipped++
		return
	}

	customer := &db.Customer{
		ExternalID: appt.Customer.ExternalID,
		Name:       appt.Customer.Name,
		Email:      appt.Customer.Email,
	}
	if appt.Customer.Phone != "" {
		phone := appt.Customer.Phone
		customer.Phone = &phone
	}
	customerID, err := w.store.UpsertCustomer(ctx, customer)
	if err != nil {
		logger.Error("failed to store customer", zap.Error(err))
		res.Failed++
		return
	}

	appointmentID, err := w.store.UpsertAppointment(ctx, &db.Appointment{
		ExternalID:      appt.ExternalID,
		CustomerID:      customerID,
		ServiceType:     appt.ServiceName,
		AppointmentDate: appt.StartTime,
	})
	if err != nil {
		logger.Error("failed to store appointment", zap.Error(err))
		res.Failed++
		return
	}

	for _, slot := range w.sendTimes {
		at := slot.On(now, w.loc)

		exists, err := w.store.ThankYouExists(ctx, appointmentID, at)
		if err != nil {
			res.addError("check thank-you slot %s for appointment %s: %v", slot, appt.ExternalID, err)
			continue
		}
		if exists {
			res.DuplicatesPrevented++
			metrics.RecordDuplicatePrevented(string(db.KindThankYou))
			continue
		}

		_, err = w.store.ScheduleThankYou(ctx, &db.EmailTask{
			AppointmentID: appointmentID,
			CustomerID:    customerID,
			EmailAddress:  appt.Customer.Email,
			ScheduledAt:   at,
		})
		switch {
		case errors.Is(err, db.ErrTaskExists):
			res.DuplicatesPrevented++
			metrics.RecordDuplicatePrevented(string(db.KindThankYou))
		case err != nil:
			res.addError("schedule thank-you %s for appointment %s: %v", slot, appt.ExternalID, err)
		default:
			res.Scheduled++
			metrics.RecordTaskScheduled(string(db.KindThankYou))
			logger.Info("scheduled thank-you email", zap.String("to", appt.Customer.Email), zap.Time("at", at))
		}
	}
}
