package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository owns every read and write against the scheduler tables
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// UpsertCustomer inserts the customer or overwrites name, email and phone for
// an existing external id. It returns the stable internal id.
func (r *Repository) UpsertCustomer(ctx context.Context, c *Customer) (int64, error) {
	query := `
		INSERT INTO customers (external_id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    phone = EXCLUDED.phone,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		c.ExternalID, c.Name, c.Email, c.Phone,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to upsert customer",
			zap.Error(err),
			zap.String("external_id", c.ExternalID),
		)
		return 0, fmt.Errorf("upsert customer: %w", err)
	}

	return c.ID, nil
}

// UpsertAppointment inserts or overwrites the appointment by external id and
// marks it completed.
func (r *Repository) UpsertAppointment(ctx context.Context, a *Appointment) (int64, error) {
	query := `
		INSERT INTO appointments (
			external_id, customer_id, service_type,
			appointment_date, completion_date, status
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id) DO UPDATE
		SET customer_id = EXCLUDED.customer_id,
		    service_type = EXCLUDED.service_type,
		    appointment_date = EXCLUDED.appointment_date,
		    completion_date = EXCLUDED.completion_date,
		    status = EXCLUDED.status,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	a.Status = AppointmentCompleted
	err := r.db.Pool().QueryRow(ctx, query,
		a.ExternalID, a.CustomerID, a.ServiceType,
		a.AppointmentDate, a.CompletionDate, a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to upsert appointment",
			zap.Error(err),
			zap.String("external_id", a.ExternalID),
		)
		return 0, fmt.Errorf("upsert appointment: %w", err)
	}

	return a.ID, nil
}

// ThankYouExists reports whether a thank-you task is already stored for the
// appointment at the given send slot, in any status.
func (r *Repository) ThankYouExists(ctx context.Context, appointmentID int64, scheduledAt time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM thank_you_emails
			WHERE appointment_id = $1 AND scheduled_at = $2
		)
	`

	var exists bool
	if err := r.db.Pool().QueryRow(ctx, query, appointmentID, scheduledAt).Scan(&exists); err != nil {
		r.logger.Error("failed to check thank-you task",
			zap.Error(err),
			zap.Int64("appointment_id", appointmentID),
		)
		return false, fmt.Errorf("check thank-you task: %w", err)
	}
	return exists, nil
}

// ScheduleThankYou stores a pending thank-you task. ErrTaskExists is returned
// when the slot is already taken.
func (r *Repository) ScheduleThankYou(ctx context.Context, task *EmailTask) (int64, error) {
	query := `
		INSERT INTO thank_you_emails (
			appointment_id, customer_id, email_address, scheduled_at, status
		) VALUES ($1, $2, $3, $4, 'pending')
		ON CONFLICT (appointment_id, scheduled_at) DO NOTHING
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		task.AppointmentID, task.CustomerID, task.EmailAddress, task.ScheduledAt,
	).Scan(&task.ID, &task.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrTaskExists
	}
	if err != nil {
		r.logger.Error("failed to schedule thank-you task",
			zap.Error(err),
			zap.Int64("appointment_id", task.AppointmentID),
		)
		return 0, fmt.Errorf("insert thank-you task: %w", err)
	}

	task.Kind = KindThankYou
	task.Status = StatusPending
	r.logger.Info("thank-you email scheduled",
		zap.Int64("task_id", task.ID),
		zap.Int64("appointment_id", task.AppointmentID),
		zap.Time("scheduled_at", task.ScheduledAt),
	)
	return task.ID, nil
}

// FollowUpExists reports whether any follow-up task exists for the pair.
func (r *Repository) FollowUpExists(ctx context.Context, customerID, appointmentID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM followup_emails
			WHERE customer_id = $1 AND appointment_id = $2
		)
	`

	var exists bool
	if err := r.db.Pool().QueryRow(ctx, query, customerID, appointmentID).Scan(&exists); err != nil {
		r.logger.Error("failed to check follow-up task",
			zap.Error(err),
			zap.Int64("appointment_id", appointmentID),
		)
		return false, fmt.Errorf("check follow-up task: %w", err)
	}
	return exists, nil
}

// CreateFollowUp stores a pending follow-up task with its feedback token.
// ErrTaskExists is returned when the appointment already has one.
func (r *Repository) CreateFollowUp(ctx context.Context, task *EmailTask) (int64, error) {
	query := `
		INSERT INTO followup_emails (
			appointment_id, customer_id, email_address,
			scheduled_at, status, feedback_token
		) VALUES ($1, $2, $3, $4, 'pending', $5)
		ON CONFLICT (appointment_id) DO NOTHING
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		task.AppointmentID, task.CustomerID, task.EmailAddress,
		task.ScheduledAt, task.FeedbackToken,
	).Scan(&task.ID, &task.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrTaskExists
	}
	if err != nil {
		r.logger.Error("failed to create follow-up task",
			zap.Error(err),
			zap.Int64("appointment_id", task.AppointmentID),
		)
		return 0, fmt.Errorf("insert follow-up task: %w", err)
	}

	task.Kind = KindFollowUp
	task.Status = StatusPending
	r.logger.Info("follow-up email scheduled",
		zap.Int64("task_id", task.ID),
		zap.Int64("appointment_id", task.AppointmentID),
	)
	return task.ID, nil
}

// FollowUpCandidates returns completed appointments with a start time in
// [from, to) that have no follow-up task in any status.
func (r *Repository) FollowUpCandidates(ctx context.Context, from, to time.Time) ([]*FollowUpCandidate, error) {
	query := `
		SELECT a.id, a.customer_id, c.name, c.email, a.service_type, a.appointment_date
		FROM appointments a
		JOIN customers c ON c.id = a.customer_id
		WHERE a.status = 'completed'
		  AND a.appointment_date >= $1
		  AND a.appointment_date < $2
		  AND NOT EXISTS (
			SELECT 1 FROM followup_emails f WHERE f.appointment_id = a.id
		  )
		ORDER BY a.appointment_date ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, from, to)
	if err != nil {
		r.logger.Error("failed to query follow-up candidates", zap.Error(err))
		return nil, fmt.Errorf("query follow-up candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*FollowUpCandidate
	for rows.Next() {
		var c FollowUpCandidate
		if err := rows.Scan(
			&c.AppointmentID,
			&c.CustomerID,
			&c.CustomerName,
			&c.Email,
			&c.ServiceType,
			&c.AppointmentDate,
		); err != nil {
			return nil, fmt.Errorf("scan follow-up candidate: %w", err)
		}
		candidates = append(candidates, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return candidates, nil
}

// MarkFeedbackProvided flags the follow-up carrying token. ErrNotFound is
// returned for an unknown token.
func (r *Repository) MarkFeedbackProvided(ctx context.Context, token string) error {
	query := `
		UPDATE followup_emails
		SET feedback_provided = TRUE
		WHERE feedback_token = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, token)
	if err != nil {
		r.logger.Error("failed to record feedback", zap.Error(err))
		return fmt.Errorf("update feedback: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
