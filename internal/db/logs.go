package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AppendDeliveryLog records one send attempt. Rows are never updated.
func (r *Repository) AppendDeliveryLog(ctx context.Context, entry *DeliveryLog) error {
	query := `
		INSERT INTO email_logs (
			email_address, email_type, subject, status,
			appointment_id, error_message
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, sent_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		entry.EmailAddress,
		entry.EmailType,
		entry.Subject,
		entry.Status,
		entry.AppointmentID,
		entry.ErrorMessage,
	).Scan(&entry.ID, &entry.SentAt)
	if err != nil {
		r.logger.Error("failed to append delivery log",
			zap.Error(err),
			zap.String("email_type", entry.EmailType),
		)
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

// AppendExecutionLog records the outcome of one workflow run
func (r *Repository) AppendExecutionLog(ctx context.Context, entry *ExecutionLog) error {
	query := `
		INSERT INTO script_logs (
			script_name, status, emails_sent, emails_skipped,
			emails_failed, error_message, execution_time_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, execution_date
	`

	err := r.db.Pool().QueryRow(ctx, query,
		entry.ScriptName,
		entry.Status,
		entry.EmailsSent,
		entry.EmailsSkipped,
		entry.EmailsFailed,
		entry.ErrorMessage,
		entry.DurationSeconds,
	).Scan(&entry.ID, &entry.ExecutedAt)
	if err != nil {
		r.logger.Error("failed to append execution log",
			zap.Error(err),
			zap.String("script_name", entry.ScriptName),
		)
		return fmt.Errorf("insert script log: %w", err)
	}
	return nil
}

// Counts returns row totals and backlog per task table
func (r *Repository) Counts(ctx context.Context) (*StatusCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM customers),
			(SELECT COUNT(*) FROM appointments),
			(SELECT COUNT(*) FROM thank_you_emails WHERE status = 'pending'),
			(SELECT COUNT(*) FROM thank_you_emails WHERE status = 'failed'),
			(SELECT COUNT(*) FROM followup_emails WHERE status = 'pending'),
			(SELECT COUNT(*) FROM followup_emails WHERE status = 'failed'),
			pg_database_size(current_database())
	`

	var c StatusCounts
	err := r.db.Pool().QueryRow(ctx, query).Scan(
		&c.Customers,
		&c.Appointments,
		&c.ThankYouPending,
		&c.ThankYouFailed,
		&c.FollowUpPending,
		&c.FollowUpFailed,
		&c.DatabaseBytes,
	)
	if err != nil {
		r.logger.Error("failed to load status counts", zap.Error(err))
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	return &c, nil
}

// RecentExecutions returns the newest execution rows first
func (r *Repository) RecentExecutions(ctx context.Context, limit int) ([]*ExecutionLog, error) {
	query := `
		SELECT
			id, script_name, execution_date, status,
			emails_sent, emails_skipped, emails_failed,
			error_message, execution_time_seconds
		FROM script_logs
		ORDER BY execution_date DESC, id DESC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query script logs: %w", err)
	}
	defer rows.Close()

	var logs []*ExecutionLog
	for rows.Next() {
		var e ExecutionLog
		if err := rows.Scan(
			&e.ID,
			&e.ScriptName,
			&e.ExecutedAt,
			&e.Status,
			&e.EmailsSent,
			&e.EmailsSkipped,
			&e.EmailsFailed,
			&e.ErrorMessage,
			&e.DurationSeconds,
		); err != nil {
			return nil, fmt.Errorf("scan script log: %w", err)
		}
		logs = append(logs, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return logs, nil
}

// RecentDeliveries returns the newest delivery log rows first
func (r *Repository) RecentDeliveries(ctx context.Context, limit int) ([]*DeliveryLog, error) {
	query := `
		SELECT
			id, email_address, email_type, subject, status,
			appointment_id, sent_at, error_message
		FROM email_logs
		ORDER BY sent_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query email logs: %w", err)
	}
	defer rows.Close()

	var logs []*DeliveryLog
	for rows.Next() {
		var d DeliveryLog
		if err := rows.Scan(
			&d.ID,
			&d.EmailAddress,
			&d.EmailType,
			&d.Subject,
			&d.Status,
			&d.AppointmentID,
			&d.SentAt,
			&d.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan email log: %w", err)
		}
		logs = append(logs, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return logs, nil
}

// FailureReport summarises deliveries since the given time with the topN most
// frequent error messages.
func (r *Repository) FailureReport(ctx context.Context, since time.Time, topN int) (*FailureReport, error) {
	report := &FailureReport{Since: since}

	totals := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM email_logs
		WHERE sent_at >= $1
	`
	if err := r.db.Pool().QueryRow(ctx, totals, since).Scan(&report.Total, &report.Sent, &report.Failed); err != nil {
		r.logger.Error("failed to load delivery totals", zap.Error(err))
		return nil, fmt.Errorf("query delivery totals: %w", err)
	}

	top := `
		SELECT error_message, COUNT(*) AS n
		FROM email_logs
		WHERE sent_at >= $1 AND status = 'failed' AND error_message IS NOT NULL
		GROUP BY error_message
		ORDER BY n DESC, error_message ASC
		LIMIT $2
	`
	rows, err := r.db.Pool().Query(ctx, top, since, topN)
	if err != nil {
		return nil, fmt.Errorf("query top errors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ec ErrorCount
		if err := rows.Scan(&ec.Message, &ec.Count); err != nil {
			return nil, fmt.Errorf("scan top error: %w", err)
		}
		report.TopErrors = append(report.TopErrors, ec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return report, nil
}

// ScriptStats aggregates execution rows for script since the given time
func (r *Repository) ScriptStats(ctx context.Context, script string, since time.Time) (*ScriptStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(emails_sent), 0),
			COALESCE(SUM(emails_skipped), 0),
			COALESCE(SUM(emails_failed), 0),
			COALESCE(AVG(execution_time_seconds), 0)
		FROM script_logs
		WHERE script_name = $1 AND execution_date >= $2
	`

	stats := &ScriptStats{ScriptName: script}
	err := r.db.Pool().QueryRow(ctx, query, script, since).Scan(
		&stats.Runs,
		&stats.EmailsSent,
		&stats.EmailsSkipped,
		&stats.EmailsFailed,
		&stats.AvgDurationSecs,
	)
	if err != nil {
		r.logger.Error("failed to load script stats",
			zap.Error(err),
			zap.String("script_name", script),
		)
		return nil, fmt.Errorf("query script stats: %w", err)
	}
	return stats, nil
}
