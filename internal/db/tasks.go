package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TaskTable gives uniform access to either email task table
type TaskTable struct {
	kind       TaskKind
	maxRetries int
	repo       *Repository
}

// Tasks returns the task table for kind. Tasks whose retry_count has reached
// maxRetries are never returned as due.
func (r *Repository) Tasks(kind TaskKind, maxRetries int) *TaskTable {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &TaskTable{kind: kind, maxRetries: maxRetries, repo: r}
}

// Kind reports which table this is
func (t *TaskTable) Kind() TaskKind {
	return t.kind
}

// Due returns pending tasks with retry budget left and scheduled_at <= now,
// oldest first.
func (t *TaskTable) Due(ctx context.Context, now time.Time) ([]*EmailTask, error) {
	token := "NULL::text, FALSE"
	if t.kind == KindFollowUp {
		token = "e.feedback_token, e.feedback_provided"
	}

	query := fmt.Sprintf(`
		SELECT
			e.id, e.appointment_id, e.customer_id,
			COALESCE(NULLIF(c.name, ''), 'Valued Customer'),
			e.email_address, e.scheduled_at, e.sent_at, e.status,
			e.retry_count, e.error_message, %s, e.created_at
		FROM %s e
		LEFT JOIN customers c ON c.id = e.customer_id
		WHERE e.status = 'pending'
		  AND e.retry_count < $1
		  AND e.scheduled_at <= $2
		ORDER BY e.created_at ASC, e.id ASC
	`, token, t.kind.table())

	rows, err := t.repo.db.Pool().Query(ctx, query, t.maxRetries, now)
	if err != nil {
		t.repo.logger.Error("failed to query due tasks",
			zap.Error(err),
			zap.String("kind", string(t.kind)),
		)
		return nil, fmt.Errorf("query due %s tasks: %w", t.kind, err)
	}
	defer rows.Close()

	var tasks []*EmailTask
	for rows.Next() {
		task := EmailTask{Kind: t.kind}
		var feedbackToken *string
		err := rows.Scan(
			&task.ID,
			&task.AppointmentID,
			&task.CustomerID,
			&task.CustomerName,
			&task.EmailAddress,
			&task.ScheduledAt,
			&task.SentAt,
			&task.Status,
			&task.RetryCount,
			&task.ErrorMessage,
			&feedbackToken,
			&task.FeedbackProvided,
			&task.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan %s task: %w", t.kind, err)
		}
		if feedbackToken != nil {
			task.FeedbackToken = *feedbackToken
		}
		tasks = append(tasks, &task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return tasks, nil
}

// MarkResult sets the task status and error text. sent_at is stamped on every
// outcome, including failed.
func (t *TaskTable) MarkResult(ctx context.Context, id int64, status string, errorMsg *string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, error_message = $2, sent_at = NOW()
		WHERE id = $3
	`, t.kind.table())

	result, err := t.repo.db.Pool().Exec(ctx, query, status, errorMsg, id)
	if err != nil {
		t.repo.logger.Error("failed to update task status",
			zap.Error(err),
			zap.String("kind", string(t.kind)),
			zap.Int64("task_id", id),
		)
		return fmt.Errorf("update %s status: %w", t.kind, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%s task %d: %w", t.kind, id, ErrNotFound)
	}
	return nil
}

// IncrementRetry bumps retry_count by one
func (t *TaskTable) IncrementRetry(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET retry_count = retry_count + 1
		WHERE id = $1
	`, t.kind.table())

	result, err := t.repo.db.Pool().Exec(ctx, query, id)
	if err != nil {
		t.repo.logger.Error("failed to increment retry count",
			zap.Error(err),
			zap.String("kind", string(t.kind)),
			zap.Int64("task_id", id),
		)
		return fmt.Errorf("increment %s retry: %w", t.kind, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%s task %d: %w", t.kind, id, ErrNotFound)
	}
	return nil
}
