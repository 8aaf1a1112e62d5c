// Package worker drains due email tasks in throttled batches with bounded retry.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/aftercare/internal/db"
	"github.com/lalithlochan/aftercare/internal/mail"
	"github.com/lalithlochan/aftercare/internal/metrics"
)

// TaskStore is one email task table.
type TaskStore interface {
	Kind() db.TaskKind
	Due(ctx context.Context, now time.Time) ([]*db.EmailTask, error)
	MarkResult(ctx context.Context, id int64, status string, errorMsg *string) error
	IncrementRetry(ctx context.Context, id int64) error
}

// DeliveryLogger receives one audit row per send attempt.
type DeliveryLogger interface {
	AppendDeliveryLog(ctx context.Context, entry *db.DeliveryLog) error
}

// Composer renders the message for a task.
type Composer func(task *db.EmailTask) (mail.Message, error)

type Config struct {
	BatchSize  int
	BatchDelay time.Duration
	MaxRetries int
}

// Stats are the totals of one drain.
type Stats struct {
	Due     int
	Sent    int
	Skipped int
	Failed  int
	Batches int
	Errors  []string
}

// BatchSender sends every due task of one kind. It is instantiated once per
// task table; the only difference between kinds is the store and composer.
type BatchSender struct {
	store   TaskStore
	logs    DeliveryLogger
	gateway mail.Gateway
	compose Composer
	config  Config
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(store TaskStore, logs DeliveryLogger, gateway mail.Gateway, compose Composer, cfg Config, logger *zap.Logger) *BatchSender {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &BatchSender{
		store:   store,
		logs:    logs,
		gateway: gateway,
		compose: compose,
		config:  cfg,
		logger:  logger.With(zap.String("kind", string(store.Kind()))),
		sleep:   sleepCtx,
	}
}

// SetSleep replaces the pause between batches.
func (b *BatchSender) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	b.sleep = fn
}

// Drain fetches every task due at now and sends them in order, pausing
// between consecutive batches. Per-task failures never stop the drain; a
// cancelled context does, leaving the rest pending for the next run.
func (b *BatchSender) Drain(ctx context.Context, now time.Time) Stats {
	var stats Stats
	kind := string(b.store.Kind())

	tasks, err := b.store.Due(ctx, now)
	if err != nil {
		b.logger.Error("failed to load due tasks", zap.Error(err))
		stats.Errors = append(stats.Errors, fmt.Sprintf("load due %s tasks: %v", kind, err))
		return stats
	}
	stats.Due = len(tasks)
	if len(tasks) == 0 {
		b.logger.Info("no due tasks")
		return stats
	}

	total := (len(tasks) + b.config.BatchSize - 1) / b.config.BatchSize
	b.logger.Info("sending due tasks",
		zap.Int("due", len(tasks)),
		zap.Int("batches", total),
		zap.Int("batch_size", b.config.BatchSize),
	)

drain:
	for start := 0; start < len(tasks); start += b.config.BatchSize {
		end := min(start+b.config.BatchSize, len(tasks))
		batch := tasks[start:end]
		stats.Batches++

		b.logger.Info("processing batch",
			zap.Int("batch", stats.Batches),
			zap.Int("of", total),
			zap.Int("size", len(batch)),
		)

		for i, task := range batch {
			if err := ctx.Err(); err != nil {
				b.interrupted(&stats, len(tasks)-start-i, err)
				break drain
			}
			switch b.sendOne(ctx, task, &stats) {
			case db.StatusSent:
				stats.Sent++
			case db.StatusFailed:
				stats.Failed++
			default:
				stats.Skipped++
			}
		}
		metrics.RecordBatch(kind)

		if end < len(tasks) {
			if err := b.sleep(ctx, b.config.BatchDelay); err != nil {
				b.interrupted(&stats, len(tasks)-end, err)
				break
			}
		}
	}

	b.logger.Info("send phase finished",
		zap.Int("sent", stats.Sent),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats
}

// interrupted records a cancelled drain. Unsent tasks stay pending.
func (b *BatchSender) interrupted(stats *Stats, remaining int, err error) {
	b.logger.Warn("send phase interrupted", zap.Int("remaining", remaining), zap.Error(err))
	stats.Errors = append(stats.Errors, fmt.Sprintf("send phase interrupted with %d %s tasks remaining", remaining, b.store.Kind()))
}

// sendOne attempts delivery and applies the retry rule. It returns the
// outcome: sent, failed (terminal) or pending (will retry next run).
func (b *BatchSender) sendOne(ctx context.Context, task *db.EmailTask, stats *Stats) string {
	kind := string(b.store.Kind())

	msg, err := b.compose(task)
	if err == nil {
		err = b.gateway.Send(ctx, msg)
	}

	if err == nil {
		if markErr := b.store.MarkResult(ctx, task.ID, db.StatusSent, nil); markErr != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("mark %s task %d sent: %v", kind, task.ID, markErr))
		}
		b.appendLog(ctx, task, msg.Subject, db.StatusSent, nil)
		metrics.RecordEmailProcessed(kind, db.StatusSent)
		b.logger.Info("email sent", zap.Int64("task_id", task.ID), zap.String("to", task.EmailAddress))
		return db.StatusSent
	}

	errMsg := err.Error()
	b.logger.Warn("email send failed",
		zap.Int64("task_id", task.ID),
		zap.String("to", task.EmailAddress),
		zap.Int("retry_count", task.RetryCount),
		zap.Error(err),
	)

	if incErr := b.store.IncrementRetry(ctx, task.ID); incErr != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("increment retry for %s task %d: %v", kind, task.ID, incErr))
	}
	b.appendLog(ctx, task, msg.Subject, db.StatusFailed, &errMsg)

	// RetryCount is the value before this attempt's increment.
	if task.RetryCount < b.config.MaxRetries-1 {
		metrics.RecordEmailProcessed(kind, "skipped")
		return db.StatusPending
	}

	if markErr := b.store.MarkResult(ctx, task.ID, db.StatusFailed, &errMsg); markErr != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("mark %s task %d failed: %v", kind, task.ID, markErr))
	}
	metrics.RecordEmailProcessed(kind, db.StatusFailed)
	b.logger.Error("email task failed permanently",
		zap.Int64("task_id", task.ID),
		zap.Int("attempts", task.RetryCount+1),
		zap.String("error", errMsg),
	)
	return db.StatusFailed
}

// appendLog is best effort; audit failures are logged and ignored.
func (b *BatchSender) appendLog(ctx context.Context, task *db.EmailTask, subject, status string, errMsg *string) {
	apptID := task.AppointmentID
	entry := &db.DeliveryLog{
		EmailAddress:  task.EmailAddress,
		EmailType:     string(b.store.Kind()),
		Subject:       subject,
		Status:        status,
		AppointmentID: &apptID,
		ErrorMessage:  errMsg,
	}
	if err := b.logs.AppendDeliveryLog(ctx, entry); err != nil {
		b.logger.Warn("failed to append delivery log", zap.Int64("task_id", task.ID), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
