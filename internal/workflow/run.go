// Package workflow runs the two daily email jobs: thank-you and follow-up.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/aftercare/internal/alert"
	"github.com/lalithlochan/aftercare/internal/db"
	"github.com/lalithlochan/aftercare/internal/metrics"
	"github.com/lalithlochan/aftercare/internal/observ"
	"github.com/lalithlochan/aftercare/internal/worker"
)

const (
	ScriptThankYou = "thank_you_emails"
	ScriptFollowUp = "followup_emails"
)

const reportTimeout = 30 * time.Second

// ErrLocked is recorded when another process holds the job lock.
var ErrLocked = errors.New("another run of this job is in progress")

// Sender drains due tasks of one kind.
type Sender interface {
	Drain(ctx context.Context, now time.Time) worker.Stats
}

type ExecutionLogger interface {
	AppendExecutionLog(ctx context.Context, entry *db.ExecutionLog) error
}

type Notifier interface {
	Notify(ctx context.Context, severity alert.Severity, subject, body string)
	NotifySummary(ctx context.Context, s alert.Summary)
}

// Locker guards a job against overlapping runs.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, name string) error
}

// Result holds the counters of one run.
type Result struct {
	Sent                int
	Skipped             int
	Failed              int
	Scheduled           int
	DuplicatesPrevented int
	Errors              []string
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) addSend(s worker.Stats) {
	r.Sent += s.Sent
	r.Skipped += s.Skipped
	r.Failed += s.Failed
	r.Errors = append(r.Errors, s.Errors...)
}

// Options are the collaborators shared by both workflows.
type Options struct {
	ExecLog  ExecutionLogger
	Notifier Notifier
	// Locker is optional.
	Locker  Locker
	LockTTL time.Duration
	Logger  *zap.Logger
}

// envelope is the part of a run both workflows share: lock, panic recovery,
// execution row, summary alert, metrics.
type envelope struct {
	script string
	title  string
	opts   Options
	now    func() time.Time
	logger *zap.Logger
}

func newEnvelope(script, title string, opts Options) envelope {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	return envelope{
		script: script,
		title:  title,
		opts:   opts,
		now:    time.Now,
		logger: opts.Logger.With(zap.String("script", script)),
	}
}

// run executes body and reports true iff it finished with no failed email and
// no recorded error.
func (e *envelope) run(ctx context.Context, body func(ctx context.Context, res *Result) error) (Result, bool) {
	start := e.now()
	e.logger.Info("starting run")

	var res Result

	// reporting must outlive a cancelled run so every run leaves its row
	reportCtx, cancelReport := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancelReport()

	if e.opts.Locker != nil {
		ok, err := e.opts.Locker.TryLock(ctx, e.script, e.opts.LockTTL)
		switch {
		case err != nil:
			e.logger.Error("failed to acquire job lock", zap.Error(err))
			res.addError("acquire job lock: %v", err)
			e.finish(reportCtx, start, &res, db.ExecutionFailed)
			return res, false
		case !ok:
			e.logger.Warn("skipping run, job lock is held")
			res.addError("%v", ErrLocked)
			e.finish(reportCtx, start, &res, db.ExecutionFailed)
			return res, false
		}
		defer func() {
			// the run context may already be cancelled; release with a fresh one
			unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := e.opts.Locker.Unlock(unlockCtx, e.script); err != nil {
				e.logger.Warn("failed to release job lock", zap.Error(err))
			}
		}()
	}

	err := observ.WrapWithRecovery(ctx, e.logger, e.script, func(ctx context.Context) error {
		return body(ctx, &res)
	})
	if err != nil {
		e.logger.Error("fatal error in run", zap.Error(err))
		res.addError("%v", err)
		e.opts.Notifier.Notify(reportCtx, alert.Critical, e.title+" - Fatal Error", err.Error())
		e.finish(reportCtx, start, &res, db.ExecutionFailed)
		return res, false
	}

	success := e.finish(reportCtx, start, &res, db.ExecutionCompleted)
	return res, success
}

// finish writes the execution row, raises the summary alert when needed and
// records metrics.
func (e *envelope) finish(ctx context.Context, start time.Time, res *Result, status string) bool {
	elapsed := e.now().Sub(start)

	entry := &db.ExecutionLog{
		ScriptName:      e.script,
		Status:          status,
		EmailsSent:      res.Sent,
		EmailsSkipped:   res.Skipped,
		EmailsFailed:    res.Failed,
		DurationSeconds: elapsed.Seconds(),
	}
	if len(res.Errors) > 0 {
		joined := strings.Join(res.Errors, "\n")
		entry.ErrorMessage = &joined
	}
	if err := e.opts.ExecLog.AppendExecutionLog(ctx, entry); err != nil {
		e.logger.Warn("failed to record execution", zap.Error(err))
	}

	if status == db.ExecutionCompleted && (res.Failed > 0 || len(res.Errors) > 0) {
		e.opts.Notifier.NotifySummary(ctx, alert.Summary{
			ScriptName: e.title,
			Sent:       res.Sent,
			Skipped:    res.Skipped,
			Failed:     res.Failed,
			Duration:   elapsed,
			Errors:     res.Errors,
		})
	}

	success := status == db.ExecutionCompleted && res.Failed == 0 && len(res.Errors) == 0
	metrics.RecordJobRun(e.script, success, elapsed)

	e.logger.Info("run finished",
		zap.String("status", status),
		zap.Int("sent", res.Sent),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int("scheduled", res.Scheduled),
		zap.Int("duplicates_prevented", res.DuplicatesPrevented),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("elapsed", elapsed),
	)
	return success
}
