// Package scheduler fires the daily email jobs at their configured local times.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/aftercare/internal/config"
	"github.com/lalithlochan/aftercare/internal/observ"
)

// Job is a named run fired once per slot per local day.
type Job struct {
	Name  string
	Slots []config.TimeOfDay
	Run   func(ctx context.Context) bool
}

// Scheduler polls the clock every tick and fires jobs whose slot has come up.
type Scheduler struct {
	jobs   []Job
	loc    *time.Location
	tick   time.Duration
	grace  time.Duration
	logger *zap.Logger
	now    func() time.Time

	// last local date each job/slot pair fired on
	fired map[string]string
}

// New creates a scheduler. A slot that is missed by more than two ticks (for
// example while the process was down) is not fired late.
func New(loc *time.Location, tick time.Duration, logger *zap.Logger, jobs ...Job) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if tick <= 0 {
		tick = time.Minute
	}
	grace := 2 * tick
	if grace < time.Minute {
		grace = time.Minute
	}
	return &Scheduler{
		jobs:   jobs,
		loc:    loc,
		tick:   tick,
		grace:  grace,
		logger: logger,
		now:    time.Now,
		fired:  make(map[string]string),
	}
}

// Start runs the trigger loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, job := range s.jobs {
		slots := make([]string, 0, len(job.Slots))
		for _, slot := range job.Slots {
			slots = append(slots, slot.String())
		}
		s.logger.Info("job scheduled",
			zap.String("job", job.Name),
			zap.Strings("slots", slots),
			zap.String("timezone", s.loc.String()),
		)
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every job slot that is due and returns how many runs started.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now().In(s.loc)
	today := now.Format("2006-01-02")
	fired := 0

	for _, job := range s.jobs {
		for _, slot := range job.Slots {
			at := slot.On(now, s.loc)
			if now.Before(at) || now.Sub(at) >= s.grace {
				continue
			}
			key := fmt.Sprintf("%s@%s", job.Name, slot)
			if s.fired[key] == today {
				continue
			}
			s.fired[key] = today
			fired++
			s.fire(ctx, job, slot)
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, job Job, slot config.TimeOfDay) {
	logger := s.logger.With(zap.String("job", job.Name), zap.String("slot", slot.String()))
	logger.Info("firing job")

	start := time.Now()
	var ok bool
	err := observ.WrapWithRecovery(ctx, logger, job.Name, func(ctx context.Context) error {
		ok = job.Run(ctx)
		return nil
	})

	switch {
	case err != nil:
		logger.Error("job crashed", zap.Error(err))
	case !ok:
		logger.Warn("job finished with errors", zap.Duration("elapsed", time.Since(start)))
	default:
		logger.Info("job finished", zap.Duration("elapsed", time.Since(start)))
	}
}
