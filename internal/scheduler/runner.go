package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner drives Scheduler.Tick from a cron job at a fixed interval. Overlapping ticks
// are skipped rather than queued.
type Runner struct {
	scheduler *Scheduler
	interval  time.Duration
	logger    *slog.Logger
}

func NewRunner(s *Scheduler, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Runner{scheduler: s, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled and then waits for an in-flight tick to return.
func (r *Runner) Run(ctx context.Context) error {
	cl := cronLogger{logger: r.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	schedule := fmt.Sprintf("@every %s", r.interval)
	if _, err := c.AddFunc(schedule, func() {
		if n := r.scheduler.Tick(ctx, r.scheduler.Now()); n > 0 {
			r.logger.Debug("scheduler tick", "fired", n)
		}
	}); err != nil {
		return fmt.Errorf("failed to add scheduler tick job: %w", err)
	}

	c.Start()
	r.logger.Info("scheduler runner started", "schedule", schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("scheduler runner stopped")
	return nil
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
