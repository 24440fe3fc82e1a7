package scheduler

import (
	"log/slog"

	"github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/foxseedlab/disciplinecall/internal/metrics"
	"github.com/foxseedlab/disciplinecall/internal/session"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Scheduler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		manager := do.MustInvoke[*session.Manager](i)
		s := New(manager, Options{
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff,
			Metrics:    do.MustInvoke[*metrics.Metrics](i),
			Logger:     slog.Default().With("component", "scheduler"),
		})
		manager.SetOutcomeSink(s)
		return s, nil
	})
	do.Provide(injector, func(i do.Injector) (*Runner, error) {
		cfg := do.MustInvoke[*config.Config](i)
		s := do.MustInvoke[*Scheduler](i)
		return NewRunner(s, cfg.SchedulerTickInterval, slog.Default().With("component", "scheduler_runner")), nil
	})
}
