package coach

import (
	"github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/foxseedlab/disciplinecall/internal/repository"
	"github.com/foxseedlab/disciplinecall/internal/scheduler"
	"github.com/foxseedlab/disciplinecall/internal/session"
	"github.com/foxseedlab/disciplinecall/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		sched := do.MustInvoke[*scheduler.Scheduler](i)
		manager := do.MustInvoke[*session.Manager](i)
		wh := do.MustInvoke[webhook.Sender](i)

		svc := NewService(cfg, repo, sched, manager, wh)
		sched.SetExhaustionListener(svc)
		return svc, nil
	})
}
