package session

import (
	"github.com/foxseedlab/disciplinecall/internal/channel"
	"github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/foxseedlab/disciplinecall/internal/conversation"
	"github.com/foxseedlab/disciplinecall/internal/metrics"
	"github.com/foxseedlab/disciplinecall/internal/repository"
	"github.com/foxseedlab/disciplinecall/internal/voice"
	"github.com/foxseedlab/disciplinecall/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*conversation.Engine, error) {
		cfg := do.MustInvoke[*config.Config](i)
		gen := do.MustInvoke[conversation.Generator](i)
		prompts, err := conversation.LoadPrompts(cfg.PersonalityPromptsFile)
		if err != nil {
			return nil, err
		}
		return conversation.NewEngine(gen, prompts, cfg.MaxTurns, nil), nil
	})
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		dispatcher := do.MustInvoke[*channel.Dispatcher](i)
		engine := do.MustInvoke[*conversation.Engine](i)
		bridge := do.MustInvoke[*voice.Bridge](i)
		wh := do.MustInvoke[webhook.Sender](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		return NewManager(cfg, repo, dispatcher, engine, bridge, wh, m), nil
	})
}
