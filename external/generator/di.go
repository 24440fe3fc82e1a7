package generator

import (
	"log/slog"

	"github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/foxseedlab/disciplinecall/internal/conversation"
	"github.com/foxseedlab/disciplinecall/internal/provider"
	"github.com/samber/do/v2"
)

// Registry lists every text-generation backend selectable by GENERATION_PROVIDER.
func Registry(c *config.Config) *provider.Registry[conversation.Generator] {
	r := provider.NewRegistry[conversation.Generator]("generator")
	r.Register("openai", func() (conversation.Generator, error) {
		return NewOpenAIGenerator(c.OpenAIAPIKey, c.OpenAIBaseURL, c.OpenAIModel), nil
	})
	r.Register("local", func() (conversation.Generator, error) {
		return NewLocalGenerator(c.LocalLLMBaseURL, c.LocalLLMModel), nil
	})
	r.Register("canned", func() (conversation.Generator, error) {
		return NewCannedGenerator(), nil
	})
	return r
}

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (conversation.Generator, error) {
		c := do.MustInvoke[*config.Config](i)
		gen, err := Registry(c).Build(c.GenerationProvider)
		if err != nil {
			return nil, err
		}
		slog.Info("generation provider configured", "generation_provider", c.GenerationProvider)
		return gen, nil
	})
}
