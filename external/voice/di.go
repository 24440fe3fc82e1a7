package voice

import (
	"context"
	"log/slog"

	"github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/foxseedlab/disciplinecall/internal/provider"
	"github.com/foxseedlab/disciplinecall/internal/voice"
	"github.com/samber/do/v2"
)

const ProviderNone = "none"

func googleConfig(c *config.Config) GoogleConfig {
	return GoogleConfig{
		ProjectID:       c.GoogleCloudProjectID,
		CredentialsJSON: c.GoogleCloudCredentialsJSON,
		Language:        c.SpeechLanguage,
		Location:        c.GoogleCloudSpeechLocation,
		Model:           c.GoogleCloudSpeechModel,
	}
}

func openAIConfig(c *config.Config) OpenAIConfig {
	return OpenAIConfig{APIKey: c.OpenAIAPIKey, BaseURL: c.OpenAIBaseURL, Language: c.SpeechLanguage}
}

// SynthesizerRegistry lists every text-to-speech backend selectable by TTS_PROVIDER.
func SynthesizerRegistry(ctx context.Context, c *config.Config) *provider.Registry[voice.Synthesizer] {
	r := provider.NewRegistry[voice.Synthesizer]("synthesizer")
	r.Register("google", func() (voice.Synthesizer, error) {
		s, err := NewGoogleSynthesizer(ctx, googleConfig(c))
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	r.Register("openai", func() (voice.Synthesizer, error) {
		return NewOpenAISynthesizer(openAIConfig(c)), nil
	})
	r.Register(ProviderNone, func() (voice.Synthesizer, error) {
		return nil, nil
	})
	return r
}

// RecognizerRegistry lists every speech-to-text backend selectable by STT_PROVIDER.
func RecognizerRegistry(ctx context.Context, c *config.Config) *provider.Registry[voice.Recognizer] {
	r := provider.NewRegistry[voice.Recognizer]("recognizer")
	r.Register("google", func() (voice.Recognizer, error) {
		rec, err := NewGoogleSpeechRecognizer(ctx, googleConfig(c))
		if err != nil {
			return nil, err
		}
		return rec, nil
	})
	r.Register("openai", func() (voice.Recognizer, error) {
		return NewOpenAIRecognizer(openAIConfig(c)), nil
	})
	r.Register(ProviderNone, func() (voice.Recognizer, error) {
		return nil, nil
	})
	return r
}

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*voice.Bridge, error) {
		c := do.MustInvoke[*config.Config](i)
		ctx := context.Background()

		synth, err := SynthesizerRegistry(ctx, c).Build(c.TTSProvider)
		if err != nil {
			return nil, err
		}
		recog, err := RecognizerRegistry(ctx, c).Build(c.STTProvider)
		if err != nil {
			return nil, err
		}
		slog.Info("voice providers configured", "tts_provider", c.TTSProvider, "stt_provider", c.STTProvider)
		return voice.NewBridge(synth, recog, c.TTSCacheSize, slog.Default().With("component", "voice"))
	})
}
