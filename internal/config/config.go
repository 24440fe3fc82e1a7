package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
)

type Config struct {
	Env         string
	LogLevel    string
	HTTPAddr    string
	DatabaseURL string

	GenerationProvider string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	LocalLLMBaseURL    string
	LocalLLMModel      string

	TTSProvider                string
	STTProvider                string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	SpeechLanguage             string
	TTSCacheSize               int

	EnabledChannels       []string
	TelegramBotToken      string
	WhatsAppAPIToken      string
	WhatsAppPhoneNumberID string
	WhatsAppVerifyToken   string
	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioPhoneNumber     string
	PublicBaseURL         string
	DiscordToken          string

	SchedulerTickInterval time.Duration
	MaxRetries            int
	RetryBackoff          []time.Duration
	MaxTurns              int
	MaxCallDurationSec    int
	ReplyTimeoutSec       map[call.Kind]int
	GenerationTimeoutSec  int
	VoiceTimeoutSec       int
	SendTimeoutSec        int

	DefaultMorningTime string
	DefaultMiddayTime  string
	DefaultEveningTime string
	DefaultTimezone    string

	PersonalityPromptsFile string
	OutcomeWebhookURL      string
}

var (
	knownGenerationProviders = []string{"openai", "local", "canned"}
	knownVoiceProviders      = []string{"google", "openai", "none"}
	knownChannels            = []string{
		string(call.ChannelTelephony),
		string(call.ChannelTelegram),
		string(call.ChannelWhatsApp),
		string(call.ChannelDiscord),
	}
)

func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return call.NewConfigurationError("validate config", err)
	}
	return nil
}

func (c *Config) validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if !slices.Contains(knownGenerationProviders, c.GenerationProvider) {
		return fmt.Errorf("GENERATION_PROVIDER %q is not one of %v", c.GenerationProvider, knownGenerationProviders)
	}
	if !slices.Contains(knownVoiceProviders, c.TTSProvider) {
		return fmt.Errorf("TTS_PROVIDER %q is not one of %v", c.TTSProvider, knownVoiceProviders)
	}
	if !slices.Contains(knownVoiceProviders, c.STTProvider) {
		return fmt.Errorf("STT_PROVIDER %q is not one of %v", c.STTProvider, knownVoiceProviders)
	}
	if len(c.EnabledChannels) == 0 {
		return fmt.Errorf("ENABLED_CHANNELS must list at least one channel")
	}
	for _, ch := range c.EnabledChannels {
		if !slices.Contains(knownChannels, ch) {
			return fmt.Errorf("ENABLED_CHANNELS contains unknown channel %q", ch)
		}
	}
	if c.SchedulerTickInterval <= 0 {
		return fmt.Errorf("SCHEDULER_TICK_INTERVAL must be positive, got %s", c.SchedulerTickInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.MaxRetries > 0 && len(c.RetryBackoff) == 0 {
		return fmt.Errorf("RETRY_BACKOFF is required when MAX_RETRIES > 0")
	}
	for _, d := range c.RetryBackoff {
		if d <= 0 {
			return fmt.Errorf("RETRY_BACKOFF entries must be positive, got %s", d)
		}
	}
	if c.MaxTurns <= 0 {
		return fmt.Errorf("MAX_TURNS must be positive, got %d", c.MaxTurns)
	}
	if c.MaxCallDurationSec <= 0 {
		return fmt.Errorf("MAX_CALL_DURATION_SEC must be positive, got %d", c.MaxCallDurationSec)
	}
	for kind, sec := range c.ReplyTimeoutSec {
		if sec < 0 {
			return fmt.Errorf("reply timeout for %s must not be negative, got %d", kind, sec)
		}
	}
	if c.GenerationTimeoutSec <= 0 || c.VoiceTimeoutSec <= 0 || c.SendTimeoutSec <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT_SEC, VOICE_TIMEOUT_SEC and SEND_TIMEOUT_SEC must be positive")
	}
	for name, v := range map[string]string{
		"DEFAULT_MORNING_TIME": c.DefaultMorningTime,
		"DEFAULT_MIDDAY_TIME":  c.DefaultMiddayTime,
		"DEFAULT_EVENING_TIME": c.DefaultEveningTime,
	} {
		if _, err := call.ParseTimeOfDay(v); err != nil {
			return fmt.Errorf("%s is invalid: %w", name, err)
		}
	}
	if c.DefaultTimezone != "" && c.DefaultTimezone != "UTC" {
		if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
			return fmt.Errorf("DEFAULT_TIMEZONE is invalid: %w", err)
		}
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

// requiredFieldChecks lists the credentials each selected provider needs.
func (c *Config) requiredFieldChecks() []requiredEnvField {
	checks := []requiredEnvField{
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "HTTP_ADDR", value: c.HTTPAddr},
	}
	switch c.GenerationProvider {
	case "openai":
		checks = append(checks, requiredEnvField{name: "OPENAI_API_KEY", value: c.OpenAIAPIKey})
	case "local":
		checks = append(checks, requiredEnvField{name: "LOCAL_LLM_BASE_URL", value: c.LocalLLMBaseURL})
	}
	if c.TTSProvider == "google" || c.STTProvider == "google" {
		checks = append(checks,
			requiredEnvField{name: "GOOGLE_CLOUD_PROJECT_ID", value: c.GoogleCloudProjectID},
			requiredEnvField{name: "GOOGLE_CLOUD_CREDENTIALS_JSON", value: c.GoogleCloudCredentialsJSON},
		)
	}
	if c.TTSProvider == "openai" || c.STTProvider == "openai" {
		checks = append(checks, requiredEnvField{name: "OPENAI_API_KEY", value: c.OpenAIAPIKey})
	}
	if c.ChannelEnabled(call.ChannelTelegram) {
		checks = append(checks, requiredEnvField{name: "TELEGRAM_BOT_TOKEN", value: c.TelegramBotToken})
	}
	if c.ChannelEnabled(call.ChannelWhatsApp) {
		checks = append(checks,
			requiredEnvField{name: "WHATSAPP_API_TOKEN", value: c.WhatsAppAPIToken},
			requiredEnvField{name: "WHATSAPP_PHONE_NUMBER_ID", value: c.WhatsAppPhoneNumberID},
		)
	}
	if c.ChannelEnabled(call.ChannelTelephony) {
		checks = append(checks,
			requiredEnvField{name: "TWILIO_ACCOUNT_SID", value: c.TwilioAccountSID},
			requiredEnvField{name: "TWILIO_AUTH_TOKEN", value: c.TwilioAuthToken},
			requiredEnvField{name: "TWILIO_PHONE_NUMBER", value: c.TwilioPhoneNumber},
			requiredEnvField{name: "PUBLIC_BASE_URL", value: c.PublicBaseURL},
		)
	}
	if c.ChannelEnabled(call.ChannelDiscord) {
		checks = append(checks, requiredEnvField{name: "DISCORD_TOKEN", value: c.DiscordToken})
	}
	return checks
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) ChannelEnabled(id call.ChannelID) bool {
	return slices.Contains(c.EnabledChannels, string(id))
}

func (c *Config) MaxCallDuration() time.Duration {
	return time.Duration(c.MaxCallDurationSec) * time.Second
}

// ReplyTimeout is the AwaitingResponse window for a call kind; unset kinds use the
// maximum call duration.
func (c *Config) ReplyTimeout(kind call.Kind) time.Duration {
	if sec := c.ReplyTimeoutSec[kind]; sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return c.MaxCallDuration()
}

func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSec) * time.Second
}

func (c *Config) VoiceTimeout() time.Duration {
	return time.Duration(c.VoiceTimeoutSec) * time.Second
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}

// ParseChannelList splits a comma separated channel list, dropping blanks.
func ParseChannelList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
