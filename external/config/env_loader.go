package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/foxseedlab/disciplinecall/internal/call"
	internalconfig "github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env         string `env:"ENV" envDefault:"production"`
	LogLevel    string `env:"LOG_LEVEL"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	GenerationProvider string `env:"GENERATION_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey       string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL      string `env:"OPENAI_BASE_URL"`
	OpenAIModel        string `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	LocalLLMBaseURL    string `env:"LOCAL_LLM_BASE_URL"`
	LocalLLMModel      string `env:"LOCAL_LLM_MODEL" envDefault:"llama2"`

	TTSProvider                string `env:"TTS_PROVIDER" envDefault:"none"`
	STTProvider                string `env:"STT_PROVIDER" envDefault:"none"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"us-central1"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`
	SpeechLanguage             string `env:"SPEECH_LANGUAGE" envDefault:"en-US"`
	TTSCacheSize               int    `env:"TTS_CACHE_SIZE" envDefault:"128"`

	EnabledChannels       string `env:"ENABLED_CHANNELS" envDefault:"telegram"`
	TelegramBotToken      string `env:"TELEGRAM_BOT_TOKEN"`
	WhatsAppAPIToken      string `env:"WHATSAPP_API_TOKEN"`
	WhatsAppPhoneNumberID string `env:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppVerifyToken   string `env:"WHATSAPP_VERIFY_TOKEN"`
	TwilioAccountSID      string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken       string `env:"TWILIO_AUTH_TOKEN"`
	TwilioPhoneNumber     string `env:"TWILIO_PHONE_NUMBER"`
	PublicBaseURL         string `env:"PUBLIC_BASE_URL"`
	DiscordToken          string `env:"DISCORD_TOKEN"`

	SchedulerTickInterval time.Duration `env:"SCHEDULER_TICK_INTERVAL" envDefault:"30s"`
	MaxRetries            int           `env:"MAX_RETRIES" envDefault:"2"`
	RetryBackoff          string        `env:"RETRY_BACKOFF" envDefault:"5m,15m"`
	MaxTurns              int           `env:"MAX_TURNS" envDefault:"6"`
	MaxCallDurationSec    int           `env:"MAX_CALL_DURATION_SEC" envDefault:"300"`
	ReplyTimeoutMorning   int           `env:"REPLY_TIMEOUT_MORNING_SEC" envDefault:"0"`
	ReplyTimeoutMidday    int           `env:"REPLY_TIMEOUT_MIDDAY_SEC" envDefault:"0"`
	ReplyTimeoutEvening   int           `env:"REPLY_TIMEOUT_EVENING_SEC" envDefault:"0"`
	ReplyTimeoutUrgent    int           `env:"REPLY_TIMEOUT_URGENT_SEC" envDefault:"0"`
	ReplyTimeoutFollowup  int           `env:"REPLY_TIMEOUT_FOLLOWUP_SEC" envDefault:"0"`
	GenerationTimeoutSec  int           `env:"GENERATION_TIMEOUT_SEC" envDefault:"30"`
	VoiceTimeoutSec       int           `env:"VOICE_TIMEOUT_SEC" envDefault:"30"`
	SendTimeoutSec        int           `env:"SEND_TIMEOUT_SEC" envDefault:"20"`

	DefaultMorningTime string `env:"DEFAULT_MORNING_TIME" envDefault:"08:00"`
	DefaultMiddayTime  string `env:"DEFAULT_MIDDAY_TIME" envDefault:"13:00"`
	DefaultEveningTime string `env:"DEFAULT_EVENING_TIME" envDefault:"20:00"`
	DefaultTimezone    string `env:"DEFAULT_TIMEZONE" envDefault:"UTC"`

	PersonalityPromptsFile string `env:"PERSONALITY_PROMPTS_FILE"`
	OutcomeWebhookURL      string `env:"OUTCOME_WEBHOOK_URL"`
}

// Load reads an optional dotenv file (ENV_FILE, default .env) and then the process
// environment. Variables already set in the environment win over the file.
func Load() (*internalconfig.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, call.NewConfigurationError("load dotenv", err)
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, call.NewConfigurationError("parse environment", fmt.Errorf("environment variables are invalid or missing: %w", err))
	}

	backoff, err := ParseBackoff(raw.RetryBackoff)
	if err != nil {
		return nil, call.NewConfigurationError("parse environment", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		LogLevel:                   raw.LogLevel,
		HTTPAddr:                   raw.HTTPAddr,
		DatabaseURL:                raw.DatabaseURL,
		GenerationProvider:         raw.GenerationProvider,
		OpenAIAPIKey:               raw.OpenAIAPIKey,
		OpenAIBaseURL:              raw.OpenAIBaseURL,
		OpenAIModel:                raw.OpenAIModel,
		LocalLLMBaseURL:            raw.LocalLLMBaseURL,
		LocalLLMModel:              raw.LocalLLMModel,
		TTSProvider:                raw.TTSProvider,
		STTProvider:                raw.STTProvider,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		SpeechLanguage:             raw.SpeechLanguage,
		TTSCacheSize:               raw.TTSCacheSize,
		EnabledChannels:            internalconfig.ParseChannelList(raw.EnabledChannels),
		TelegramBotToken:           raw.TelegramBotToken,
		WhatsAppAPIToken:           raw.WhatsAppAPIToken,
		WhatsAppPhoneNumberID:      raw.WhatsAppPhoneNumberID,
		WhatsAppVerifyToken:        raw.WhatsAppVerifyToken,
		TwilioAccountSID:           raw.TwilioAccountSID,
		TwilioAuthToken:            raw.TwilioAuthToken,
		TwilioPhoneNumber:          raw.TwilioPhoneNumber,
		PublicBaseURL:              strings.TrimRight(raw.PublicBaseURL, "/"),
		DiscordToken:               raw.DiscordToken,
		SchedulerTickInterval:      raw.SchedulerTickInterval,
		MaxRetries:                 raw.MaxRetries,
		RetryBackoff:               backoff,
		MaxTurns:                   raw.MaxTurns,
		MaxCallDurationSec:         raw.MaxCallDurationSec,
		ReplyTimeoutSec: map[call.Kind]int{
			call.KindMorning:  raw.ReplyTimeoutMorning,
			call.KindMidday:   raw.ReplyTimeoutMidday,
			call.KindEvening:  raw.ReplyTimeoutEvening,
			call.KindUrgent:   raw.ReplyTimeoutUrgent,
			call.KindFollowup: raw.ReplyTimeoutFollowup,
		},
		GenerationTimeoutSec:   raw.GenerationTimeoutSec,
		VoiceTimeoutSec:        raw.VoiceTimeoutSec,
		SendTimeoutSec:         raw.SendTimeoutSec,
		DefaultMorningTime:     raw.DefaultMorningTime,
		DefaultMiddayTime:      raw.DefaultMiddayTime,
		DefaultEveningTime:     raw.DefaultEveningTime,
		DefaultTimezone:        raw.DefaultTimezone,
		PersonalityPromptsFile: raw.PersonalityPromptsFile,
		OutcomeWebhookURL:      raw.OutcomeWebhookURL,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ParseBackoff parses a comma separated list of durations such as "5m,15m".
func ParseBackoff(raw string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("RETRY_BACKOFF entry %q is invalid: %w", part, err)
		}
		out = append(out, d)
	}
	return out, nil
}
