package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
)

func TestParseBackoff(t *testing.T) {
	got, err := ParseBackoff("5m, 15m,,1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	if _, err := ParseBackoff("5 minutes"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoad_FromDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "DATABASE_URL=sqlite://" + filepath.Join(dir, "calls.db") + "\n" +
		"GENERATION_PROVIDER=canned\n" +
		"ENABLED_CHANNELS=telegram\n" +
		"TELEGRAM_BOT_TOKEN=bot-token\n" +
		"REPLY_TIMEOUT_MIDDAY_SEC=90\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	// Keep process values from leaking in; godotenv does not override set variables.
	for _, key := range []string{"DATABASE_URL", "GENERATION_PROVIDER", "ENABLED_CHANNELS", "TELEGRAM_BOT_TOKEN", "REPLY_TIMEOUT_MIDDAY_SEC"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GenerationProvider != "canned" {
		t.Fatalf("unexpected provider: %s", cfg.GenerationProvider)
	}
	if cfg.MaxRetries != 2 || len(cfg.RetryBackoff) != 2 {
		t.Fatalf("unexpected retry defaults: %d %v", cfg.MaxRetries, cfg.RetryBackoff)
	}
	if cfg.ReplyTimeout(call.KindMidday) != 90*time.Second {
		t.Fatalf("unexpected midday reply timeout: %s", cfg.ReplyTimeout(call.KindMidday))
	}
	if cfg.ReplyTimeout(call.KindMorning) != 300*time.Second {
		t.Fatalf("unexpected morning reply timeout: %s", cfg.ReplyTimeout(call.KindMorning))
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if !errors.Is(err, call.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
