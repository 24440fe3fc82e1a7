package channel

import (
	"errors"
	"testing"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/config"
)

func TestBuildTransports_OnlyEnabledChannels(t *testing.T) {
	ts, err := BuildTransports(&config.Config{
		EnabledChannels:  []string{"whatsapp", "telegram"},
		TelegramBotToken: "t",
		WhatsAppAPIToken: "w",
	}, unavailableCodec{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Telegram == nil || ts.WhatsApp == nil || ts.Telephony != nil || ts.Discord != nil {
		t.Fatalf("unexpected transports: %+v", ts)
	}
	enabled := ts.Enabled()
	if len(enabled) != 2 || enabled[0].ID() != call.ChannelWhatsApp || enabled[1].ID() != call.ChannelTelegram {
		t.Fatalf("unexpected enabled order: %v", enabled)
	}
}

func TestBuildTransports_UnknownChannel(t *testing.T) {
	_, err := BuildTransports(&config.Config{EnabledChannels: []string{"sms"}}, unavailableCodec{}, nil)
	if !errors.Is(err, call.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
