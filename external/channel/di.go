package channel

import (
	"context"
	"log/slog"

	"github.com/foxseedlab/disciplinecall/internal/audio"
	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/channel"
	"github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/foxseedlab/disciplinecall/internal/provider"
	"github.com/samber/do/v2"
)

// Transports holds the enabled transports. Fields of disabled channels are nil.
type Transports struct {
	Telephony *TelephonyTransport
	Telegram  *TelegramTransport
	WhatsApp  *WhatsAppTransport
	Discord   *DiscordTransport

	enabled []channel.Transport
}

func (t *Transports) Enabled() []channel.Transport {
	return t.enabled
}

// Start opens the long-lived connections some transports need before sending.
func (t *Transports) Start(ctx context.Context) error {
	if t.Discord != nil {
		if err := t.Discord.Connect(ctx); err != nil {
			return call.NewChannelError("connect discord", err)
		}
	}
	return nil
}

func (t *Transports) Shutdown() {
	if t.Discord != nil {
		if err := t.Discord.Disconnect(); err != nil {
			slog.Error("discord close failed", "error", err)
		}
	}
}

// BuildTransports constructs every channel listed in ENABLED_CHANNELS.
func BuildTransports(c *config.Config, codec audio.Codec, logger *slog.Logger) (*Transports, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ts := &Transports{}
	r := provider.NewRegistry[channel.Transport]("channel")
	r.Register(string(call.ChannelTelephony), func() (channel.Transport, error) {
		ts.Telephony = NewTelephonyTransport(TwilioConfig{
			AccountSID:    c.TwilioAccountSID,
			AuthToken:     c.TwilioAuthToken,
			From:          c.TwilioPhoneNumber,
			PublicBaseURL: c.PublicBaseURL,
			Language:      c.SpeechLanguage,
		}, logger.With("channel", call.ChannelTelephony))
		return ts.Telephony, nil
	})
	r.Register(string(call.ChannelTelegram), func() (channel.Transport, error) {
		ts.Telegram = NewTelegramTransport(c.TelegramBotToken, logger.With("channel", call.ChannelTelegram))
		return ts.Telegram, nil
	})
	r.Register(string(call.ChannelWhatsApp), func() (channel.Transport, error) {
		ts.WhatsApp = NewWhatsAppTransport(c.WhatsAppAPIToken, c.WhatsAppPhoneNumberID, c.WhatsAppVerifyToken, logger.With("channel", call.ChannelWhatsApp))
		return ts.WhatsApp, nil
	})
	r.Register(string(call.ChannelDiscord), func() (channel.Transport, error) {
		ts.Discord = NewDiscordTransport(c.DiscordToken, codec, logger.With("channel", call.ChannelDiscord))
		return ts.Discord, nil
	})

	for _, id := range c.EnabledChannels {
		t, err := r.Build(id)
		if err != nil {
			return nil, err
		}
		ts.enabled = append(ts.enabled, t)
	}
	return ts, nil
}

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Transports, error) {
		c := do.MustInvoke[*config.Config](i)
		codec := do.MustInvoke[audio.Codec](i)
		return BuildTransports(c, codec, slog.Default().With("component", "channel"))
	})
	do.Provide(injector, func(i do.Injector) (*channel.Dispatcher, error) {
		ts := do.MustInvoke[*Transports](i)
		d := channel.NewDispatcher(slog.Default().With("component", "dispatcher"), ts.Enabled()...)
		slog.Info("channels configured", "channels", d.IDs())
		return d, nil
	})
}
