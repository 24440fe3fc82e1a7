package httpserver

import (
	channelimpl "github.com/foxseedlab/disciplinecall/external/channel"
	"github.com/foxseedlab/disciplinecall/internal/coach"
	"github.com/foxseedlab/disciplinecall/internal/config"
	"github.com/foxseedlab/disciplinecall/internal/metrics"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		svc := do.MustInvoke[*coach.Service](i)
		ts := do.MustInvoke[*channelimpl.Transports](i)
		m := do.MustInvoke[*metrics.Metrics](i)

		var twilio TwilioWebhook
		if ts.Telephony != nil {
			twilio = ts.Telephony
		}
		var whatsapp WhatsAppWebhook
		if ts.WhatsApp != nil {
			whatsapp = ts.WhatsApp
		}
		return NewServer(
			cfg.HTTPAddr,
			NewAPIHandler(svc),
			NewWebhookHandler(twilio, whatsapp, cfg.PublicBaseURL),
			m.Handler(),
		), nil
	})
}
