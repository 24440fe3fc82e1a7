package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

type TwilioWebhook interface {
	HandleGather(handle, speechResult string) ([]byte, bool)
	HoldTwiML(handle string) []byte
	Audio(handle string, seq int) ([]byte, bool)
	ValidateSignature(fullURL string, params url.Values, signature string) bool
}

type WhatsAppWebhook interface {
	Verify(mode, token, challenge string) (string, error)
	HandleWebhook(ctx context.Context, body []byte) (int, error)
}

// WebhookHandler receives inbound channel traffic. Nil transports leave their routes
// unregistered.
type WebhookHandler struct {
	twilio        TwilioWebhook
	whatsapp      WhatsAppWebhook
	publicBaseURL string
	logger        *slog.Logger
}

func NewWebhookHandler(twilio TwilioWebhook, whatsapp WhatsAppWebhook, publicBaseURL string) *WebhookHandler {
	return &WebhookHandler{
		twilio:        twilio,
		whatsapp:      whatsapp,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        slog.Default().With("component", "webhooks"),
	}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	if h.twilio != nil {
		r.Post("/webhooks/twilio/{handle}", h.twilioGather)
		r.Post("/webhooks/twilio/{handle}/hold", h.twilioHold)
		r.Get("/webhooks/twilio/{handle}/audio/{seq}", h.twilioAudio)
	}
	if h.whatsapp != nil {
		r.Get("/webhooks/whatsapp", h.whatsAppVerify)
		r.Post("/webhooks/whatsapp", h.whatsAppInbound)
	}
}

func (h *WebhookHandler) twilioGather(w http.ResponseWriter, r *http.Request) {
	if !h.twilioAuthorized(w, r) {
		return
	}
	handle := chi.URLParam(r, "handle")
	twiml, ok := h.twilio.HandleGather(handle, r.PostForm.Get("SpeechResult"))
	if !ok {
		h.logger.Info("gather callback for a closed call", "handle", handle)
	}
	writeTwiML(w, twiml)
}

func (h *WebhookHandler) twilioHold(w http.ResponseWriter, r *http.Request) {
	if !h.twilioAuthorized(w, r) {
		return
	}
	writeTwiML(w, h.twilio.HoldTwiML(chi.URLParam(r, "handle")))
}

func (h *WebhookHandler) twilioAudio(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil {
		Error(w, http.StatusNotFound, "unknown audio")
		return
	}
	data, ok := h.twilio.Audio(chi.URLParam(r, "handle"), seq)
	if !ok {
		Error(w, http.StatusNotFound, "unknown audio")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (h *WebhookHandler) twilioAuthorized(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		Error(w, http.StatusBadRequest, "invalid form body")
		return false
	}
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || !h.twilio.ValidateSignature(h.publicBaseURL+r.URL.RequestURI(), r.PostForm, signature) {
		h.logger.Warn("rejected twilio webhook with invalid signature", "path", r.URL.Path)
		Error(w, http.StatusForbidden, "invalid signature")
		return false
	}
	return true
}

func (h *WebhookHandler) whatsAppVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := h.whatsapp.Verify(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if err != nil {
		Error(w, http.StatusForbidden, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(challenge))
}

func (h *WebhookHandler) whatsAppInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "failed to read body")
		return
	}
	n, err := h.whatsapp.HandleWebhook(r.Context(), body)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Debug("whatsapp webhook processed", "delivered", n)
	w.WriteHeader(http.StatusOK)
}

func writeTwiML(w http.ResponseWriter, twiml []byte) {
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(twiml)
}
