package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/channel"
	"github.com/foxseedlab/disciplinecall/internal/voice"
	"github.com/go-resty/resty/v2"
)

const (
	whatsAppAPIBase = "https://graph.facebook.com/v20.0"
	whatsAppTimeout = 15 * time.Second
)

// ErrVerifyTokenMismatch is returned when a webhook verification request carries the
// wrong token.
var ErrVerifyTokenMismatch = errors.New("whatsapp: verify token mismatch")

type whatsAppError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// WhatsAppWebhook is the subset of the Cloud API webhook body the transport reads.
type WhatsAppWebhook struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []WhatsAppMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type WhatsAppMessage struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio *struct {
		ID string `json:"id"`
	} `json:"audio"`
}

// WhatsAppTransport sends text messages through the WhatsApp Cloud API and receives
// replies on the /webhooks/whatsapp endpoint.
type WhatsAppTransport struct {
	phoneNumberID string
	verifyToken   string
	client        *resty.Client
	convs         *conversations
	logger        *slog.Logger
}

func NewWhatsAppTransport(token, phoneNumberID, verifyToken string, logger *slog.Logger) *WhatsAppTransport {
	return newWhatsAppTransport(whatsAppAPIBase, token, phoneNumberID, verifyToken, logger)
}

func newWhatsAppTransport(apiBase, token, phoneNumberID, verifyToken string, logger *slog.Logger) *WhatsAppTransport {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiBase, "/")).
		SetTimeout(whatsAppTimeout).
		SetAuthToken(token)
	return &WhatsAppTransport{
		phoneNumberID: phoneNumberID,
		verifyToken:   verifyToken,
		client:        client,
		convs:         newConversations(logger),
		logger:        logger,
	}
}

func (w *WhatsAppTransport) ID() call.ChannelID {
	return call.ChannelWhatsApp
}

func (w *WhatsAppTransport) Capabilities() channel.Capabilities {
	return channel.Capabilities{
		TextOut:     true,
		TextIn:      true,
		VoiceIn:     true,
		AudioFormat: voice.FormatOggOpus,
	}
}

func (w *WhatsAppTransport) Send(ctx context.Context, recipient string, payload channel.Payload) (channel.Handle, error) {
	to := normalizePhone(recipient)
	if to == "" {
		return channel.Handle{}, call.NewConfigurationError("whatsapp send", fmt.Errorf("recipient %q is not a phone number", recipient))
	}
	id, fresh, err := w.convs.open(to, payload.Conversation)
	if err != nil {
		return channel.Handle{}, err
	}

	var apiErr whatsAppError
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              "text",
			"text":              map[string]string{"body": payload.Text},
		}).
		SetError(&apiErr).
		Post("/" + w.phoneNumberID + "/messages")
	if err == nil && resp.IsError() {
		err = fmt.Errorf("status %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}
	if err != nil {
		if fresh {
			w.convs.close(id)
		}
		return channel.Handle{}, fmt.Errorf("whatsapp send: %w", err)
	}
	return channel.Handle{Channel: call.ChannelWhatsApp, ID: id, Recipient: to}, nil
}

func (w *WhatsAppTransport) AwaitReply(ctx context.Context, h channel.Handle, timeout time.Duration) (channel.Reply, error) {
	return w.convs.wait(ctx, h.ID, timeout)
}

func (w *WhatsAppTransport) Close(_ context.Context, h channel.Handle) error {
	w.convs.close(h.ID)
	return nil
}

// Verify answers the webhook subscription handshake and returns the challenge to echo.
func (w *WhatsAppTransport) Verify(mode, token, challenge string) (string, error) {
	if mode != "subscribe" || w.verifyToken == "" || token != w.verifyToken {
		return "", ErrVerifyTokenMismatch
	}
	return challenge, nil
}

// HandleWebhook routes the messages of one webhook body to their conversations and
// returns how many were delivered.
func (w *WhatsAppTransport) HandleWebhook(ctx context.Context, body []byte) (int, error) {
	var hook WhatsAppWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return 0, fmt.Errorf("decode whatsapp webhook: %w", err)
	}
	delivered := 0
	for _, entry := range hook.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if w.handleMessage(ctx, msg) {
					delivered++
				}
			}
		}
	}
	return delivered, nil
}

func (w *WhatsAppTransport) handleMessage(ctx context.Context, msg WhatsAppMessage) bool {
	from := normalizePhone(msg.From)
	if _, ok := w.convs.handleFor(from); !ok {
		w.logger.Debug("ignoring whatsapp message outside a call", "from", from)
		return false
	}
	reply := channel.Reply{ReceivedAt: time.Now()}
	switch {
	case msg.Text != nil:
		reply.Text = strings.TrimSpace(msg.Text.Body)
	case msg.Audio != nil:
		data, err := w.downloadMedia(ctx, msg.Audio.ID)
		if err != nil {
			w.logger.Warn("failed to download whatsapp audio", "from", from, "error", err)
			return false
		}
		reply.Audio = data
		reply.Format = voice.FormatOggOpus
	default:
		w.logger.Debug("ignoring unsupported whatsapp message", "type", msg.Type)
		return false
	}
	return w.convs.deliverTo(from, reply)
}

func (w *WhatsAppTransport) downloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	var media struct {
		URL string `json:"url"`
	}
	resp, err := w.client.R().SetContext(ctx).SetResult(&media).Get("/" + mediaID)
	if err != nil {
		return nil, err
	}
	if resp.IsError() || media.URL == "" {
		return nil, fmt.Errorf("media lookup returned status %d", resp.StatusCode())
	}
	file, err := w.client.R().SetContext(ctx).Get(media.URL)
	if err != nil {
		return nil, err
	}
	if file.IsError() {
		return nil, fmt.Errorf("media download returned status %d", file.StatusCode())
	}
	return file.Body(), nil
}

// normalizePhone strips everything but digits, the form the Cloud API uses for wa ids.
func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
