package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/channel"
	"github.com/foxseedlab/disciplinecall/internal/voice"
	"github.com/go-resty/resty/v2"
)

const (
	twilioAPIBase      = "https://api.twilio.com/2010-04-01"
	twilioTimeout      = 15 * time.Second
	twilioGatherWait   = 15
	twilioHoldPauseSec = 30
)

type TwilioConfig struct {
	AccountSID    string
	AuthToken     string
	From          string
	PublicBaseURL string
	Language      string
}

type twilioCall struct {
	sid   string
	seq   int
	audio []byte
}

type twilioCallResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TelephonyTransport places phone calls through Twilio. Each system message replaces
// the live call's TwiML; the user's speech comes back on the Gather action webhook.
type TelephonyTransport struct {
	cfg    TwilioConfig
	client *resty.Client
	convs  *conversations
	logger *slog.Logger

	mu    sync.Mutex
	calls map[string]*twilioCall
}

func NewTelephonyTransport(cfg TwilioConfig, logger *slog.Logger) *TelephonyTransport {
	return newTelephonyTransport(twilioAPIBase, cfg, logger)
}

func newTelephonyTransport(apiBase string, cfg TwilioConfig, logger *slog.Logger) *TelephonyTransport {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiBase, "/")).
		SetTimeout(twilioTimeout).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken)
	return &TelephonyTransport{
		cfg:    cfg,
		client: client,
		convs:  newConversations(logger),
		logger: logger,
		calls:  make(map[string]*twilioCall),
	}
}

func (t *TelephonyTransport) ID() call.ChannelID {
	return call.ChannelTelephony
}

func (t *TelephonyTransport) Capabilities() channel.Capabilities {
	return channel.Capabilities{
		VoiceOut:    true,
		TextOut:     true,
		TextIn:      true,
		AudioFormat: voice.FormatMP3,
	}
}

func (t *TelephonyTransport) Send(ctx context.Context, recipient string, payload channel.Payload) (channel.Handle, error) {
	to := normalizeE164(recipient)
	if len(to) < 2 {
		return channel.Handle{}, call.NewConfigurationError("telephony send", fmt.Errorf("recipient %q is not a phone number", recipient))
	}
	id, fresh, err := t.convs.open(to, payload.Conversation)
	if err != nil {
		return channel.Handle{}, err
	}

	t.mu.Lock()
	c, ok := t.calls[id]
	if !ok {
		c = &twilioCall{}
		t.calls[id] = c
	}
	c.seq++
	seq := c.seq
	if payload.HasAudio() {
		c.audio = payload.Audio
	} else {
		c.audio = nil
	}
	sid := c.sid
	t.mu.Unlock()

	twiml, err := t.speakTwiML(id, seq, payload)
	if err != nil {
		t.forget(id, fresh)
		return channel.Handle{}, err
	}

	if sid == "" {
		sid, err = t.createCall(ctx, to, twiml)
		if err != nil {
			t.forget(id, fresh)
			return channel.Handle{}, err
		}
		t.mu.Lock()
		c.sid = sid
		t.mu.Unlock()
		t.logger.Info("telephony call placed", "handle", id, "call_sid", sid)
	} else if err := t.updateCall(ctx, sid, map[string]string{"Twiml": twiml}); err != nil {
		return channel.Handle{}, err
	}
	return channel.Handle{Channel: call.ChannelTelephony, ID: id, Recipient: to}, nil
}

func (t *TelephonyTransport) forget(id string, fresh bool) {
	if !fresh {
		return
	}
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
	t.convs.close(id)
}

func (t *TelephonyTransport) AwaitReply(ctx context.Context, h channel.Handle, timeout time.Duration) (channel.Reply, error) {
	return t.convs.wait(ctx, h.ID, timeout)
}

// Close hangs up the call behind h.
func (t *TelephonyTransport) Close(ctx context.Context, h channel.Handle) error {
	t.mu.Lock()
	c, ok := t.calls[h.ID]
	delete(t.calls, h.ID)
	t.mu.Unlock()
	t.convs.close(h.ID)
	if !ok || c.sid == "" {
		return nil
	}
	return t.updateCall(ctx, c.sid, map[string]string{"Status": "completed"})
}

// HandleGather consumes a Gather action callback and returns the TwiML to continue
// the call with: hold music after speech, another listen window after silence.
func (t *TelephonyTransport) HandleGather(handle, speechResult string) ([]byte, bool) {
	if _, ok := t.convs.recipientOf(handle); !ok {
		return hangupTwiML(), false
	}
	speech := strings.TrimSpace(speechResult)
	if speech == "" {
		return t.listenTwiML(handle), true
	}
	t.convs.deliver(handle, channel.Reply{Text: speech, ReceivedAt: time.Now()})
	return t.HoldTwiML(handle), true
}

// HoldTwiML keeps the caller on the line until the next message replaces the TwiML.
func (t *TelephonyTransport) HoldTwiML(handle string) []byte {
	if _, ok := t.convs.recipientOf(handle); !ok {
		return hangupTwiML()
	}
	return mustTwiML(twimlResponse{
		Pause:    &twimlPause{Length: twilioHoldPauseSec},
		Redirect: &twimlRedirect{Method: "POST", URL: t.webhookURL(handle, "hold")},
	})
}

// Audio returns the synthesized audio of message seq while it is the current one.
func (t *TelephonyTransport) Audio(handle string, seq int) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[handle]
	if !ok || c.seq != seq || len(c.audio) == 0 {
		return nil, false
	}
	return c.audio, true
}

// ValidateSignature checks the X-Twilio-Signature of a webhook request.
func (t *TelephonyTransport) ValidateSignature(fullURL string, params url.Values, signature string) bool {
	expected := twilioSignature(t.cfg.AuthToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (t *TelephonyTransport) createCall(ctx context.Context, to, twiml string) (string, error) {
	var out twilioCallResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"To": to, "From": t.cfg.From, "Twiml": twiml}).
		SetResult(&out).
		SetError(&out).
		Post("/Accounts/" + t.cfg.AccountSID + "/Calls.json")
	if err != nil {
		return "", fmt.Errorf("twilio create call: %w", err)
	}
	if resp.IsError() || out.SID == "" {
		return "", fmt.Errorf("twilio create call failed (status %d): %s", resp.StatusCode(), out.Message)
	}
	return out.SID, nil
}

func (t *TelephonyTransport) updateCall(ctx context.Context, sid string, form map[string]string) error {
	var out twilioCallResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		SetError(&out).
		Post("/Accounts/" + t.cfg.AccountSID + "/Calls/" + sid + ".json")
	if err != nil {
		return fmt.Errorf("twilio update call: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("twilio update call failed (status %d): %s", resp.StatusCode(), out.Message)
	}
	return nil
}

func (t *TelephonyTransport) webhookURL(handle string, suffix ...string) string {
	parts := append([]string{t.cfg.PublicBaseURL, "webhooks", "twilio", url.PathEscape(handle)}, suffix...)
	return strings.Join(parts, "/")
}

func (t *TelephonyTransport) speakTwiML(handle string, seq int, payload channel.Payload) (string, error) {
	g := t.gather(handle)
	if payload.HasAudio() {
		g.Play = t.webhookURL(handle, "audio", strconv.Itoa(seq))
	} else {
		g.Say = &twimlSay{Language: t.cfg.Language, Text: payload.Text}
	}
	b, err := marshalTwiML(twimlResponse{Gather: g})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (t *TelephonyTransport) listenTwiML(handle string) []byte {
	return mustTwiML(twimlResponse{Gather: t.gather(handle)})
}

func (t *TelephonyTransport) gather(handle string) *twimlGather {
	return &twimlGather{
		Input:               "speech",
		Action:              t.webhookURL(handle),
		Method:              "POST",
		SpeechTimeout:       "auto",
		Timeout:             twilioGatherWait,
		ActionOnEmptyResult: true,
		Language:            t.cfg.Language,
	}
}

type twimlResponse struct {
	XMLName  xml.Name       `xml:"Response"`
	Gather   *twimlGather   `xml:"Gather,omitempty"`
	Pause    *twimlPause    `xml:"Pause,omitempty"`
	Redirect *twimlRedirect `xml:"Redirect,omitempty"`
	Hangup   *struct{}      `xml:"Hangup,omitempty"`
}

type twimlGather struct {
	Input               string    `xml:"input,attr"`
	Action              string    `xml:"action,attr"`
	Method              string    `xml:"method,attr"`
	SpeechTimeout       string    `xml:"speechTimeout,attr"`
	Timeout             int       `xml:"timeout,attr"`
	ActionOnEmptyResult bool      `xml:"actionOnEmptyResult,attr"`
	Language            string    `xml:"language,attr,omitempty"`
	Play                string    `xml:"Play,omitempty"`
	Say                 *twimlSay `xml:"Say,omitempty"`
}

type twimlSay struct {
	Language string `xml:"language,attr,omitempty"`
	Text     string `xml:",chardata"`
}

type twimlPause struct {
	Length int `xml:"length,attr"`
}

type twimlRedirect struct {
	Method string `xml:"method,attr"`
	URL    string `xml:",chardata"`
}

func marshalTwiML(r twimlResponse) ([]byte, error) {
	b, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode twiml: %w", err)
	}
	return append([]byte(xml.Header), b...), nil
}

func mustTwiML(r twimlResponse) []byte {
	b, err := marshalTwiML(r)
	if err != nil {
		panic(err)
	}
	return b
}

func hangupTwiML() []byte {
	return mustTwiML(twimlResponse{Hangup: &struct{}{}})
}

// twilioSignature is base64(HMAC-SHA1(authToken, url + sorted key/value pairs)).
func twilioSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func normalizeE164(s string) string {
	digits := normalizePhone(s)
	if digits == "" {
		return ""
	}
	return "+" + digits
}
