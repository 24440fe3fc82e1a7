package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/channel"
	"github.com/foxseedlab/disciplinecall/internal/voice"
)

type twilioRecorder struct {
	mu       sync.Mutex
	requests []twilioRequest
}

type twilioRequest struct {
	path string
	form url.Values
}

func (r *twilioRecorder) all() []twilioRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]twilioRequest(nil), r.requests...)
}

func newTwilioServer(t *testing.T, rec *twilioRecorder) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "secret" {
			t.Errorf("unexpected basic auth: %q %q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		rec.mu.Lock()
		rec.requests = append(rec.requests, twilioRequest{path: r.URL.Path, form: r.PostForm})
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"CA1","status":"queued"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestTelephony(apiBase string) *TelephonyTransport {
	return newTelephonyTransport(apiBase, TwilioConfig{
		AccountSID:    "AC1",
		AuthToken:     "secret",
		From:          "+15550000000",
		PublicBaseURL: "https://coach.example/",
		Language:      "en-US",
	}, nil)
}

func TestTelephonyTransport_CallLifecycle(t *testing.T) {
	rec := &twilioRecorder{}
	server := newTwilioServer(t, rec)
	tr := newTestTelephony(server.URL)
	ctx := context.Background()

	h, err := tr.Send(ctx, "+1 555 123 4567", channel.Payload{Conversation: "session-1", Text: "Good morning!"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Recipient != "+15551234567" {
		t.Fatalf("unexpected recipient: %q", h.Recipient)
	}

	reqs := rec.all()
	if len(reqs) != 1 || reqs[0].path != "/Accounts/AC1/Calls.json" {
		t.Fatalf("expected one create call request, got %+v", reqs)
	}
	twiml := reqs[0].form.Get("Twiml")
	for _, want := range []string{
		"<Say language=\"en-US\">Good morning!</Say>",
		"action=\"https://coach.example/webhooks/twilio/" + h.ID + "\"",
		"input=\"speech\"",
	} {
		if !strings.Contains(twiml, want) {
			t.Fatalf("twiml %q does not contain %q", twiml, want)
		}
	}

	out, ok := tr.HandleGather(h.ID, "  I already ran  ")
	if !ok || !strings.Contains(string(out), "<Pause length=\"30\">") {
		t.Fatalf("unexpected gather response: %s", out)
	}
	reply, err := tr.AwaitReply(ctx, h, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "I already ran" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	h2, err := tr.Send(ctx, "+15551234567", channel.Payload{Conversation: "session-1", Text: "Nice.", Audio: []byte("ID3"), Format: voice.FormatMP3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h2.ID != h.ID {
		t.Fatal("follow-up message must stay on the same call")
	}
	reqs = rec.all()
	if len(reqs) != 2 || reqs[1].path != "/Accounts/AC1/Calls/CA1.json" {
		t.Fatalf("expected an update call request, got %+v", reqs)
	}
	if !strings.Contains(reqs[1].form.Get("Twiml"), "/webhooks/twilio/"+h.ID+"/audio/2</Play>") {
		t.Fatalf("unexpected update twiml: %s", reqs[1].form.Get("Twiml"))
	}
	if audio, ok := tr.Audio(h.ID, 2); !ok || string(audio) != "ID3" {
		t.Fatalf("expected current audio, got %q %v", audio, ok)
	}
	if _, ok := tr.Audio(h.ID, 1); ok {
		t.Fatal("stale audio sequence must not be served")
	}

	if err := tr.Close(ctx, h); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	reqs = rec.all()
	if len(reqs) != 3 || reqs[2].form.Get("Status") != "completed" {
		t.Fatalf("expected hangup request, got %+v", reqs)
	}
	if out, ok := tr.HandleGather(h.ID, "late"); ok || !strings.Contains(string(out), "<Hangup>") {
		t.Fatalf("expected hangup for closed call, got %s", out)
	}
}

func TestTelephonyTransport_EmptySpeechListensAgain(t *testing.T) {
	rec := &twilioRecorder{}
	server := newTwilioServer(t, rec)
	tr := newTestTelephony(server.URL)

	h, err := tr.Send(context.Background(), "+15551234567", channel.Payload{Text: "Hello?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, ok := tr.HandleGather(h.ID, "")
	if !ok || !strings.Contains(string(out), "<Gather") || strings.Contains(string(out), "<Say") {
		t.Fatalf("expected a bare gather, got %s", out)
	}
}

func TestTelephonyTransport_Signature(t *testing.T) {
	tr := newTestTelephony("http://unused")
	params := url.Values{"SpeechResult": {"yes"}, "CallSid": {"CA1"}}
	fullURL := "https://coach.example/webhooks/twilio/abc"

	sig := twilioSignature("secret", fullURL, params)
	if !tr.ValidateSignature(fullURL, params, sig) {
		t.Fatal("expected signature to validate")
	}
	params.Set("SpeechResult", "no")
	if tr.ValidateSignature(fullURL, params, sig) {
		t.Fatal("tampered params must not validate")
	}
}

func TestTelephonyTransport_SecondSessionDoesNotHangUpFirst(t *testing.T) {
	rec := &twilioRecorder{}
	server := newTwilioServer(t, rec)
	tr := newTestTelephony(server.URL)
	ctx := context.Background()

	morning, err := tr.Send(ctx, "+15551234567", channel.Payload{Conversation: "morning-session", Text: "Good morning!"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tr.Send(ctx, "+15551234567", channel.Payload{Conversation: "midday-session", Text: "Lunch?"}); !errors.Is(err, channel.ErrRecipientBusy) {
		t.Fatalf("expected ErrRecipientBusy, got %v", err)
	}
	if reqs := rec.all(); len(reqs) != 1 {
		t.Fatalf("rejected session must not touch the live call, got %+v", reqs)
	}

	if _, ok := tr.HandleGather(morning.ID, "awake"); !ok {
		t.Fatal("morning call must still accept speech")
	}
	reply, err := tr.AwaitReply(ctx, morning, time.Second)
	if err != nil || reply.Text != "awake" {
		t.Fatalf("unexpected reply %+v: %v", reply, err)
	}
}
