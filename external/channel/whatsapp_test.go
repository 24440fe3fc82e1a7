package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/channel"
	"github.com/foxseedlab/disciplinecall/internal/voice"
)

func newWhatsAppServer(t *testing.T) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer wa-token" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		switch r.URL.Path {
		case "/PHONE/messages":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body["to"] != "15551234567" || body["type"] != "text" {
				t.Errorf("unexpected message body: %v", body)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
		case "/MEDIA1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"url":"` + server.URL + `/download/MEDIA1"}`))
		case "/download/MEDIA1":
			_, _ = w.Write([]byte("OggS-note"))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWhatsAppTransport_SendAndReceiveText(t *testing.T) {
	server := newWhatsAppServer(t)
	tr := newWhatsAppTransport(server.URL, "wa-token", "PHONE", "verify-me", nil)

	h, err := tr.Send(context.Background(), "+1 (555) 123-4567", channel.Payload{Text: "Midday check-in!"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := []byte(`{"entry":[{"changes":[{"value":{"messages":[
		{"from":"15551234567","type":"text","text":{"body":" Doing great "}},
		{"from":"19998887777","type":"text","text":{"body":"who is this"}}
	]}}]}]}`)
	n, err := tr.HandleWebhook(context.Background(), body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one delivered message, got %d", n)
	}

	reply, err := tr.AwaitReply(context.Background(), h, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "Doing great" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestWhatsAppTransport_ReceiveAudio(t *testing.T) {
	server := newWhatsAppServer(t)
	tr := newWhatsAppTransport(server.URL, "wa-token", "PHONE", "", nil)

	h, err := tr.Send(context.Background(), "15551234567", channel.Payload{Text: "Evening!"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := []byte(`{"entry":[{"changes":[{"value":{"messages":[{"from":"15551234567","type":"audio","audio":{"id":"MEDIA1"}}]}}]}]}`)
	if _, err := tr.HandleWebhook(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply, err := tr.AwaitReply(context.Background(), h, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(reply.Audio) != "OggS-note" || reply.Format != voice.FormatOggOpus {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestWhatsAppTransport_Verify(t *testing.T) {
	tr := newWhatsAppTransport("http://unused", "wa-token", "PHONE", "verify-me", nil)
	challenge, err := tr.Verify("subscribe", "verify-me", "1158201444")
	if err != nil || challenge != "1158201444" {
		t.Fatalf("unexpected verify result: %q, %v", challenge, err)
	}
	if _, err := tr.Verify("subscribe", "wrong", "x"); !errors.Is(err, ErrVerifyTokenMismatch) {
		t.Fatalf("expected ErrVerifyTokenMismatch, got %v", err)
	}
}

func TestWhatsAppTransport_RejectsBadWebhook(t *testing.T) {
	tr := newWhatsAppTransport("http://unused", "wa-token", "PHONE", "", nil)
	if _, err := tr.HandleWebhook(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}
