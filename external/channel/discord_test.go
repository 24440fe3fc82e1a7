package channel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/disciplinecall/internal/audio"
	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/channel"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestSession(t *testing.T, rt roundTripFunc) *discordgo.Session {
	t.Helper()
	s, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if rt != nil {
		s.Client = &http.Client{Transport: rt}
	}
	return s
}

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": {"application/json"}},
	}
}

type unavailableCodec struct{}

func (unavailableCodec) Available() bool                    { return false }
func (unavailableCodec) NewEncoder() (audio.Encoder, error) { return nil, audio.ErrCodecUnavailable }
func (unavailableCodec) NewMixer() audio.Mixer              { return nil }

func TestParseDiscordAddress(t *testing.T) {
	guild, user, err := parseDiscordAddress(" 123/456 ")
	if err != nil || guild != "123" || user != "456" {
		t.Fatalf("unexpected parse: %q %q %v", guild, user, err)
	}
	for _, bad := range []string{"", "123", "/456", "123/", "1/2/3"} {
		if _, _, err := parseDiscordAddress(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestDiscordTransport_UserVoiceChannelUsesStateCacheFirst(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected REST call: %s %s", req.Method, req.URL.String())
		return nil, nil
	})
	if err := s.State.GuildAdd(&discordgo.Guild{
		ID:          "guild-1",
		VoiceStates: []*discordgo.VoiceState{{GuildID: "guild-1", ChannelID: "vc-1", UserID: "user-1"}},
	}); err != nil {
		t.Fatalf("failed to add guild to state: %v", err)
	}
	d := NewDiscordTransport("x", unavailableCodec{}, nil)
	d.session = s

	channelID, err := d.userVoiceChannelID("guild-1", "user-1")
	if err != nil || channelID != "vc-1" {
		t.Fatalf("expected vc-1, got %q %v", channelID, err)
	}
}

func TestDiscordTransport_UserVoiceChannelNotFound(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Status:     "404 Not Found",
			Body:       io.NopCloser(strings.NewReader(`{"message":"Unknown Voice State","code":10065}`)),
			Header:     make(http.Header),
		}, nil
	})
	d := NewDiscordTransport("x", unavailableCodec{}, nil)
	d.session = s

	channelID, err := d.userVoiceChannelID("guild-1", "user-1")
	if err != nil || channelID != "" {
		t.Fatalf("expected empty channel without error, got %q %v", channelID, err)
	}
}

func TestDiscordTransport_DirectMessageRoundTrip(t *testing.T) {
	var posted []string
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/users/@me/channels"):
			return jsonResponse(`{"id":"dm-1","type":1}`), nil
		case strings.HasSuffix(req.URL.Path, "/channels/dm-1/messages"):
			b, _ := io.ReadAll(req.Body)
			posted = append(posted, string(b))
			return jsonResponse(`{"id":"m-1","channel_id":"dm-1"}`), nil
		default:
			t.Fatalf("unexpected REST call: %s %s", req.Method, req.URL.Path)
			return nil, nil
		}
	})
	d := NewDiscordTransport("x", unavailableCodec{}, nil)
	d.session = s

	if caps := d.Capabilities(); caps.VoiceOut || !caps.TextOut {
		t.Fatalf("without opus the transport must be text-only, got %+v", caps)
	}

	h, err := d.Send(context.Background(), "guild-1/user-1", channel.Payload{Text: "Evening check-in"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Channel != call.ChannelDiscord || len(posted) != 1 || !strings.Contains(posted[0], "Evening check-in") {
		t.Fatalf("unexpected send: %+v %v", h, posted)
	}

	d.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
		Content: "shipped the feature",
		Author:  &discordgo.User{ID: "user-1"},
	}})
	d.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
		Content: "ignore me",
		Author:  &discordgo.User{ID: "bot-2", Bot: true},
	}})

	reply, err := d.AwaitReply(context.Background(), h, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "shipped the feature" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	if err := d.Close(context.Background(), h); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if _, err := d.AwaitReply(context.Background(), h, time.Millisecond); !errors.Is(err, channel.ErrHandleClosed) {
		t.Fatalf("expected ErrHandleClosed after close, got %v", err)
	}
}

func TestUtterance_FlushAfterSilence(t *testing.T) {
	u := newUtterance(time.Second, 100*time.Millisecond)
	start := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	frame := make([]byte, audio.FrameSamples*2)

	for range 10 {
		u.add(frame)
	}
	if _, ok := u.flush(start, start.Add(500*time.Millisecond)); ok {
		t.Fatal("must not flush while the speaker is still talking")
	}
	pcm, ok := u.flush(start, start.Add(1500*time.Millisecond))
	if !ok || len(pcm) != 10*len(frame) {
		t.Fatalf("expected 200ms of speech, got %d bytes", len(pcm))
	}

	u.add(frame)
	if _, ok := u.flush(start, start.Add(2*time.Second)); ok {
		t.Fatal("a 20ms blip must be discarded as noise")
	}
	if _, ok := u.flush(start, start.Add(3*time.Second)); ok {
		t.Fatal("buffer must be empty after discarding noise")
	}
}
