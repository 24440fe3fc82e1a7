package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	id       call.ChannelID
	caps     Capabilities
	sendErr  error
	awaitErr error
	reply    Reply
	sent     []Payload
	closed   []string
}

func (f *fakeTransport) ID() call.ChannelID          { return f.id }
func (f *fakeTransport) Capabilities() Capabilities { return f.caps }

func (f *fakeTransport) Send(_ context.Context, recipient string, p Payload) (Handle, error) {
	if f.sendErr != nil {
		return Handle{}, f.sendErr
	}
	f.sent = append(f.sent, p)
	return Handle{Channel: f.id, ID: recipient, Recipient: recipient}, nil
}

func (f *fakeTransport) AwaitReply(context.Context, Handle, time.Duration) (Reply, error) {
	if f.awaitErr != nil {
		return Reply{}, f.awaitErr
	}
	return f.reply, nil
}

func (f *fakeTransport) Close(_ context.Context, h Handle) error {
	f.closed = append(f.closed, h.ID)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_RoutesByChannel(t *testing.T) {
	tg := &fakeTransport{id: call.ChannelTelegram, reply: Reply{Text: "from telegram"}}
	wa := &fakeTransport{id: call.ChannelWhatsApp, reply: Reply{Text: "from whatsapp"}}
	d := NewDispatcher(quietLogger(), tg, wa)

	h, err := d.Send(context.Background(), call.ChannelPreference{Channel: call.ChannelWhatsApp, Address: "+100"}, Payload{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, call.ChannelWhatsApp, h.Channel)
	assert.Len(t, wa.sent, 1)
	assert.Empty(t, tg.sent)

	r, err := d.AwaitReply(context.Background(), h, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "from whatsapp", r.Text)

	d.Close(context.Background(), h)
	assert.Equal(t, []string{"+100"}, wa.closed)
	assert.Equal(t, []call.ChannelID{call.ChannelTelegram, call.ChannelWhatsApp}, d.IDs())
}

func TestDispatcher_UnknownChannelIsChannelError(t *testing.T) {
	d := NewDispatcher(quietLogger())
	_, err := d.Send(context.Background(), call.ChannelPreference{Channel: call.ChannelTelephony, Address: "+1"}, Payload{Text: "hi"})
	assert.ErrorIs(t, err, call.ErrChannel)
}

func TestDispatcher_ErrorClassification(t *testing.T) {
	tg := &fakeTransport{id: call.ChannelTelegram, sendErr: errors.New("502 bad gateway")}
	d := NewDispatcher(quietLogger(), tg)
	_, err := d.Send(context.Background(), call.ChannelPreference{Channel: call.ChannelTelegram, Address: "1"}, Payload{Text: "hi"})
	assert.ErrorIs(t, err, call.ErrChannel)

	tg.sendErr = nil
	tg.awaitErr = ErrReplyTimeout
	_, err = d.AwaitReply(context.Background(), Handle{Channel: call.ChannelTelegram, ID: "1"}, time.Millisecond)
	assert.ErrorIs(t, err, call.ErrTimeout)

	tg.awaitErr = errors.New("connection reset")
	_, err = d.AwaitReply(context.Background(), Handle{Channel: call.ChannelTelegram, ID: "1"}, time.Millisecond)
	assert.ErrorIs(t, err, call.ErrChannel)
}

func TestDispatcher_CancelledContextIsNotClassified(t *testing.T) {
	tg := &fakeTransport{id: call.ChannelTelegram, awaitErr: context.Canceled}
	d := NewDispatcher(quietLogger(), tg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.AwaitReply(ctx, Handle{Channel: call.ChannelTelegram, ID: "1"}, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, call.ErrorKindUnknown, call.KindOf(err))
}

func TestInbox_DeliverAndWait(t *testing.T) {
	in := NewInbox(quietLogger())
	in.Open("chat-1")

	assert.True(t, in.Deliver("chat-1", Reply{Text: "done"}))
	r, err := in.Wait(context.Background(), "chat-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", r.Text)
	assert.False(t, r.ReceivedAt.IsZero())
}

func TestInbox_TimeoutAndLateReply(t *testing.T) {
	in := NewInbox(quietLogger())
	in.Open("chat-1")

	_, err := in.Wait(context.Background(), "chat-1", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrReplyTimeout)

	in.Close("chat-1")
	assert.False(t, in.Deliver("chat-1", Reply{Text: "too late"}))

	_, err = in.Wait(context.Background(), "chat-1", time.Second)
	assert.ErrorIs(t, err, ErrHandleClosed)
}

func TestInbox_WaitHonorsContext(t *testing.T) {
	in := NewInbox(quietLogger())
	in.Open("k")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := in.Wait(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCapabilities_AudioOnly(t *testing.T) {
	assert.True(t, Capabilities{VoiceOut: true, VoiceIn: true}.AudioOnly())
	assert.False(t, Capabilities{VoiceOut: true, TextOut: true}.AudioOnly())
}
