// Package channel defines the transport contract every messaging or telephony channel
// implements, and routes session traffic to the configured transports.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/voice"
)

var (
	// ErrReplyTimeout is returned by AwaitReply when no reply arrived in time.
	ErrReplyTimeout = errors.New("channel: no reply before timeout")
	// ErrHandleClosed is returned when waiting on a handle that is no longer open.
	ErrHandleClosed = errors.New("channel: handle closed")
	// ErrRecipientBusy is returned by Send when another session already holds an open
	// conversation with the recipient.
	ErrRecipientBusy = errors.New("channel: recipient is in another conversation")
)

type Capabilities struct {
	VoiceOut bool
	TextOut  bool
	VoiceIn  bool
	TextIn   bool
	// AudioFormat is the encoding the channel accepts for VoiceOut payloads.
	AudioFormat voice.Format
}

// AudioOnly reports whether the channel cannot deliver a text payload.
func (c Capabilities) AudioOnly() bool {
	return c.VoiceOut && !c.TextOut
}

// Payload is one outbound system message. Text is always set; Audio is set when the
// message was synthesized for a voice channel.
type Payload struct {
	// Conversation identifies the session that owns the message. Transports keep one
	// open conversation per recipient and only the owning session may reuse it.
	Conversation string
	Text         string
	Audio        []byte
	Format       voice.Format
}

func (p Payload) HasAudio() bool {
	return len(p.Audio) > 0
}

// Handle identifies an outstanding conversation on a channel. ID is the key under
// which the transport correlates inbound replies.
type Handle struct {
	Channel   call.ChannelID
	ID        string
	Recipient string
}

type Reply struct {
	Text       string
	Audio      []byte
	Format     voice.Format
	ReceivedAt time.Time
}

func (r Reply) IsAudio() bool {
	return len(r.Audio) > 0
}

type Transport interface {
	ID() call.ChannelID
	Capabilities() Capabilities
	Send(ctx context.Context, recipient string, payload Payload) (Handle, error)
	AwaitReply(ctx context.Context, h Handle, timeout time.Duration) (Reply, error)
}

// Closer is implemented by transports that hold per-conversation resources such as a
// live phone call or a voice connection.
type Closer interface {
	Close(ctx context.Context, h Handle) error
}
