package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
)

// Dispatcher routes sends and reply waits to the transport registered for a channel.
// It never falls back to another channel; that decision belongs to the session.
type Dispatcher struct {
	transports map[call.ChannelID]Transport
	logger     *slog.Logger
}

func NewDispatcher(logger *slog.Logger, transports ...Transport) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		transports: make(map[call.ChannelID]Transport, len(transports)),
		logger:     logger,
	}
	for _, t := range transports {
		d.transports[t.ID()] = t
	}
	return d
}

func (d *Dispatcher) IDs() []call.ChannelID {
	ids := make([]call.ChannelID, 0, len(d.transports))
	for id := range d.transports {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (d *Dispatcher) Has(id call.ChannelID) bool {
	_, ok := d.transports[id]
	return ok
}

func (d *Dispatcher) Capabilities(id call.ChannelID) (Capabilities, error) {
	t, err := d.transport(id)
	if err != nil {
		return Capabilities{}, err
	}
	return t.Capabilities(), nil
}

func (d *Dispatcher) Send(ctx context.Context, pref call.ChannelPreference, payload Payload) (Handle, error) {
	t, err := d.transport(pref.Channel)
	if err != nil {
		return Handle{}, err
	}
	h, err := t.Send(ctx, pref.Address, payload)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return Handle{}, ctx.Err()
		}
		var ce *call.Error
		if errors.As(err, &ce) {
			return Handle{}, err
		}
		// A send that runs out of time is a delivery failure, not a missed reply.
		return Handle{}, call.NewChannelError("send via "+string(pref.Channel), err)
	}
	d.logger.Debug("message sent", "channel", pref.Channel, "handle", h.ID, "has_audio", payload.HasAudio())
	return h, nil
}

// AwaitReply waits for the user's reply on h. No reply within timeout is a TimeoutError;
// cancellation of ctx is returned unclassified.
func (d *Dispatcher) AwaitReply(ctx context.Context, h Handle, timeout time.Duration) (Reply, error) {
	t, err := d.transport(h.Channel)
	if err != nil {
		return Reply{}, err
	}
	r, err := t.AwaitReply(ctx, h, timeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		return Reply{}, classify("await reply on "+string(h.Channel), err)
	}
	return r, nil
}

// Close releases per-conversation resources on transports that hold them.
func (d *Dispatcher) Close(ctx context.Context, h Handle) {
	t, ok := d.transports[h.Channel]
	if !ok {
		return
	}
	c, ok := t.(Closer)
	if !ok {
		return
	}
	if err := c.Close(ctx, h); err != nil {
		d.logger.Warn("failed to close channel handle", "channel", h.Channel, "handle", h.ID, "error", err)
	}
}

func (d *Dispatcher) transport(id call.ChannelID) (Transport, error) {
	t, ok := d.transports[id]
	if !ok {
		return nil, call.NewChannelError("route", fmt.Errorf("channel %q is not enabled", id))
	}
	return t, nil
}

func classify(op string, err error) error {
	var ce *call.Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, ErrReplyTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return call.NewTimeoutError(op, err)
	}
	return call.NewChannelError(op, err)
}
