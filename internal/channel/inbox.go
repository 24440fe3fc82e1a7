package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const inboxBuffer = 4

// Inbox hands inbound replies (webhooks, polling, voice packets) to the session waiting
// on the matching key. Replies for keys nobody has opened are dropped.
type Inbox struct {
	mu      sync.Mutex
	pending map[string]chan Reply
	logger  *slog.Logger
}

func NewInbox(logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		pending: make(map[string]chan Reply),
		logger:  logger,
	}
}

// Open starts accepting replies for key. Opening an already open key keeps its buffer.
func (i *Inbox) Open(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.pending[key]; !ok {
		i.pending[key] = make(chan Reply, inboxBuffer)
	}
}

func (i *Inbox) Close(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.pending, key)
}

func (i *Inbox) IsOpen(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.pending[key]
	return ok
}

// Deliver queues r for key and reports whether it was accepted.
func (i *Inbox) Deliver(key string, r Reply) bool {
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now()
	}
	i.mu.Lock()
	ch, ok := i.pending[key]
	i.mu.Unlock()
	if !ok {
		i.logger.Info("dropping reply for closed or unknown handle", "handle", key)
		return false
	}
	select {
	case ch <- r:
		return true
	default:
		i.logger.Warn("dropping reply, handle buffer is full", "handle", key)
		return false
	}
}

func (i *Inbox) Wait(ctx context.Context, key string, timeout time.Duration) (Reply, error) {
	i.mu.Lock()
	ch, ok := i.pending[key]
	i.mu.Unlock()
	if !ok {
		return Reply{}, ErrHandleClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
		return Reply{}, ErrReplyTimeout
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}
