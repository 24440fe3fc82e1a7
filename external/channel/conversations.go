package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/channel"
	"github.com/google/uuid"
)

// conversations keeps at most one open handle per recipient and routes inbound replies
// by recipient. A handle belongs to the session that opened it; every later message of
// that session lands in the same conversation, while other sessions are turned away
// until it is closed.
type conversations struct {
	inbox *channel.Inbox

	mu          sync.Mutex
	byRecipient map[string]openConversation
	recipients  map[string]string
}

type openConversation struct {
	id    string
	owner string
}

func newConversations(logger *slog.Logger) *conversations {
	return &conversations{
		inbox:       channel.NewInbox(logger),
		byRecipient: make(map[string]openConversation),
		recipients:  make(map[string]string),
	}
}

// open returns owner's handle id for recipient, creating one when no conversation is
// open. It fails with ErrRecipientBusy while a different owner holds the recipient.
func (c *conversations) open(recipient, owner string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.byRecipient[recipient]; ok {
		if conv.owner != owner {
			return "", false, call.NewChannelError("open conversation", fmt.Errorf("recipient %s: %w", recipient, channel.ErrRecipientBusy))
		}
		return conv.id, false, nil
	}
	id := uuid.NewString()
	c.byRecipient[recipient] = openConversation{id: id, owner: owner}
	c.recipients[id] = recipient
	c.inbox.Open(id)
	return id, true, nil
}

func (c *conversations) handleFor(recipient string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.byRecipient[recipient]
	return conv.id, ok
}

func (c *conversations) recipientOf(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.recipients[id]
	return r, ok
}

// deliverTo routes an inbound reply from recipient to its open conversation.
func (c *conversations) deliverTo(recipient string, r channel.Reply) bool {
	id, ok := c.handleFor(recipient)
	if !ok {
		return false
	}
	return c.inbox.Deliver(id, r)
}

func (c *conversations) deliver(id string, r channel.Reply) bool {
	return c.inbox.Deliver(id, r)
}

func (c *conversations) wait(ctx context.Context, id string, timeout time.Duration) (channel.Reply, error) {
	return c.inbox.Wait(ctx, id, timeout)
}

func (c *conversations) close(id string) {
	c.mu.Lock()
	if r, ok := c.recipients[id]; ok {
		delete(c.recipients, id)
		if c.byRecipient[r].id == id {
			delete(c.byRecipient, r)
		}
	}
	c.mu.Unlock()
	c.inbox.Close(id)
}
