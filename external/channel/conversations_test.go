package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/channel"
)

func TestConversations_OwnerHoldsRecipient(t *testing.T) {
	c := newConversations(nil)

	id, fresh, err := c.open("42", "session-1")
	if err != nil || !fresh {
		t.Fatalf("expected a fresh conversation, got %q %v %v", id, fresh, err)
	}
	again, fresh, err := c.open("42", "session-1")
	if err != nil || fresh || again != id {
		t.Fatalf("owner must reuse its conversation, got %q %v %v", again, fresh, err)
	}

	_, _, err = c.open("42", "session-2")
	if !errors.Is(err, channel.ErrRecipientBusy) || call.KindOf(err) != call.ErrorKindChannel {
		t.Fatalf("expected a busy channel error, got %v", err)
	}
	if other, _, err := c.open("43", "session-2"); err != nil || other == id {
		t.Fatalf("another recipient must get its own conversation, got %q %v", other, err)
	}

	c.close(id)
	next, fresh, err := c.open("42", "session-2")
	if err != nil || !fresh || next == id {
		t.Fatalf("expected a new conversation after close, got %q %v %v", next, fresh, err)
	}
	if _, err := c.wait(context.Background(), id, 10*time.Millisecond); !errors.Is(err, channel.ErrHandleClosed) {
		t.Fatalf("closed handle must not receive replies, got %v", err)
	}
	if !c.deliverTo("42", channel.Reply{Text: "hi"}) {
		t.Fatal("reply must reach the new owner")
	}
	if r, err := c.wait(context.Background(), next, time.Second); err != nil || r.Text != "hi" {
		t.Fatalf("unexpected reply %+v: %v", r, err)
	}
}

func TestConversations_StaleCloseKeepsNewOwner(t *testing.T) {
	c := newConversations(nil)
	first, _, _ := c.open("42", "session-1")
	c.close(first)
	second, _, _ := c.open("42", "session-2")

	c.close(first)
	if id, ok := c.handleFor("42"); !ok || id != second {
		t.Fatalf("closing a stale handle must not drop the current one, got %q %v", id, ok)
	}
}
