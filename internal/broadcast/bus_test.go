package broadcast

import (
	"testing"
	"time"
)

func TestAddAssignsMonotonicIDs(t *testing.T) {
	b := New(nil, nil, nil)

	m1 := b.Add("server_restart", map[string]interface{}{"region": "eu"})
	m2 := b.Add("server_restart", map[string]interface{}{"region": "us"})

	if m2.ID <= m1.ID {
		t.Fatalf("expected strictly increasing ids, got %d then %d", m1.ID, m2.ID)
	}
}

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	b := New(nil, nil, nil)

	for i := 0; i < ringCapacity+10; i++ {
		b.Add("tick", nil)
	}

	all := b.Pull(0)
	if len(all) != ringCapacity {
		t.Fatalf("expected ring capped at %d, got %d", ringCapacity, len(all))
	}
	if all[0].ID != 11 {
		t.Fatalf("expected the oldest surviving message to be id 11 (1-based overflow by 10), got %d", all[0].ID)
	}
}

func TestPullReturnsOnlyMessagesAfterCursor(t *testing.T) {
	b := New(nil, nil, nil)
	b.Add("a", nil)
	second := b.Add("b", nil)
	b.Add("c", nil)

	out := b.Pull(second.ID)
	if len(out) != 1 || out[0].Type != "c" {
		t.Fatalf("expected only the message after the cursor, got %+v", out)
	}
}

func TestSubscribeReceivesSubsequentMessages(t *testing.T) {
	b := New(nil, nil, nil)
	mailbox, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Add("maintenance_entered", map[string]interface{}{"shutdown_in_seconds": 30})

	select {
	case msg := <-mailbox:
		if msg.Type != "maintenance_entered" {
			t.Fatalf("unexpected message type %s", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber did not receive the message")
	}
}

func TestUnsubscribeClosesMailbox(t *testing.T) {
	b := New(nil, nil, nil)
	mailbox, unsubscribe := b.Subscribe()
	unsubscribe()

	_, ok := <-mailbox
	if ok {
		t.Fatalf("mailbox channel should be closed after unsubscribe")
	}
}

func TestFullMailboxIsDroppedNotBlocking(t *testing.T) {
	b := New(nil, nil, nil)
	mailbox, unsubscribe := b.Subscribe()
	defer func() { recover() }()
	defer unsubscribe()

	for i := 0; i < mailboxCapacity+5; i++ {
		b.Add("flood", nil)
	}

	// The mailbox should have been unsubscribed by Add once it filled and a
	// send failed, so a further publish must not block the caller.
	done := make(chan struct{})
	go func() {
		b.Add("after-overflow", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Add must never block on a full subscriber mailbox")
	}

	_ = mailbox
}
