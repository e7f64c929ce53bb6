package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus(4)
	ch := b.Subscribe("test")

	b.Publish(Event{Type: SessionOpened, TenantID: "t-1", CallID: "call-1", Summary: "call opened"})

	select {
	case evt := <-ch:
		if evt.Type != SessionOpened || evt.TenantID != "t-1" {
			t.Errorf("unexpected event: %+v", evt)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus(1)
	b.Subscribe("slow") // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: ScaleAction, Summary: "tick"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(4)
	ch := b.Subscribe("gone")
	b.Unsubscribe("gone")

	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", b.SubscriberCount())
	}
}
