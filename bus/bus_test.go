package bus

import (
	"testing"
	"time"
)

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(Topic{"ups", "state"})

	conn.Publish(conn.NewMessage(Topic{"ups", "state"}, "running", false))

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "running" {
			t.Errorf("expected payload 'running', got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(Topic{"ups", "state"}, "warn", true))

	sub := conn.Subscribe(Topic{"ups", "state"})

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "warn" {
			t.Errorf("expected retained payload 'warn', got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for retained message")
	}
}

func TestRetainedCleared(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(Topic{"ups", "state"}, "warn", true))
	conn.Publish(conn.NewMessage(Topic{"ups", "state"}, nil, true))

	sub := conn.Subscribe(Topic{"ups", "state"})
	expectNoMessage(t, sub)
}

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(Topic{"ups", "+", "value"})
	s2 := c.Subscribe(Topic{"ups", "+", "+"})
	sNo := c.Subscribe(Topic{"ups", "+", "other"})

	c.Publish(b.NewMessage(Topic{"ups", "battery", "value"}, "m1", false))

	expectOneOf(t, s1, "m1")
	expectOneOf(t, s2, "m1")
	expectNoMessage(t, sNo)
}

func TestWildcard_MultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	all := c.Subscribe(Topic{"ups", "#"})

	c.Publish(b.NewMessage(Topic{"ups", "state"}, "m1", false))
	c.Publish(b.NewMessage(Topic{"ups", "battery", "value"}, "m2", false))
	c.Publish(b.NewMessage(Topic{"other"}, "m3", false))

	expectOneOf(t, all, "m1")
	expectOneOf(t, all, "m2")
	expectNoMessage(t, all)
}

func TestRetainedReplayThroughWildcard(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(Topic{"ups", "battery", "value"}, "m1", true))
	c.Publish(b.NewMessage(Topic{"ups", "ext", "value"}, "m2", true))

	sub := c.Subscribe(Topic{"ups", "#"})

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case m := <-sub.Channel():
			got[m.Payload.(string)] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for retained replay")
		}
	}
	if !got["m1"] || !got["m2"] {
		t.Fatalf("missing retained replays: %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	sub := c.Subscribe(Topic{"ups", "state"})
	sub.Unsubscribe()

	c.Publish(b.NewMessage(Topic{"ups", "state"}, "m1", false))
	expectNoMessage(t, sub)
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")

	sub := c.Subscribe(Topic{"ups", "state"})
	for i := 0; i < 4; i++ {
		c.Publish(b.NewMessage(Topic{"ups", "state"}, i, false))
	}

	expectOneOf(t, sub, 2)
	expectOneOf(t, sub, 3)
}

func expectOneOf(t *testing.T, sub *Subscription, want any) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		if got.Payload != want {
			t.Errorf("expected payload %v, got %v", want, got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for %v", want)
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Errorf("unexpected message: %v", got.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}
