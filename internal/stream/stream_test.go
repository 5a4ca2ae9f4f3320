package stream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBroadcaster(t *testing.T) (*Broadcaster, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	b := NewWithClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = b.Close() })
	return b, rdb
}

func TestTextPublishes(t *testing.T) {
	b, rdb := newTestBroadcaster(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, TextChannel("wf-1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.Text(ctx, "wf-1", "working on it")

	select {
	case msg := <-sub.Channel():
		if msg.Payload != "working on it" {
			t.Errorf("payload = %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestWakeSignalsSubscriber(t *testing.T) {
	b, rdb := newTestBroadcaster(t)
	ctx := context.Background()

	wake, cancel := b.Subscribe(ctx, "wf-1")
	defer cancel()

	// Give the subscriber goroutine a moment to register.
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := rdb.PubSubNumSub(ctx, EventChannel("wf-1")).Result()
		if err == nil && n[EventChannel("wf-1")] > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	b.Wake(ctx, "wf-1")

	select {
	case <-wake:
	case <-time.After(2 * time.Second):
		t.Fatal("no wake signal")
	}
}

func TestNilBroadcasterIsNoop(t *testing.T) {
	var b *Broadcaster
	ctx := context.Background()

	// None of these may panic.
	b.Text(ctx, "wf-1", "hello")
	b.Status(ctx, "wf-1", "executing", "")
	b.Wake(ctx, "wf-1")
	if err := b.Close(); err != nil {
		t.Errorf("close: %v", err)
	}

	wake, cancel := b.Subscribe(ctx, "wf-1")
	defer cancel()
	select {
	case <-wake:
		t.Error("nil broadcaster should never signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyAddrDisables(t *testing.T) {
	if b := New(""); b != nil {
		t.Fatal("empty addr should return nil broadcaster")
	}
}
