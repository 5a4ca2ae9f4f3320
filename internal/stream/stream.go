// Package stream broadcasts live workflow output over redis pub/sub.
//
// Publishing is strictly best effort: a missing or broken redis never
// fails a workflow, it only costs observers their live feed. Every
// method is safe to call on a nil Broadcaster, which turns the whole
// package into a no-op for deployments without redis.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// Broadcaster fans workflow progress out to redis channels.
type Broadcaster struct {
	rdb *redis.Client
}

// New connects to redis at addr. An empty addr returns nil, which
// disables broadcasting entirely.
func New(addr string) *Broadcaster {
	if addr == "" {
		return nil
	}
	return &Broadcaster{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(rdb *redis.Client) *Broadcaster {
	return &Broadcaster{rdb: rdb}
}

// Close releases the redis connection.
func (b *Broadcaster) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// TextChannel names the pub/sub channel carrying assistant text for a workflow.
func TextChannel(workflowID string) string {
	return "weft:workflow:" + workflowID + ":text"
}

// EventChannel names the pub/sub channel used to wake checkpoint waiters.
func EventChannel(workflowID string) string {
	return "weft:workflow:" + workflowID + ":events"
}

// Text publishes a chunk of assistant output for live followers.
func (b *Broadcaster) Text(ctx context.Context, workflowID, text string) {
	if text == "" {
		return
	}
	b.publish(ctx, TextChannel(workflowID), text)
}

// Status publishes a JSON status update ({"status": ..., "detail": ...}).
func (b *Broadcaster) Status(ctx context.Context, workflowID, status, detail string) {
	data, err := json.Marshal(map[string]string{"status": status, "detail": detail})
	if err != nil {
		return
	}
	b.publish(ctx, TextChannel(workflowID), string(data))
}

// Wake signals that an event was queued for the workflow, so a blocked
// checkpoint waiter can re-check the store immediately.
func (b *Broadcaster) Wake(ctx context.Context, workflowID string) {
	b.publish(ctx, EventChannel(workflowID), "event")
}

func (b *Broadcaster) publish(ctx context.Context, channel, payload string) {
	if b == nil || b.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		log.Printf("stream: publish %s: %v", channel, err)
	}
}

// Subscribe returns a channel that receives a signal whenever an event
// is published for the workflow, plus a cancel func that must be called
// when done. On a nil Broadcaster the returned channel never fires.
func (b *Broadcaster) Subscribe(ctx context.Context, workflowID string) (<-chan struct{}, func()) {
	wake := make(chan struct{}, 1)
	if b == nil || b.rdb == nil {
		return wake, func() {}
	}

	sub := b.rdb.Subscribe(ctx, EventChannel(workflowID))
	go func() {
		for range sub.Channel() {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake, func() { _ = sub.Close() }
}
