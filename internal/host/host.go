// Package host backs the agent loop with durable storage and the
// observer side channel: workflow records and steps go to the store,
// partial text goes out over redis, and checkpoint waits combine a
// redis wakeup with a store poll so they survive a missed signal.
package host

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shaneholloman/weft/internal/agent"
	"github.com/shaneholloman/weft/internal/model"
	"github.com/shaneholloman/weft/internal/stream"
)

// DefaultPollInterval bounds how stale a missed redis wakeup can make a
// checkpoint wait.
const DefaultPollInterval = 15 * time.Second

// Store is the persistence surface the host needs. Both the SQLite and
// the Postgres workflow stores satisfy it.
type Store interface {
	Get(ctx context.Context, id string) (*agent.WorkflowRecord, error)
	Create(ctx context.Context, id, task string) (*agent.WorkflowRecord, error)
	SetStatus(ctx context.Context, id string, status agent.WorkflowStatus) error
	SaveMessages(ctx context.Context, id string, messages []model.Message) error
	SaveCheckpoint(ctx context.Context, id string, cp *agent.CheckpointRequest) error
	SaveResult(ctx context.Context, id string, result *agent.WorkflowResult) error
	Step(ctx context.Context, workflowID, stepID string) (*agent.Step, bool, error)
	Steps(ctx context.Context, workflowID string) ([]agent.Step, error)
	PutStep(ctx context.Context, workflowID string, step *agent.Step) error
	AppendEvent(ctx context.Context, workflowID string, res *agent.Resolution) error
	TakeEvent(ctx context.Context, workflowID string) (*agent.Resolution, bool, error)
	AppendLog(ctx context.Context, workflowID, message string) error
}

// Host implements agent.Host over a Store and an optional Broadcaster.
type Host struct {
	store Store
	bcast *stream.Broadcaster
	poll  time.Duration
}

// Option configures a Host.
type Option func(*Host)

// WithBroadcaster attaches the redis side channel. Nil disables it.
func WithBroadcaster(b *stream.Broadcaster) Option {
	return func(h *Host) { h.bcast = b }
}

// WithPollInterval overrides the checkpoint poll fallback interval.
func WithPollInterval(d time.Duration) Option {
	return func(h *Host) { h.poll = d }
}

// New builds a Host.
func New(store Store, opts ...Option) *Host {
	h := &Host{store: store, poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateWorkflow persists a new workflow for the given task and
// returns its record.
func (h *Host) CreateWorkflow(ctx context.Context, task string) (*agent.WorkflowRecord, error) {
	return h.store.Create(ctx, uuid.NewString(), task)
}

// Resolve delivers an external resolution to a suspended workflow:
// the event is queued durably, then waiting runners are woken.
func (h *Host) Resolve(ctx context.Context, workflowID string, res *agent.Resolution) error {
	if err := h.store.AppendEvent(ctx, workflowID, res); err != nil {
		return err
	}
	h.bcast.Wake(ctx, workflowID)
	return nil
}

func (h *Host) Workflow(ctx context.Context, id string) (*agent.WorkflowRecord, error) {
	return h.store.Get(ctx, id)
}

func (h *Host) SetStatus(ctx context.Context, id string, status agent.WorkflowStatus) error {
	if err := h.store.SetStatus(ctx, id, status); err != nil {
		return err
	}
	h.bcast.Status(ctx, id, string(status), "")
	return nil
}

func (h *Host) SaveMessages(ctx context.Context, id string, messages []model.Message) error {
	return h.store.SaveMessages(ctx, id, messages)
}

func (h *Host) SaveCheckpoint(ctx context.Context, id string, cp *agent.CheckpointRequest) error {
	return h.store.SaveCheckpoint(ctx, id, cp)
}

func (h *Host) SaveResult(ctx context.Context, id string, result *agent.WorkflowResult) error {
	return h.store.SaveResult(ctx, id, result)
}

func (h *Host) Step(ctx context.Context, workflowID, stepID string) (*agent.Step, bool, error) {
	return h.store.Step(ctx, workflowID, stepID)
}

func (h *Host) Steps(ctx context.Context, workflowID string) ([]agent.Step, error) {
	return h.store.Steps(ctx, workflowID)
}

func (h *Host) PutStep(ctx context.Context, workflowID string, step *agent.Step) error {
	return h.store.PutStep(ctx, workflowID, step)
}

func (h *Host) AppendLog(ctx context.Context, workflowID, message string) error {
	return h.store.AppendLog(ctx, workflowID, message)
}

// Broadcast streams partial text to observers. Failures are the
// broadcaster's problem, never the caller's.
func (h *Host) Broadcast(ctx context.Context, workflowID, text string) {
	h.bcast.Text(ctx, workflowID, text)
}

// WaitForEvent blocks until a resolution is queued for the workflow or
// the timeout passes. It relies on the durable event queue for
// correctness and on the redis wakeup only for latency: a missed
// signal is covered by the poll fallback.
func (h *Host) WaitForEvent(ctx context.Context, workflowID string, timeout time.Duration) (*agent.Resolution, error) {
	wake, cancel := h.bcast.Subscribe(ctx, workflowID)
	defer cancel()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		res, ok, err := h.store.TakeEvent(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if ok {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("no resolution for workflow %s within %s", workflowID, timeout)
		case <-wake:
		case <-ticker.C:
		}
	}
}

// Logf appends a formatted log line, reporting store failures to the
// process log only.
func (h *Host) Logf(ctx context.Context, workflowID, format string, args ...any) {
	if err := h.store.AppendLog(ctx, workflowID, fmt.Sprintf(format, args...)); err != nil {
		log.Printf("host: append log %s: %v", workflowID, err)
	}
}
