package agent

import (
	"context"
	"time"

	"github.com/shaneholloman/weft/internal/model"
)

// Host is the collaborator the loop runs against. It owns persistence
// of the workflow record and step log, the observer side channel, and
// the wait primitive behind approval checkpoints. The loop assumes
// nothing survives in memory across a suspension; everything it needs
// to resume comes back through this interface.
type Host interface {
	// Workflow loads the persisted record.
	Workflow(ctx context.Context, id string) (*WorkflowRecord, error)
	// SetStatus transitions the workflow.
	SetStatus(ctx context.Context, id string, status WorkflowStatus) error
	// SaveMessages replaces the persisted conversation.
	SaveMessages(ctx context.Context, id string, messages []model.Message) error
	// SaveCheckpoint persists the open checkpoint; nil clears it.
	SaveCheckpoint(ctx context.Context, id string, cp *CheckpointRequest) error
	// SaveResult persists the final result.
	SaveResult(ctx context.Context, id string, result *WorkflowResult) error

	// Step returns the persisted step, if any.
	Step(ctx context.Context, workflowID, stepID string) (*Step, bool, error)
	// Steps returns every persisted step in sequence order.
	Steps(ctx context.Context, workflowID string) ([]Step, error)
	// PutStep inserts or updates a step. A step already in a terminal
	// status must be left untouched.
	PutStep(ctx context.Context, workflowID string, step *Step) error

	// AppendLog records one log line for the workflow.
	AppendLog(ctx context.Context, workflowID, message string) error
	// Broadcast streams partial text to observers. Best effort: the
	// host logs failures and never returns them.
	Broadcast(ctx context.Context, workflowID, text string)

	// WaitForEvent blocks until an external resolution arrives for the
	// workflow or the timeout passes. It returns ctx.Err() when the
	// context is cancelled.
	WaitForEvent(ctx context.Context, workflowID string, timeout time.Duration) (*Resolution, error)
}
