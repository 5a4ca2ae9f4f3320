package agent

import (
	"time"

	"github.com/shaneholloman/weft/internal/model"
)

// StepKind classifies one unit of durable work.
type StepKind string

const (
	StepTurn     StepKind = "turn"
	StepTool     StepKind = "tool"
	StepApproval StepKind = "approval"
)

// StepStatus is the lifecycle of one step.
// pending → running → {completed | failed | awaiting_approval}.
type StepStatus string

const (
	StepPending          StepStatus = "pending"
	StepRunning          StepStatus = "running"
	StepCompleted        StepStatus = "completed"
	StepFailed           StepStatus = "failed"
	StepAwaitingApproval StepStatus = "awaiting_approval"
)

// Terminal reports whether a step status is final. A terminal step is
// never re-executed after a process restart.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// Step is one durable unit of work within a workflow instance. Ids are
// deterministic per workflow so replay after restart finds the record.
type Step struct {
	ID         string         `json:"id"`
	Seq        int            `json:"seq"`
	Kind       StepKind       `json:"kind"`
	Status     StepStatus     `json:"status"`
	StartedAt  time.Time      `json:"startedAt,omitempty"`
	FinishedAt time.Time      `json:"finishedAt,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Duration returns the wall time the step took, zero if unfinished.
func (s *Step) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// WorkflowStatus is the coarse state of one workflow instance.
// planning → executing ⇄ checkpoint → {completed | failed}.
type WorkflowStatus string

const (
	StatusPlanning   WorkflowStatus = "planning"
	StatusExecuting  WorkflowStatus = "executing"
	StatusCheckpoint WorkflowStatus = "checkpoint"
	StatusCompleted  WorkflowStatus = "completed"
	StatusFailed     WorkflowStatus = "failed"
)

// CheckpointRequest is the persisted payload of an approval
// suspension. It is created only after required-field validation.
type CheckpointRequest struct {
	StepID         string         `json:"stepId"`
	Tool           string         `json:"tool"`
	Action         string         `json:"action"`
	Data           map[string]any `json:"data"`
	RequiredFields []string       `json:"requiredFields"`
}

// Resolution is the external event that releases a checkpoint.
type Resolution struct {
	Action   string         `json:"action"` // approve | request_changes | cancel
	Feedback string         `json:"feedback,omitempty"`
	Data     map[string]any `json:"data,omitempty"` // user-edited arguments
}

const (
	ResolutionApprove        = "approve"
	ResolutionRequestChanges = "request_changes"
	ResolutionCancel         = "cancel"
)

// Artifact references, or inlines, content a tool call produced.
type Artifact struct {
	Type    string `json:"type"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`
}

// WorkflowResult is the finalized outcome of one workflow instance.
type WorkflowResult struct {
	Success     bool       `json:"success"`
	TurnCount   int        `json:"turnCount"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	Warnings    []string   `json:"warnings,omitempty"`
	Error       string     `json:"error,omitempty"`
	FailedSteps []string   `json:"failedSteps,omitempty"`
}

// WorkflowRecord is the persisted state of one workflow instance. The
// record plus the step log is everything needed to resume after the
// process is unloaded.
type WorkflowRecord struct {
	ID         string             `json:"id"`
	Task       string             `json:"task"`
	Status     WorkflowStatus     `json:"status"`
	Messages   []model.Message    `json:"messages"`
	Checkpoint *CheckpointRequest `json:"checkpoint,omitempty"`
	Result     *WorkflowResult    `json:"result,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}
