package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shaneholloman/weft/internal/agent"
	"github.com/shaneholloman/weft/internal/model"
)

// WorkflowStore is the SQLite-backed workflow record and step log.
// Steps form an append-only log with a compare-and-set-or-insert
// contract: a step that reached a terminal status is never overwritten,
// which is what makes replayed work idempotent after a restart.
type WorkflowStore struct {
	db *DB
}

// NewWorkflowStore returns a workflow store that uses the given DB.
func NewWorkflowStore(db *DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

// Create inserts a new workflow in planning state. Returns an error if
// the id already exists.
func (s *WorkflowStore) Create(ctx context.Context, id, task string) (*agent.WorkflowRecord, error) {
	now := time.Now().UTC()
	_, err := s.db.SQLDB().ExecContext(ctx,
		`INSERT INTO workflows (id, task, status, messages, created_at, updated_at) VALUES (?, ?, ?, '[]', ?, ?)`,
		id, task, string(agent.StatusPlanning), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("create workflow %s: %w", id, err)
	}
	return &agent.WorkflowRecord{
		ID:        id,
		Task:      task,
		Status:    agent.StatusPlanning,
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Get loads a workflow record by id.
func (s *WorkflowStore) Get(ctx context.Context, id string) (*agent.WorkflowRecord, error) {
	var task, status, messagesJSON, createdAt, updatedAt string
	var checkpointJSON, resultJSON sql.NullString
	err := s.db.SQLDB().QueryRowContext(ctx,
		`SELECT task, status, messages, checkpoint, result, created_at, updated_at FROM workflows WHERE id = ?`,
		id,
	).Scan(&task, &status, &messagesJSON, &checkpointJSON, &resultJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("workflow %q not found", id)
	}

	rec := &agent.WorkflowRecord{
		ID:     id,
		Task:   task,
		Status: agent.WorkflowStatus(status),
	}
	if err := json.Unmarshal([]byte(messagesJSON), &rec.Messages); err != nil {
		return nil, fmt.Errorf("workflow %s: decode messages: %w", id, err)
	}
	if checkpointJSON.Valid && checkpointJSON.String != "" {
		rec.Checkpoint = &agent.CheckpointRequest{}
		if err := json.Unmarshal([]byte(checkpointJSON.String), rec.Checkpoint); err != nil {
			return nil, fmt.Errorf("workflow %s: decode checkpoint: %w", id, err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		rec.Result = &agent.WorkflowResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), rec.Result); err != nil {
			return nil, fmt.Errorf("workflow %s: decode result: %w", id, err)
		}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return rec, nil
}

// SetStatus transitions the workflow to the given status.
func (s *WorkflowStore) SetStatus(ctx context.Context, id string, status agent.WorkflowStatus) error {
	return s.update(ctx, id, `UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), nowRFC3339(), id)
}

// SaveMessages replaces the persisted conversation.
func (s *WorkflowStore) SaveMessages(ctx context.Context, id string, messages []model.Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	return s.update(ctx, id, `UPDATE workflows SET messages = ?, updated_at = ? WHERE id = ?`,
		string(data), nowRFC3339(), id)
}

// SaveCheckpoint persists the checkpoint payload; nil clears it.
func (s *WorkflowStore) SaveCheckpoint(ctx context.Context, id string, cp *agent.CheckpointRequest) error {
	var payload any
	if cp != nil {
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("encode checkpoint: %w", err)
		}
		payload = string(data)
	}
	return s.update(ctx, id, `UPDATE workflows SET checkpoint = ?, updated_at = ? WHERE id = ?`,
		payload, nowRFC3339(), id)
}

// SaveResult persists the final result.
func (s *WorkflowStore) SaveResult(ctx context.Context, id string, result *agent.WorkflowResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.update(ctx, id, `UPDATE workflows SET result = ?, updated_at = ? WHERE id = ?`,
		string(data), nowRFC3339(), id)
}

func (s *WorkflowStore) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.SQLDB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update workflow %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow %q not found", id)
	}
	return nil
}

// Step returns the persisted step, if any.
func (s *WorkflowStore) Step(ctx context.Context, workflowID, stepID string) (*agent.Step, bool, error) {
	row := s.db.SQLDB().QueryRowContext(ctx,
		`SELECT step_id, seq, kind, status, payload, started_at, finished_at
		 FROM workflow_steps WHERE workflow_id = ? AND step_id = ?`,
		workflowID, stepID)
	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load step %s/%s: %w", workflowID, stepID, err)
	}
	return step, true, nil
}

// Steps returns every step of a workflow in sequence order.
func (s *WorkflowStore) Steps(ctx context.Context, workflowID string) ([]agent.Step, error) {
	rows, err := s.db.SQLDB().QueryContext(ctx,
		`SELECT step_id, seq, kind, status, payload, started_at, finished_at
		 FROM workflow_steps WHERE workflow_id = ? ORDER BY seq`,
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("load steps %s: %w", workflowID, err)
	}
	defer rows.Close()

	var steps []agent.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("load steps %s: %w", workflowID, err)
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// PutStep inserts or updates a step. A step already in a terminal
// status is left untouched: compute once, remember, continue.
func (s *WorkflowStore) PutStep(ctx context.Context, workflowID string, step *agent.Step) error {
	payload, err := encodePayload(step.Payload)
	if err != nil {
		return fmt.Errorf("encode step %s payload: %w", step.ID, err)
	}
	_, err = s.db.SQLDB().ExecContext(ctx,
		`INSERT INTO workflow_steps (workflow_id, step_id, seq, kind, status, payload, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (workflow_id, step_id) DO UPDATE SET
		   status = excluded.status,
		   payload = excluded.payload,
		   started_at = excluded.started_at,
		   finished_at = excluded.finished_at
		 WHERE workflow_steps.status NOT IN ('completed', 'failed')`,
		workflowID, step.ID, step.Seq, string(step.Kind), string(step.Status),
		payload, timeOrNull(step.StartedAt), timeOrNull(step.FinishedAt))
	if err != nil {
		return fmt.Errorf("put step %s/%s: %w", workflowID, step.ID, err)
	}
	return nil
}

// AppendEvent queues an external resolution event for a workflow.
func (s *WorkflowStore) AppendEvent(ctx context.Context, workflowID string, res *agent.Resolution) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.db.SQLDB().ExecContext(ctx,
		`INSERT INTO workflow_events (workflow_id, payload, created_at) VALUES (?, ?, ?)`,
		workflowID, string(data), nowRFC3339())
	if err != nil {
		return fmt.Errorf("append event %s: %w", workflowID, err)
	}
	return nil
}

// TakeEvent consumes the oldest queued event for a workflow, if any.
func (s *WorkflowStore) TakeEvent(ctx context.Context, workflowID string) (*agent.Resolution, bool, error) {
	tx, err := s.db.SQLDB().BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("take event %s: %w", workflowID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	var payload string
	err = tx.QueryRowContext(ctx,
		`SELECT id, payload FROM workflow_events WHERE workflow_id = ? ORDER BY id LIMIT 1`,
		workflowID).Scan(&id, &payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("take event %s: %w", workflowID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_events WHERE id = ?`, id); err != nil {
		return nil, false, fmt.Errorf("take event %s: %w", workflowID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("take event %s: %w", workflowID, err)
	}

	var res agent.Resolution
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, false, fmt.Errorf("decode event %s: %w", workflowID, err)
	}
	return &res, true, nil
}

// AppendLog records one log line for a workflow.
func (s *WorkflowStore) AppendLog(ctx context.Context, workflowID, message string) error {
	_, err := s.db.SQLDB().ExecContext(ctx,
		`INSERT INTO workflow_logs (workflow_id, message, created_at) VALUES (?, ?, ?)`,
		workflowID, message, nowRFC3339())
	if err != nil {
		return fmt.Errorf("append log %s: %w", workflowID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (*agent.Step, error) {
	var stepID, kind, status string
	var seq int
	var payload, startedAt, finishedAt sql.NullString
	if err := row.Scan(&stepID, &seq, &kind, &status, &payload, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	step := &agent.Step{
		ID:     stepID,
		Seq:    seq,
		Kind:   agent.StepKind(kind),
		Status: agent.StepStatus(status),
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &step.Payload); err != nil {
			return nil, err
		}
	}
	if startedAt.Valid && startedAt.String != "" {
		step.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt.String)
	}
	if finishedAt.Valid && finishedAt.String != "" {
		step.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt.String)
	}
	return step, nil
}

func encodePayload(payload map[string]any) (any, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func timeOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
