package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/shaneholloman/weft/internal/agent"
	"github.com/shaneholloman/weft/internal/model"
)

// pgSchema mirrors the SQLite migrations for hosted deployments, which
// run against Postgres instead of a local file.
const pgSchema = `
CREATE TABLE IF NOT EXISTS workflows (
    id         TEXT PRIMARY KEY,
    task       TEXT NOT NULL,
    status     TEXT NOT NULL,
    messages   TEXT NOT NULL DEFAULT '[]',
    checkpoint TEXT,
    result     TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_steps (
    workflow_id TEXT NOT NULL,
    step_id     TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    status      TEXT NOT NULL,
    payload     TEXT,
    started_at  TIMESTAMPTZ,
    finished_at TIMESTAMPTZ,
    PRIMARY KEY (workflow_id, step_id)
);

CREATE INDEX IF NOT EXISTS idx_workflow_steps_seq ON workflow_steps (workflow_id, seq);

CREATE TABLE IF NOT EXISTS workflow_events (
    id          BIGSERIAL PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    payload     TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_events_wf ON workflow_events (workflow_id, id);

CREATE TABLE IF NOT EXISTS workflow_logs (
    id          BIGSERIAL PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    message     TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);
`

// PGWorkflowStore is the Postgres-backed workflow store, with the same
// contract as WorkflowStore.
type PGWorkflowStore struct {
	db *sql.DB
}

// OpenPostgres connects to Postgres and ensures the schema exists.
// Caller must call Close when done.
func OpenPostgres(dsn string) (*PGWorkflowStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("state store: open postgres: %w", err)
	}
	if _, err := db.Exec(pgSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state store: postgres schema: %w", err)
	}
	return &PGWorkflowStore{db: db}, nil
}

// Close closes the database connection.
func (s *PGWorkflowStore) Close() error {
	return s.db.Close()
}

// Create inserts a new workflow in planning state.
func (s *PGWorkflowStore) Create(ctx context.Context, id, task string) (*agent.WorkflowRecord, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, task, status, messages, created_at, updated_at) VALUES ($1, $2, $3, '[]', $4, $5)`,
		id, task, string(agent.StatusPlanning), now, now)
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
func (s *PGWorkflowStore) Get(ctx context.Context, id string) (*agent.WorkflowRecord, error) {
	var task, status, messagesJSON string
	var checkpointJSON, resultJSON sql.NullString
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT task, status, messages, checkpoint, result, created_at, updated_at FROM workflows WHERE id = $1`,
		id,
	).Scan(&task, &status, &messagesJSON, &checkpointJSON, &resultJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("workflow %q not found", id)
	}

	rec := &agent.WorkflowRecord{
		ID:        id,
		Task:      task,
		Status:    agent.WorkflowStatus(status),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
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
	return rec, nil
}

// SetStatus transitions the workflow to the given status.
func (s *PGWorkflowStore) SetStatus(ctx context.Context, id string, status agent.WorkflowStatus) error {
	return s.update(ctx, id, `UPDATE workflows SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
}

// SaveMessages replaces the persisted conversation.
func (s *PGWorkflowStore) SaveMessages(ctx context.Context, id string, messages []model.Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	return s.update(ctx, id, `UPDATE workflows SET messages = $1, updated_at = $2 WHERE id = $3`,
		string(data), time.Now().UTC(), id)
}

// SaveCheckpoint persists the checkpoint payload; nil clears it.
func (s *PGWorkflowStore) SaveCheckpoint(ctx context.Context, id string, cp *agent.CheckpointRequest) error {
	var payload any
	if cp != nil {
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("encode checkpoint: %w", err)
		}
		payload = string(data)
	}
	return s.update(ctx, id, `UPDATE workflows SET checkpoint = $1, updated_at = $2 WHERE id = $3`,
		payload, time.Now().UTC(), id)
}

// SaveResult persists the final result.
func (s *PGWorkflowStore) SaveResult(ctx context.Context, id string, result *agent.WorkflowResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.update(ctx, id, `UPDATE workflows SET result = $1, updated_at = $2 WHERE id = $3`,
		string(data), time.Now().UTC(), id)
}

func (s *PGWorkflowStore) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update workflow %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow %q not found", id)
	}
	return nil
}

// Step returns the persisted step, if any.
func (s *PGWorkflowStore) Step(ctx context.Context, workflowID, stepID string) (*agent.Step, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT step_id, seq, kind, status, payload, started_at, finished_at
		 FROM workflow_steps WHERE workflow_id = $1 AND step_id = $2`,
		workflowID, stepID)
	step, err := scanPGStep(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load step %s/%s: %w", workflowID, stepID, err)
	}
	return step, true, nil
}

// Steps returns every step of a workflow in sequence order.
func (s *PGWorkflowStore) Steps(ctx context.Context, workflowID string) ([]agent.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, seq, kind, status, payload, started_at, finished_at
		 FROM workflow_steps WHERE workflow_id = $1 ORDER BY seq`,
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("load steps %s: %w", workflowID, err)
	}
	defer rows.Close()

	var steps []agent.Step
	for rows.Next() {
		step, err := scanPGStep(rows)
		if err != nil {
			return nil, fmt.Errorf("load steps %s: %w", workflowID, err)
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// PutStep inserts or updates a step, never overwriting a terminal one.
func (s *PGWorkflowStore) PutStep(ctx context.Context, workflowID string, step *agent.Step) error {
	payload, err := encodePayload(step.Payload)
	if err != nil {
		return fmt.Errorf("encode step %s payload: %w", step.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_steps (workflow_id, step_id, seq, kind, status, payload, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (workflow_id, step_id) DO UPDATE SET
		   status = excluded.status,
		   payload = excluded.payload,
		   started_at = excluded.started_at,
		   finished_at = excluded.finished_at
		 WHERE workflow_steps.status NOT IN ('completed', 'failed')`,
		workflowID, step.ID, step.Seq, string(step.Kind), string(step.Status),
		payload, pgTimeOrNull(step.StartedAt), pgTimeOrNull(step.FinishedAt))
	if err != nil {
		return fmt.Errorf("put step %s/%s: %w", workflowID, step.ID, err)
	}
	return nil
}

// AppendEvent queues an external resolution event for a workflow.
func (s *PGWorkflowStore) AppendEvent(ctx context.Context, workflowID string, res *agent.Resolution) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_events (workflow_id, payload, created_at) VALUES ($1, $2, $3)`,
		workflowID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append event %s: %w", workflowID, err)
	}
	return nil
}

// TakeEvent consumes the oldest queued event for a workflow, if any.
func (s *PGWorkflowStore) TakeEvent(ctx context.Context, workflowID string) (*agent.Resolution, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM workflow_events WHERE id = (
		   SELECT id FROM workflow_events WHERE workflow_id = $1 ORDER BY id LIMIT 1
		 ) RETURNING payload`,
		workflowID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("take event %s: %w", workflowID, err)
	}

	var res agent.Resolution
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, false, fmt.Errorf("decode event %s: %w", workflowID, err)
	}
	return &res, true, nil
}

// AppendLog records one log line for a workflow.
func (s *PGWorkflowStore) AppendLog(ctx context.Context, workflowID, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_logs (workflow_id, message, created_at) VALUES ($1, $2, $3)`,
		workflowID, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append log %s: %w", workflowID, err)
	}
	return nil
}

func scanPGStep(row rowScanner) (*agent.Step, error) {
	var stepID, kind, status string
	var seq int
	var payload sql.NullString
	var startedAt, finishedAt sql.NullTime
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
	if startedAt.Valid {
		step.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		step.FinishedAt = finishedAt.Time
	}
	return step, nil
}

func pgTimeOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
