package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by agdt.
const (
	TaskSpawned       = "task.spawned"
	TaskRunning       = "task.running"
	TaskSucceeded     = "task.succeeded"
	TaskFailed        = "task.failed"
	WorkflowStarted   = "workflow.started"
	WorkflowAdvanced  = "workflow.advanced"
	WorkflowCompleted = "workflow.completed"
	WorkflowCleared   = "workflow.cleared"
	StateChanged      = "state.changed"
	ScaffoldInstalled = "sdd.scaffold_installed"
	SpecGenerated     = "sdd.spec_generated"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside tx, or directly against DB when tx is nil.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var ex execer
	switch {
	case tx != nil:
		ex = tx
	case w.DB != nil:
		ex = w.DB
	default:
		return fmt.Errorf("events writer has no database")
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
