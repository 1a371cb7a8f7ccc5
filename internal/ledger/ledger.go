// Package ledger records task lifecycle changes, workflow transitions and
// other notable events in the SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agdt/internal/db"
	"agdt/internal/domain"
	"agdt/internal/events"
	"agdt/internal/migrate"
	"agdt/internal/repo"
)

type Ledger struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Log    *zap.Logger
	Now    func() time.Time
}

// Open opens and migrates the ledger database in dir.
func Open(ctx context.Context, dir string, log *zap.Logger) (*Ledger, error) {
	conn, err := db.Open(db.Config{Dir: dir})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return New(conn, log), nil
}

func New(conn *sql.DB, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn},
		Log:    log,
		Now:    time.Now,
	}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Ledger) Close() error {
	if l == nil || l.DB == nil {
		return nil
	}
	return l.DB.Close()
}

var taskEventTypes = map[domain.TaskStatus]string{
	domain.TaskPending:   events.TaskSpawned,
	domain.TaskRunning:   events.TaskRunning,
	domain.TaskSucceeded: events.TaskSucceeded,
	domain.TaskFailed:    events.TaskFailed,
}

// TaskChanged indexes rec and appends the matching lifecycle event.
func (l *Ledger) TaskChanged(ctx context.Context, rec domain.TaskRecord) error {
	if l == nil {
		return nil
	}
	if err := l.Repo.UpsertTask(ctx, rec, l.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("index task %s: %w", rec.ID, err)
	}
	payload := events.EventPayload{"command": rec.Command, "status": string(rec.Status)}
	if rec.Error != "" {
		payload["error"] = rec.Error
	}
	if rec.ResultPath != "" {
		payload["result_path"] = rec.ResultPath
	}
	writer := l.Events
	writer.Now = l.Now
	if err := writer.Append(ctx, nil, taskEventTypes[rec.Status], "task", rec.ID, payload); err != nil {
		return fmt.Errorf("append task event: %w", err)
	}
	return nil
}

// WorkflowTransitioned stores a step change and its event atomically.
func (l *Ledger) WorkflowTransitioned(ctx context.Context, t domain.WorkflowTransition, evtType string) error {
	if l == nil {
		return nil
	}
	if t.TS == "" {
		t.TS = l.now().UTC().Format(time.RFC3339Nano)
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := l.Repo.AppendWorkflowTransition(ctx, tx, t); err != nil {
		return fmt.Errorf("append workflow transition: %w", err)
	}
	writer := l.Events
	writer.Now = l.Now
	if err := writer.Append(ctx, tx, evtType, "workflow", t.InstanceID, events.EventPayload{
		"workflow":  t.Workflow,
		"from":      t.FromStep,
		"to":        t.ToStep,
		"entity_id": t.EntityID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Record appends a free-form event.
func (l *Ledger) Record(ctx context.Context, evtType, entityKind, entityID string, payload events.EventPayload) error {
	if l == nil {
		return nil
	}
	writer := l.Events
	writer.Now = l.Now
	return writer.Append(ctx, nil, evtType, entityKind, entityID, payload)
}
