package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"agdt/internal/domain"
)

// Repo is the SQLite ledger indexing task records, events and workflow
// history. The per-task status files stay authoritative; the ledger is what
// list and tail commands query.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type TaskFilters struct {
	Status  string
	Command string
	Limit   int
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// UpsertTask mirrors a task record into the tasks table.
func (r Repo) UpsertTask(ctx context.Context, t domain.TaskRecord, updatedAt string) error {
	args := t.Args
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal task args: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO tasks(id,command,args_json,status,log_path,result_path,error,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET status=excluded.status, result_path=excluded.result_path, error=excluded.error, updated_at=excluded.updated_at`,
		t.ID, t.Command, string(argsJSON), string(t.Status), t.LogPath, nullable(t.ResultPath), nullable(t.Error), t.CreatedAt, updatedAt)
	return err
}

func scanTask(scan func(dest ...any) error) (domain.TaskRecord, error) {
	var (
		t        domain.TaskRecord
		argsJSON string
		status   string
		result   sql.NullString
		errText  sql.NullString
	)
	if err := scan(&t.ID, &t.Command, &argsJSON, &status, &t.LogPath, &result, &errText, &t.CreatedAt); err != nil {
		return t, err
	}
	t.Status = domain.TaskStatus(status)
	if result.Valid {
		t.ResultPath = result.String
	}
	if errText.Valid {
		t.Error = errText.String
	}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &t.Args); err != nil {
			return t, fmt.Errorf("decode task args: %w", err)
		}
	}
	return t, nil
}

const taskColumns = `id,command,args_json,status,log_path,result_path,error,created_at`

func (r Repo) GetTask(ctx context.Context, id string) (domain.TaskRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

// ListTasks returns tasks newest first.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.TaskRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	if f.Command != "" {
		where = append(where, "command=?")
		args = append(args, f.Command)
	}
	q := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskRecord
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// LatestEvents returns up to n events newest first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, n int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, n, 0, evtType, entityKind, entityID)
}

// LatestEventsFrom pages backwards from beforeID (exclusive) when non-zero.
func (r Repo) LatestEventsFrom(ctx context.Context, n int, beforeID int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	var (
		where []string
		args  []any
	)
	if beforeID > 0 {
		where = append(where, "id<?")
		args = append(args, beforeID)
	}
	if evtType != "" {
		where = append(where, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		where = append(where, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		where = append(where, "entity_id=?")
		args = append(args, entityID)
	}
	q := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) AppendWorkflowTransition(ctx context.Context, tx *sql.Tx, t domain.WorkflowTransition) error {
	q := `INSERT INTO workflow_history(instance_id,workflow,from_step,to_step,entity_id,ts) VALUES (?,?,?,?,?,?)`
	args := []any{t.InstanceID, t.Workflow, t.FromStep, t.ToStep, nullable(t.EntityID), t.TS}
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, q, args...)
	} else {
		_, err = r.DB.ExecContext(ctx, q, args...)
	}
	return err
}

// WorkflowHistory returns the transitions of one instance in order.
func (r Repo) WorkflowHistory(ctx context.Context, instanceID string) ([]domain.WorkflowTransition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT instance_id,workflow,from_step,to_step,COALESCE(entity_id,''),ts FROM workflow_history WHERE instance_id=? ORDER BY id`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowTransition
	for rows.Next() {
		var t domain.WorkflowTransition
		if err := rows.Scan(&t.InstanceID, &t.Workflow, &t.FromStep, &t.ToStep, &t.EntityID, &t.TS); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// EventsAfter returns up to n events with id > afterID, oldest first.
func (r Repo) EventsAfter(ctx context.Context, n int, afterID int64) ([]domain.Event, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
