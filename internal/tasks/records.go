// Package tasks runs action commands in the background and exposes their
// status, logs and results through per-task files.
package tasks

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"

	"agdt/internal/domain"
	"agdt/internal/errs"
	"agdt/internal/fsutil"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a fresh, time-ordered task id.
func NewID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// Observer is told about every persisted record change. The ledger
// implements it.
type Observer interface {
	TaskChanged(ctx context.Context, rec domain.TaskRecord) error
}

// RecordStore keeps one status file, one log file and an optional result
// file per task under Dir.
type RecordStore struct {
	Fs  afero.Fs
	Dir string
	Now func() time.Time
}

func NewRecordStore(fs afero.Fs, dir string) *RecordStore {
	return &RecordStore{Fs: fs, Dir: dir, Now: time.Now}
}

func (s *RecordStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *RecordStore) StatusPath(id string) string { return filepath.Join(s.Dir, id+".json") }
func (s *RecordStore) LogPath(id string) string    { return filepath.Join(s.Dir, id+".log") }
func (s *RecordStore) ResultPath(id string) string { return filepath.Join(s.Dir, id+".result.json") }

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\.`)
}

// Create allocates an id and writes a pending record with an empty log.
func (s *RecordStore) Create(command string, args []string) (domain.TaskRecord, error) {
	now := s.now()
	id := NewID(now)
	rec := domain.TaskRecord{
		ID:        id,
		Command:   command,
		Args:      args,
		Status:    domain.TaskPending,
		LogPath:   s.LogPath(id),
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if err := s.Fs.MkdirAll(s.Dir, 0o755); err != nil {
		return rec, fmt.Errorf("create tasks dir: %w", err)
	}
	if err := afero.WriteFile(s.Fs, rec.LogPath, nil, 0o644); err != nil {
		return rec, fmt.Errorf("create task log: %w", err)
	}
	if err := s.write(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// Get reads the record for id.
func (s *RecordStore) Get(id string) (domain.TaskRecord, error) {
	var rec domain.TaskRecord
	if !validID(id) {
		return rec, &errs.TaskNotFoundError{ID: id}
	}
	data, err := afero.ReadFile(s.Fs, s.StatusPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rec, &errs.TaskNotFoundError{ID: id}
		}
		return rec, fmt.Errorf("read task %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parse task %s: %w", id, err)
	}
	return rec, nil
}

// Transition moves id to status, applying mutate to the record first.
// Regressions and moves out of a terminal status are rejected.
func (s *RecordStore) Transition(id string, status domain.TaskStatus, mutate func(*domain.TaskRecord)) (domain.TaskRecord, error) {
	rec, err := s.Get(id)
	if err != nil {
		return rec, err
	}
	if err := domain.EnsureTaskTransition(rec.Status, status); err != nil {
		return rec, fmt.Errorf("task %s: %w", id, err)
	}
	if mutate != nil {
		mutate(&rec)
	}
	rec.Status = status
	ts := s.now().UTC().Format(time.RFC3339Nano)
	switch status {
	case domain.TaskRunning:
		rec.StartedAt = &ts
	case domain.TaskSucceeded, domain.TaskFailed:
		rec.FinishedAt = &ts
	}
	if err := s.write(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// WriteResult stores the JSON result payload of id and returns its path.
func (s *RecordStore) WriteResult(id string, payload any) (string, error) {
	path := s.ResultPath(id)
	if err := fsutil.WriteJSON(s.Fs, path, payload); err != nil {
		return "", err
	}
	return path, nil
}

// ReadResult returns the raw result payload of id.
func (s *RecordStore) ReadResult(id string) ([]byte, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if rec.ResultPath == "" {
		return nil, fmt.Errorf("task %s has no result", id)
	}
	return afero.ReadFile(s.Fs, rec.ResultPath)
}

// List returns all records, newest first.
func (s *RecordStore) List() ([]domain.TaskRecord, error) {
	entries, err := afero.ReadDir(s.Fs, s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".result.json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	out := make([]domain.TaskRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RecordStore) write(rec domain.TaskRecord) error {
	return fsutil.WriteJSON(s.Fs, s.StatusPath(rec.ID), rec)
}

// tailLines returns the last n lines of data (all when n <= 0).
func tailLines(data []byte, n int) string {
	if n <= 0 {
		return string(data)
	}
	trimmed := bytes.TrimRight(data, "\n")
	if len(trimmed) == 0 {
		return ""
	}
	lines := bytes.Split(trimmed, []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("\n"))) + "\n"
}
