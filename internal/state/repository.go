package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"agdt/internal/fsutil"
)

// Repository loads and saves the state document.
type Repository interface {
	// Load returns the current values; a missing document is empty.
	Load(ctx context.Context) (Values, error)
	// Update runs fn on the current values under the write lock and
	// persists the result if fn returns nil.
	Update(ctx context.Context, fn func(Values) error) error
}

// FileRepository keeps the state as one JSON object on disk.
type FileRepository struct {
	Fs      afero.Fs
	Path    string
	Locker  Locker
	Timeout time.Duration
}

// NewFileRepository returns a repository for path. Real filesystems get a
// flock based locker; in-memory ones an in-process mutex.
func NewFileRepository(fs afero.Fs, path string, timeout time.Duration) *FileRepository {
	var locker Locker
	if _, ok := fs.(*afero.OsFs); ok {
		locker = NewFileLocker(path)
	} else {
		locker = &MutexLocker{Name: path}
	}
	return &FileRepository{Fs: fs, Path: path, Locker: locker, Timeout: timeout}
}

func (r *FileRepository) Load(ctx context.Context) (Values, error) {
	return r.read()
}

func (r *FileRepository) Update(ctx context.Context, fn func(Values) error) error {
	unlock, err := r.Locker.Lock(ctx, r.Timeout)
	if err != nil {
		return err
	}
	defer unlock()

	values, err := r.read()
	if err != nil {
		return err
	}
	if err := fn(values); err != nil {
		return err
	}
	return r.write(values)
}

func (r *FileRepository) read() (Values, error) {
	data, err := afero.ReadFile(r.Fs, r.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Values{}, nil
		}
		return nil, fmt.Errorf("read state %s: %w", r.Path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Values{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	values := Values{}
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", r.Path, err)
	}
	return values, nil
}

func (r *FileRepository) write(values Values) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return fsutil.WriteFileAtomic(r.Fs, r.Path, append(data, '\n'))
}

// MemoryRepository holds state in memory.
type MemoryRepository struct {
	mu     sync.Mutex
	values Values
}

// NewMemoryRepository returns a repository seeded with a copy of initial.
func NewMemoryRepository(initial Values) *MemoryRepository {
	return &MemoryRepository{values: initial.Clone()}
}

func (m *MemoryRepository) Load(ctx context.Context) (Values, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values.Clone(), nil
}

func (m *MemoryRepository) Update(ctx context.Context, fn func(Values) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.values.Clone()
	if err := fn(next); err != nil {
		return err
	}
	m.values = next
	return nil
}
