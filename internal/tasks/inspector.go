package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"agdt/internal/domain"
)

const defaultPollInterval = 500 * time.Millisecond

// Inspector reads task status, logs and results. It never changes a task.
type Inspector struct {
	Records      *RecordStore
	PollInterval time.Duration
}

func NewInspector(records *RecordStore, poll time.Duration) *Inspector {
	return &Inspector{Records: records, PollInterval: poll}
}

func (i *Inspector) Status(id string) (domain.TaskRecord, error) {
	return i.Records.Get(id)
}

// Log returns the task log, or only its last tail lines when tail > 0.
func (i *Inspector) Log(id string, tail int) (string, error) {
	rec, err := i.Records.Get(id)
	if err != nil {
		return "", err
	}
	data, err := afero.ReadFile(i.Records.Fs, rec.LogPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read task log: %w", err)
	}
	return tailLines(data, tail), nil
}

// Result returns the stored result payload of a succeeded task.
func (i *Inspector) Result(id string) ([]byte, error) {
	return i.Records.ReadResult(id)
}

// Wait polls until the task is terminal or timeout elapses. On timeout the
// latest non-terminal record is returned with a nil error. A zero timeout
// waits until ctx is done.
func (i *Inspector) Wait(ctx context.Context, id string, timeout time.Duration) (domain.TaskRecord, error) {
	rec, err := i.Records.Get(id)
	if err != nil || rec.Status.Terminal() {
		return rec, err
	}

	poll := i.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var changes <-chan fsnotify.Event
	if watcher := i.watch(); watcher != nil {
		defer watcher.Close()
		changes = watcher.Events
	}
	statusPath := filepath.Clean(i.Records.StatusPath(id))

	for {
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-deadline:
			return rec, nil
		case evt, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if filepath.Clean(evt.Name) != statusPath {
				continue
			}
		case <-ticker.C:
		}
		current, err := i.Records.Get(id)
		if err != nil {
			return rec, err
		}
		rec = current
		if rec.Status.Terminal() {
			return rec, nil
		}
	}
}

// watch returns a watcher on the tasks dir when records live on the OS
// filesystem. Polling still runs when it is nil.
func (i *Inspector) watch() *fsnotify.Watcher {
	if _, ok := i.Records.Fs.(*afero.OsFs); !ok {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := watcher.Add(i.Records.Dir); err != nil {
		watcher.Close()
		return nil
	}
	return watcher
}
