package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"agdt/internal/domain"
	"agdt/internal/errs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses map[string][]domain.TaskStatus
}

func (o *recordingObserver) TaskChanged(_ context.Context, rec domain.TaskRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.statuses == nil {
		o.statuses = map[string][]domain.TaskStatus{}
	}
	o.statuses[rec.ID] = append(o.statuses[rec.ID], rec.Status)
	return nil
}

func (o *recordingObserver) seen(id string) []domain.TaskStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.TaskStatus(nil), o.statuses[id]...)
}

func newRecords() *RecordStore {
	return NewRecordStore(afero.NewMemMapFs(), "/ws/scripts/temp/tasks")
}

func TestRecordStoreLifecycle(t *testing.T) {
	s := newRecords()
	rec, err := s.Create("jira.fetch-issue", []string{"--key", "DFLY-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, rec.Status)
	assert.Equal(t, filepath.Join(s.Dir, rec.ID+".log"), rec.LogPath)

	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	running, err := s.Transition(rec.ID, domain.TaskRunning, nil)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)

	_, err = s.Transition(rec.ID, domain.TaskPending, nil)
	assert.Error(t, err, "status must not regress")

	done, err := s.Transition(rec.ID, domain.TaskSucceeded, nil)
	require.NoError(t, err)
	require.NotNil(t, done.FinishedAt)

	_, err = s.Transition(rec.ID, domain.TaskFailed, nil)
	assert.Error(t, err, "terminal status is final")
}

func TestRecordStoreNotFound(t *testing.T) {
	s := newRecords()
	for _, id := range []string{"01HZZNOPE", "", "../etc/passwd"} {
		_, err := s.Get(id)
		var nf *errs.TaskNotFoundError
		assert.True(t, errors.As(err, &nf), id)
	}
}

func TestRecordStoreListNewestFirst(t *testing.T) {
	s := newRecords()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		s.Now = func() time.Time { return at }
		rec, err := s.Create("noop", nil)
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	_, err := s.WriteResult(ids[0], map[string]string{"ok": "yes"})
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[0], list[2].ID)
}

func TestTailLines(t *testing.T) {
	data := []byte("a\nb\nc\n")
	assert.Equal(t, "a\nb\nc\n", tailLines(data, 0))
	assert.Equal(t, "b\nc\n", tailLines(data, 2))
	assert.Equal(t, "a\nb\nc\n", tailLines(data, 10))
	assert.Equal(t, "", tailLines(nil, 3))
}

func newPool(t *testing.T, handlers HandlerMap, obs Observer) (*Pool, *Inspector) {
	t.Helper()
	records := newRecords()
	inspector := NewInspector(records, 5*time.Millisecond)
	runner := &Runner{Records: records, Resolver: handlers, Observer: obs}
	pool := NewPool(runner, inspector, 2, 4)
	pool.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, pool.Shutdown(ctx))
	})
	return pool, inspector
}

func TestPoolRunsTaskToSuccess(t *testing.T) {
	obs := &recordingObserver{}
	pool, inspector := newPool(t, HandlerMap{
		"echo": func(_ context.Context, rc RunContext) (any, error) {
			rc.Log.Info("echoing")
			return map[string]any{"args": rc.Args}, nil
		},
	}, obs)

	h, err := pool.Submit(context.Background(), Job{Command: "echo", Args: []string{"hi"}})
	require.NoError(t, err)
	rec, err := h.Wait(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskSucceeded, rec.Status)
	assert.Empty(t, rec.Error)

	result, err := inspector.Result(h.ID())
	require.NoError(t, err)
	assert.JSONEq(t, `{"args":["hi"]}`, string(result))

	log, err := inspector.Log(h.ID(), 0)
	require.NoError(t, err)
	assert.Contains(t, log, "echoing")
	assert.Contains(t, log, h.ID())

	assert.Equal(t, []domain.TaskStatus{domain.TaskPending, domain.TaskRunning, domain.TaskSucceeded}, obs.seen(h.ID()))
}

func TestPoolRecordsFailures(t *testing.T) {
	pool, inspector := newPool(t, HandlerMap{
		"boom":  func(context.Context, RunContext) (any, error) { return nil, errors.New("jira get issue failed: status=404") },
		"panic": func(context.Context, RunContext) (any, error) { panic("nil map") },
	}, nil)

	cases := map[string]string{
		"boom":    "status=404",
		"panic":   "panicked",
		"missing": "unknown action",
	}
	for command, want := range cases {
		h, err := pool.Submit(context.Background(), Job{Command: command})
		require.NoError(t, err, "failures are recorded, not raised")
		rec, err := h.Wait(context.Background(), 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskFailed, rec.Status, command)
		assert.Contains(t, rec.Error, want)

		log, err := inspector.Log(h.ID(), 1)
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(log, "\n"))
	}
}

func TestWaitTimeoutReturnsNonTerminalStatus(t *testing.T) {
	release := make(chan struct{})
	pool, inspector := newPool(t, HandlerMap{
		"slow": func(ctx context.Context, _ RunContext) (any, error) {
			<-release
			return nil, nil
		},
	}, nil)
	h, err := pool.Submit(context.Background(), Job{Command: "slow"})
	require.NoError(t, err)

	rec, err := inspector.Wait(context.Background(), h.ID(), 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, rec.Status.Terminal())

	close(release)
	rec, err = h.Wait(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskSucceeded, rec.Status)
}

func TestWaitUnknownTask(t *testing.T) {
	inspector := NewInspector(newRecords(), time.Millisecond)
	_, err := inspector.Wait(context.Background(), "01HZZUNKNOWN", time.Second)
	var nf *errs.TaskNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestSubmitAfterShutdown(t *testing.T) {
	records := newRecords()
	pool := NewPool(&Runner{Records: records, Resolver: HandlerMap{}}, NewInspector(records, time.Millisecond), 1, 1)
	pool.Start(context.Background())
	require.NoError(t, pool.Shutdown(context.Background()))
	_, err := pool.Submit(context.Background(), Job{Command: "echo"})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestProcessExecutorSpawnFailureMarksFailed(t *testing.T) {
	records := NewRecordStore(afero.NewOsFs(), t.TempDir())
	obs := &recordingObserver{}
	exec := &ProcessExecutor{
		Records:    records,
		Inspector:  NewInspector(records, time.Millisecond),
		Observer:   obs,
		Executable: filepath.Join(t.TempDir(), "does-not-exist"),
	}
	h, err := exec.Submit(context.Background(), Job{Command: "jira.fetch-issue"})
	require.Error(t, err)
	require.NotEmpty(t, h.ID())

	rec, err := records.Get(h.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)
	assert.Equal(t, []domain.TaskStatus{domain.TaskPending, domain.TaskFailed}, obs.seen(h.ID()))
}

func TestObserversJoinErrors(t *testing.T) {
	var calls int
	ok := ObserverFunc(func(context.Context, domain.TaskRecord) error { calls++; return nil })
	bad := ObserverFunc(func(context.Context, domain.TaskRecord) error { calls++; return errors.New("db closed") })
	err := Observers{ok, nil, bad}.TaskChanged(context.Background(), domain.TaskRecord{})
	assert.EqualError(t, err, "db closed")
	assert.Equal(t, 2, calls)
}
