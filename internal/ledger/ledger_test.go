package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agdt/internal/domain"
	"agdt/internal/events"
	"agdt/internal/ledger"
	"agdt/internal/migrate"
	"agdt/internal/repo"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	l.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { l.Close() })
	return l
}

func TestMigrateIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	migrations, err := migrate.Load()
	require.NoError(t, err)
	version, err := migrate.Migrate(context.Background(), l.DB)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, version)
}

func TestTaskChangedIndexesAndLogs(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	rec := domain.TaskRecord{
		ID:        "01HZZTASK0000000000000001",
		Command:   "jira.fetch-issue",
		Status:    domain.TaskPending,
		LogPath:   "/tmp/t.log",
		CreatedAt: "2024-01-01T00:00:00Z",
	}
	require.NoError(t, l.TaskChanged(ctx, rec))
	rec.Status = domain.TaskRunning
	require.NoError(t, l.TaskChanged(ctx, rec))
	rec.Status = domain.TaskFailed
	rec.Error = "jira get issue failed: status=404"
	require.NoError(t, l.TaskChanged(ctx, rec))

	got, err := l.Repo.GetTask(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, got.Status)
	assert.Equal(t, rec.Error, got.Error)

	list, err := l.Repo.ListTasks(ctx, repo.TaskFilters{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	counts, err := l.Repo.CountTasksByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"failed": 1}, counts)

	evts, err := l.Repo.LatestEvents(ctx, 10, "", "task", rec.ID)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, events.TaskFailed, evts[0].Type)
	assert.Equal(t, events.TaskSpawned, evts[2].Type)

	_, err = l.Repo.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestWorkflowTransitionHistory(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	steps := [][2]string{{"", "initiate"}, {"initiate", "file-review"}, {"file-review", "summary"}}
	for _, s := range steps {
		require.NoError(t, l.WorkflowTransitioned(ctx, domain.WorkflowTransition{
			InstanceID: "wf-1",
			Workflow:   "pull-request-review",
			FromStep:   s[0],
			ToStep:     s[1],
			EntityID:   "42",
		}, events.WorkflowAdvanced))
	}
	history, err := l.Repo.WorkflowHistory(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "summary", history[2].ToStep)

	evts, err := l.Repo.LatestEvents(ctx, 2, events.WorkflowAdvanced, "", "")
	require.NoError(t, err)
	assert.Len(t, evts, 2)
}

func TestNilLedgerIsNoop(t *testing.T) {
	var l *ledger.Ledger
	assert.NoError(t, l.TaskChanged(context.Background(), domain.TaskRecord{}))
	assert.NoError(t, l.Record(context.Background(), "x", "y", "z", nil))
	assert.NoError(t, l.Close())
}
