package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agdt/internal/errs"
	"agdt/internal/events"
	"agdt/internal/ledger"
	"agdt/internal/prompt"
	"agdt/internal/state"
)

func newSequencer(t *testing.T, withLedger bool) *Sequencer {
	t.Helper()
	s := &Sequencer{
		Store:   state.NewStore(state.NewMemoryRepository(nil)),
		Prompts: prompt.NewRenderer(nil, ""),
		Now:     func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
	}
	if withLedger {
		l, err := ledger.Open(context.Background(), t.TempDir(), nil)
		require.NoError(t, err)
		t.Cleanup(func() { l.Close() })
		s.Ledger = l
	}
	return s
}

func TestDefinitionsAreConsistent(t *testing.T) {
	for _, def := range Definitions() {
		assert.Equal(t, Initiate, def.Steps[0], def.Name)
		assert.Equal(t, Complete, def.Steps[len(def.Steps)-1], def.Name)
		assert.Empty(t, def.Allowed(Complete), def.Name)
		for from, tos := range def.Transitions {
			assert.True(t, def.HasStep(from), "%s: %s", def.Name, from)
			for _, to := range tos {
				assert.True(t, def.HasStep(to), "%s: %s", def.Name, to)
			}
		}
		for step, counter := range def.LeaveCounters {
			assert.True(t, def.HasStep(step))
			assert.True(t, def.hasCounter(counter))
		}
		for _, step := range def.Steps {
			_, err := prompt.NewRenderer(nil, "").Load(def.PromptID(step))
			assert.NoError(t, err, def.PromptID(step))
		}
	}
}

func TestStartSeedsCountersAndEntity(t *testing.T) {
	ctx := context.Background()
	s := newSequencer(t, false)

	inst, err := s.Start(ctx, "work-on-jira-issue", "DFLY-1234", false)
	require.NoError(t, err)
	assert.Equal(t, Initiate, inst.Step)
	assert.NotEmpty(t, inst.ID)

	values, err := s.Store.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DFLY-1234", values["jira.issue_key"])
	assert.Equal(t, 0, values["workflow.iterations"])
	assert.Equal(t, "work-on-jira-issue", values["workflow.name"])

	_, err = s.Start(ctx, "pull-request-review", "", false)
	assert.ErrorIs(t, err, ErrWorkflowActive)

	inst, err = s.Start(ctx, "pull-request-review", "42", true)
	require.NoError(t, err)
	values, err = s.Store.Dump(ctx)
	require.NoError(t, err)
	_, stale := values["workflow.iterations"]
	assert.False(t, stale)
	assert.Equal(t, "pull-request-review", inst.Workflow)

	assert.Equal(t, "42", values["workflow.entity_id"])

	_, err = s.Start(ctx, "nope", "", true)
	assert.Error(t, err)
}

func TestStartWithoutEntityLeavesKeyUnset(t *testing.T) {
	ctx := context.Background()
	s := newSequencer(t, false)
	_, err := s.Start(ctx, "pull-request-review", "PR-1", false)
	require.NoError(t, err)
	_, err = s.Start(ctx, "pull-request-review", "", true)
	require.NoError(t, err)

	values, err := s.Store.Dump(ctx)
	require.NoError(t, err)
	_, present := values["workflow.entity_id"]
	assert.False(t, present)
	assert.Equal(t, []string{"workflow.entity_id"}, values.Missing("workflow.entity_id"))
}

func TestAdvanceCountsReviewedFiles(t *testing.T) {
	ctx := context.Background()
	s := newSequencer(t, true)
	started, err := s.Start(ctx, "pull-request-review", "42", false)
	require.NoError(t, err)

	for _, step := range []Step{FileReview, FileReview, FileReview, Summary} {
		_, err := s.Advance(ctx, step, nil)
		require.NoError(t, err)
	}
	inst, active, err := s.Current(ctx)
	require.NoError(t, err)
	require.True(t, active)
	assert.Equal(t, Summary, inst.Step)
	assert.Equal(t, 3, inst.Counters["files_reviewed"])

	out, err := s.Prompt(ctx)
	require.NoError(t, err)
	assert.Contains(t, out.Text, "You reviewed 3 file(s).")
	assert.Empty(t, out.Missing)

	_, err = s.Advance(ctx, Decision, nil)
	require.NoError(t, err)
	done, err := s.Advance(ctx, Complete, []string{"approvals"})
	require.NoError(t, err)
	assert.Equal(t, Complete, done.Step)
	assert.Equal(t, 1, done.Counters["approvals"])

	_, active, err = s.Current(ctx)
	require.NoError(t, err)
	assert.False(t, active)

	history, err := s.History(ctx, started.ID)
	require.NoError(t, err)
	require.Len(t, history, 7)
	assert.Equal(t, "", history[0].FromStep)
	assert.Equal(t, "complete", history[6].ToStep)

	evts, err := s.Ledger.Repo.LatestEvents(ctx, 1, "", "workflow", started.ID)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, events.WorkflowCompleted, evts[0].Type)
}

func TestAdvanceRejectsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	s := newSequencer(t, false)
	_, err := s.Advance(ctx, Planning, nil)
	assert.ErrorIs(t, err, ErrNoActiveWorkflow)

	_, err = s.Start(ctx, "work-on-jira-issue", "DFLY-1", false)
	require.NoError(t, err)

	_, err = s.Advance(ctx, Verification, nil)
	var invalid *errs.InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, []string{"planning"}, invalid.Allowed)
	assert.Equal(t, errs.ExitValidation, errs.ExitCode(err))

	_, err = s.Advance(ctx, Planning, []string{"approvals"})
	assert.Error(t, err)

	inst, _, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, Initiate, inst.Step)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := newSequencer(t, true)
	existed, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = s.Start(ctx, "create-jira-issue", "DFLY", false)
	require.NoError(t, err)
	require.NoError(t, s.Store.Set(ctx, "jira.summary", "keep me"))

	existed, err = s.Clear(ctx)
	require.NoError(t, err)
	assert.True(t, existed)

	values, err := s.Store.Dump(ctx)
	require.NoError(t, err)
	assert.Empty(t, values.WithPrefix("workflow"))
	assert.Equal(t, "keep me", values["jira.summary"])

	_, err = s.Prompt(ctx)
	assert.ErrorIs(t, err, ErrNoActiveWorkflow)
}
