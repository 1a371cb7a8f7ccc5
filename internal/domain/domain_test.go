package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusNeverRegresses(t *testing.T) {
	all := []TaskStatus{TaskPending, TaskRunning, TaskSucceeded, TaskFailed}
	rank := map[TaskStatus]int{TaskPending: 0, TaskRunning: 1, TaskSucceeded: 2, TaskFailed: 2}
	for _, from := range all {
		for _, to := range all {
			err := EnsureTaskTransition(from, to)
			if from.Terminal() {
				assert.Error(t, err, "%s -> %s", from, to)
				continue
			}
			if rank[to] <= rank[from] {
				assert.Error(t, err, "%s -> %s", from, to)
			}
		}
	}
}

func TestTaskStatusValidTransitions(t *testing.T) {
	assert.NoError(t, EnsureTaskTransition(TaskPending, TaskRunning))
	assert.NoError(t, EnsureTaskTransition(TaskPending, TaskFailed))
	assert.NoError(t, EnsureTaskTransition(TaskRunning, TaskSucceeded))
	assert.NoError(t, EnsureTaskTransition(TaskRunning, TaskFailed))
	assert.Error(t, EnsureTaskTransition(TaskPending, TaskSucceeded))
	assert.Error(t, EnsureTaskTransition(TaskRunning, "done"))
}

func TestTerminal(t *testing.T) {
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskRunning.Terminal())
	assert.True(t, TaskSucceeded.Terminal())
	assert.True(t, TaskFailed.Terminal())
}
