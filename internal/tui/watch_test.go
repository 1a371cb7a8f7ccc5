package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"agdt/internal/domain"
	"agdt/internal/errs"
)

type fakeSource struct {
	rec domain.TaskRecord
	log string
	err error
}

func (f *fakeSource) Status(id string) (domain.TaskRecord, error) { return f.rec, f.err }
func (f *fakeSource) Log(id string, tail int) (string, error)     { return f.log, nil }

func TestNewModelDefaults(t *testing.T) {
	m := NewModel(&fakeSource{}, "01HX", 0, 0)
	assert.Equal(t, 500*time.Millisecond, m.interval)
	assert.Equal(t, 15, m.tail)
	assert.NotNil(t, m.Init())
}

func TestRefreshReadsSource(t *testing.T) {
	src := &fakeSource{
		rec: domain.TaskRecord{ID: "01HX", Command: "jira.fetch-issue", Status: domain.TaskRunning},
		log: "fetching DFLY-1234\n",
	}
	m := NewModel(src, "01HX", time.Second, 5)
	msg := m.refresh()()
	snap, ok := msg.(snapshotMsg)
	assert.True(t, ok)
	assert.Equal(t, domain.TaskRunning, snap.record.Status)

	updated, cmd := m.Update(snap)
	um := updated.(Model)
	assert.NotNil(t, cmd, "running task schedules the next tick")
	assert.False(t, um.done)
	view := um.View()
	assert.Contains(t, view, "jira.fetch-issue")
	assert.Contains(t, view, "fetching DFLY-1234")
	assert.Contains(t, view, "q quit")
}

func TestTerminalSnapshotQuits(t *testing.T) {
	m := NewModel(&fakeSource{}, "01HX", time.Second, 5)
	updated, cmd := m.Update(snapshotMsg{record: domain.TaskRecord{
		ID: "01HX", Command: "azdo.approve", Status: domain.TaskFailed, Error: "azdo approve failed: status=403",
	}})
	um := updated.(Model)
	assert.True(t, um.done)
	assert.NotNil(t, cmd)
	assert.Equal(t, domain.TaskFailed, um.Record().Status)
	view := um.View()
	assert.Contains(t, view, "failed")
	assert.Contains(t, view, "status=403")
	assert.False(t, strings.Contains(view, "q quit"))
}

func TestSourceErrorStops(t *testing.T) {
	src := &fakeSource{err: &errs.TaskNotFoundError{ID: "nope"}}
	m := NewModel(src, "nope", time.Second, 5)
	updated, cmd := m.Update(m.refresh()())
	um := updated.(Model)
	assert.NotNil(t, cmd)
	var nf *errs.TaskNotFoundError
	assert.True(t, errors.As(um.Err(), &nf))
	assert.Contains(t, um.View(), "task nope not found")
}

func TestQuitKey(t *testing.T) {
	m := NewModel(&fakeSource{}, "01HX", time.Second, 5)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.True(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}
