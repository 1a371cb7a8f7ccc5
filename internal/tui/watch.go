// Package tui renders a live view of one background task.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"agdt/internal/domain"
)

// Source reads task status and log output. *tasks.Inspector satisfies it.
type Source interface {
	Status(id string) (domain.TaskRecord, error)
	Log(id string, tail int) (string, error)
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	succeededStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)

	logStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1)
)

// Model is the bubbletea model of the task watch view.
type Model struct {
	src      Source
	id       string
	interval time.Duration
	tail     int

	spinner  spinner.Model
	record   domain.TaskRecord
	log      string
	err      error
	quitting bool
	done     bool
}

// NewModel watches task id, refreshing every interval and showing the last
// tail log lines.
func NewModel(src Source, id string, interval time.Duration, tail int) Model {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if tail <= 0 {
		tail = 15
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = pendingStyle
	return Model{src: src, id: id, interval: interval, tail: tail, spinner: sp}
}

// Record is the last status read.
func (m Model) Record() domain.TaskRecord { return m.record }

// Err is the last read error, if any.
func (m Model) Err() error { return m.err }

type tickMsg time.Time

type snapshotMsg struct {
	record domain.TaskRecord
	log    string
	err    error
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) refresh() tea.Cmd {
	src, id, tail := m.src, m.id, m.tail
	return func() tea.Msg {
		rec, err := src.Status(id)
		if err != nil {
			return snapshotMsg{err: err}
		}
		text, _ := src.Log(id, tail)
		return snapshotMsg{record: rec, log: text}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}
	case tickMsg:
		return m, m.refresh()
	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, tea.Quit
		}
		m.record, m.log, m.err = msg.record, msg.log, nil
		if m.record.Status.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, m.tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func statusBadge(s domain.TaskStatus) string {
	switch s {
	case domain.TaskSucceeded:
		return succeededStyle.Render("✓ succeeded")
	case domain.TaskFailed:
		return failedStyle.Render("✗ failed")
	case "":
		return dimStyle.Render("loading")
	default:
		return pendingStyle.Render(string(s))
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("agdt task " + m.id))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(failedStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
		return b.String()
	}
	prefix := m.spinner.View() + " "
	if m.record.Status.Terminal() {
		prefix = ""
	}
	fmt.Fprintf(&b, "%s%s %s\n", prefix, labelStyle.Render("status:"), statusBadge(m.record.Status))
	if m.record.Command != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("action:"), m.record.Command)
	}
	if m.record.Error != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("error:"), failedStyle.Render(m.record.Error))
	}
	if text := strings.TrimRight(m.log, "\n"); text != "" {
		b.WriteString(logStyle.Render(text))
		b.WriteString("\n")
	}
	if !m.done && !m.quitting {
		b.WriteString(footerStyle.Render("q quit  r refresh"))
		b.WriteString("\n")
	}
	return b.String()
}

// Run shows the watch view until the task finishes or the user quits, and
// returns the last record read.
func Run(ctx context.Context, src Source, id string, interval time.Duration, in io.Reader, out io.Writer) (domain.TaskRecord, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(out)}
	if in != nil {
		opts = append(opts, tea.WithInput(in))
	}
	final, err := tea.NewProgram(NewModel(src, id, interval, 0), opts...).Run()
	if err != nil {
		return domain.TaskRecord{}, err
	}
	m := final.(Model)
	return m.record, m.err
}
