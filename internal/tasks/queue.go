package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agdt/internal/domain"
)

// Job names an action and the arguments it was invoked with.
type Job struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// RunContext is handed to a Handler while a task executes.
type RunContext struct {
	TaskID string
	Args   []string
	// Log writes into the task log file.
	Log *zap.Logger
}

// Handler performs one action. A non-nil result is stored as the task's
// result payload.
type Handler func(ctx context.Context, rc RunContext) (any, error)

// Resolver maps a command name to its handler.
type Resolver interface {
	Resolve(command string) (Handler, error)
}

// Queue accepts jobs for background execution.
type Queue interface {
	Submit(ctx context.Context, job Job) (Handle, error)
}

// Handle refers to a submitted task.
type Handle struct {
	id        string
	inspector *Inspector
}

func NewHandle(id string, inspector *Inspector) Handle {
	return Handle{id: id, inspector: inspector}
}

func (h Handle) ID() string { return h.id }

// Wait blocks until the task is terminal or timeout elapses. On timeout the
// current record is returned without error.
func (h Handle) Wait(ctx context.Context, timeout time.Duration) (domain.TaskRecord, error) {
	if h.inspector == nil {
		return domain.TaskRecord{}, errors.New("task handle has no inspector")
	}
	return h.inspector.Wait(ctx, h.id, timeout)
}

// Observers fans a record change out to several observers.
type Observers []Observer

func (o Observers) TaskChanged(ctx context.Context, rec domain.TaskRecord) error {
	var errList []error
	for _, obs := range o {
		if obs == nil {
			continue
		}
		if err := obs.TaskChanged(ctx, rec); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec domain.TaskRecord) error

func (f ObserverFunc) TaskChanged(ctx context.Context, rec domain.TaskRecord) error {
	return f(ctx, rec)
}

func notify(ctx context.Context, obs Observer, log *zap.Logger, rec domain.TaskRecord) {
	if obs == nil {
		return
	}
	if err := obs.TaskChanged(ctx, rec); err != nil && log != nil {
		log.Warn("task observer failed", zap.String("task_id", rec.ID), zap.Error(err))
	}
}

// HandlerMap is a Resolver backed by a fixed map.
type HandlerMap map[string]Handler

func (m HandlerMap) Resolve(command string) (Handler, error) {
	h, ok := m[command]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", command)
	}
	return h, nil
}
