package tasks

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"agdt/internal/domain"
	"agdt/internal/logging"
)

// Runner executes pending tasks. It is the worker body shared by the
// detached process and the in-process pool.
type Runner struct {
	Records  *RecordStore
	Resolver Resolver
	Observer Observer
	Log      *zap.Logger
}

func (r *Runner) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// Execute runs task id to a terminal status. Action failures are recorded
// on the task and not returned; the error is only non-nil when the record
// itself cannot be read or written.
func (r *Runner) Execute(ctx context.Context, id string) (domain.TaskRecord, error) {
	rec, err := r.Records.Transition(id, domain.TaskRunning, func(rec *domain.TaskRecord) {
		rec.PID = os.Getpid()
	})
	if err != nil {
		return rec, err
	}
	notify(ctx, r.Observer, r.log(), rec)

	logFile, err := r.Records.Fs.OpenFile(rec.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return r.finish(ctx, rec, nil, fmt.Errorf("open task log: %w", err))
	}
	defer logFile.Close()
	taskLog := logging.ForTask(logFile, id)
	defer taskLog.Sync()

	taskLog.Info("task started", zap.String("command", rec.Command), zap.Strings("args", rec.Args))
	result, runErr := r.run(ctx, rec, taskLog)
	if runErr != nil {
		taskLog.Error("task failed", zap.Error(runErr))
	} else {
		taskLog.Info("task succeeded")
	}
	return r.finish(ctx, rec, result, runErr)
}

func (r *Runner) run(ctx context.Context, rec domain.TaskRecord, taskLog *zap.Logger) (result any, err error) {
	handler, err := r.Resolver.Resolve(rec.Command)
	if err != nil {
		return nil, err
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("action %s panicked: %v", rec.Command, p)
		}
	}()
	return handler(ctx, RunContext{TaskID: rec.ID, Args: rec.Args, Log: taskLog})
}

func (r *Runner) finish(ctx context.Context, rec domain.TaskRecord, result any, runErr error) (domain.TaskRecord, error) {
	var resultPath string
	if runErr == nil && result != nil {
		path, err := r.Records.WriteResult(rec.ID, result)
		if err != nil {
			runErr = err
		} else {
			resultPath = path
		}
	}
	status := domain.TaskSucceeded
	if runErr != nil {
		status = domain.TaskFailed
	}
	final, err := r.Records.Transition(rec.ID, status, func(rec *domain.TaskRecord) {
		rec.ResultPath = resultPath
		if runErr != nil {
			rec.Error = runErr.Error()
		}
	})
	if err != nil {
		return final, err
	}
	notify(ctx, r.Observer, r.log(), final)
	r.log().Debug("task finished", zap.String("task_id", final.ID), zap.String("status", string(final.Status)))
	return final, nil
}
