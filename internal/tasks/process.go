package tasks

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"agdt/internal/domain"
)

// ProcessExecutor runs each task in a detached copy of the current binary
// (`agdt task exec <id>`), so the spawning command can return immediately.
type ProcessExecutor struct {
	Records   *RecordStore
	Inspector *Inspector
	Observer  Observer
	Log       *zap.Logger
	// Executable defaults to os.Executable().
	Executable string
	// ExtraArgs are appended after the task id, e.g. workspace flags.
	ExtraArgs []string
	// Env defaults to the current environment.
	Env []string
	Dir string
}

func (p *ProcessExecutor) log() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}

// Submit writes a pending record and starts the detached worker process.
// A process that cannot be started leaves the task failed.
func (p *ProcessExecutor) Submit(ctx context.Context, job Job) (Handle, error) {
	rec, err := p.Records.Create(job.Command, job.Args)
	if err != nil {
		return Handle{}, err
	}
	notify(ctx, p.Observer, p.log(), rec)
	handle := NewHandle(rec.ID, p.Inspector)

	if err := p.start(rec); err != nil {
		failed, terr := p.Records.Transition(rec.ID, domain.TaskFailed, func(r *domain.TaskRecord) {
			r.Error = err.Error()
		})
		if terr == nil {
			notify(ctx, p.Observer, p.log(), failed)
		}
		return handle, fmt.Errorf("spawn task %s: %w", rec.ID, err)
	}
	p.log().Debug("task spawned", zap.String("task_id", rec.ID), zap.String("command", rec.Command))
	return handle, nil
}

func (p *ProcessExecutor) start(rec domain.TaskRecord) error {
	exe := p.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		exe = self
	}
	logFile, err := os.OpenFile(rec.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open task log: %w", err)
	}
	defer logFile.Close()

	args := append([]string{"task", "exec", rec.ID}, p.ExtraArgs...)
	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Dir = p.Dir
	cmd.Env = p.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.SysProcAttr = detachedProcAttr()
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
