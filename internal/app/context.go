// Package app wires the workspace configuration, state, task queue and
// service clients together for one agdt invocation.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"agdt/internal/actions"
	"agdt/internal/config"
	"agdt/internal/ledger"
	"agdt/internal/logging"
	"agdt/internal/prompt"
	"agdt/internal/state"
	"agdt/internal/tasks"
	"agdt/internal/workflow"
)

// Options select the workspace and how it is opened.
type Options struct {
	Workspace  string
	ConfigPath string
	LogLevel   string
	LogFormat  string
	LogOutput  io.Writer
	// Getenv reads secrets; nil means os.Getenv.
	Getenv func(string) string
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// NoLedger skips opening the SQLite ledger.
	NoLedger bool
}

// App is everything a command needs.
type App struct {
	Workspace string
	Config    *config.Config
	Secrets   config.Secrets
	Fs        afero.Fs
	Log       *zap.Logger
	Store     *state.Store
	Records   *tasks.RecordStore
	Inspector *tasks.Inspector
	Ledger    *ledger.Ledger
	Registry  *actions.Registry
	Env       *actions.Env
	Prompts   *prompt.Renderer
	Workflow  *workflow.Sequencer
}

// Open loads the workspace configuration and builds the App. The ledger is
// best effort: when it cannot be opened the App runs without history.
func Open(ctx context.Context, opts Options) (*App, error) {
	workspace := opts.Workspace
	if strings.TrimSpace(workspace) == "" {
		workspace = "."
	}
	cfg, err := loadConfig(workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logging.Config{Level: opts.LogLevel, Format: opts.LogFormat, Output: opts.LogOutput})
	if err != nil {
		return nil, err
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	a := &App{
		Workspace: workspace,
		Config:    cfg,
		Secrets:   config.SecretsFromEnv(opts.Getenv),
		Fs:        fs,
		Log:       log,
	}
	a.Store = state.NewStore(state.NewFileRepository(fs, cfg.StatePath(workspace), cfg.Timeouts.StateLock.Std()))
	a.Records = tasks.NewRecordStore(fs, cfg.TasksPath(workspace))
	a.Inspector = tasks.NewInspector(a.Records, cfg.Timeouts.PollInterval.Std())
	if !opts.NoLedger {
		l, err := ledger.Open(ctx, cfg.TempPath(workspace), log)
		if err != nil {
			log.Warn("ledger unavailable, continuing without history", zap.Error(err))
		} else {
			a.Ledger = l
		}
	}
	a.Registry = actions.Default()
	a.Env = &actions.Env{
		Workspace: workspace,
		Config:    cfg,
		Secrets:   a.Secrets,
		Store:     a.Store,
		Fs:        fs,
		Log:       log,
		Now:       time.Now,
		Ledger:    a.Ledger,
	}
	a.Prompts = prompt.NewRenderer(fs, cfg.PromptsPath(workspace))
	a.Workflow = &workflow.Sequencer{
		Store:   a.Store,
		Prompts: a.Prompts,
		Ledger:  a.Ledger,
		Log:     log,
	}
	return a, nil
}

func loadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.LoadOptional(workspace)
}

// Close releases the ledger and flushes the logger.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	_ = a.Log.Sync()
	return a.Ledger.Close()
}

// Observer is notified of every task record change.
func (a *App) Observer() tasks.Observer {
	if a.Ledger == nil {
		return nil
	}
	return a.Ledger
}

// Runner executes tasks against this App's actions.
func (a *App) Runner(log *zap.Logger) *tasks.Runner {
	if log == nil {
		log = a.Log
	}
	return &tasks.Runner{
		Records:  a.Records,
		Resolver: a.Registry.Resolver(a.Env),
		Observer: a.Observer(),
		Log:      log,
	}
}

// ProcessQueue spawns each task as a detached agdt process.
func (a *App) ProcessQueue(executable string, extraArgs []string) *tasks.ProcessExecutor {
	if executable == "" {
		if exe, err := os.Executable(); err == nil {
			executable = exe
		}
	}
	return &tasks.ProcessExecutor{
		Records:    a.Records,
		Inspector:  a.Inspector,
		Observer:   a.Observer(),
		Log:        a.Log,
		Executable: executable,
		ExtraArgs:  extraArgs,
		Dir:        a.Workspace,
	}
}

// Pool returns an in-process worker pool sized from config. extra observers
// see every task change alongside the ledger.
func (a *App) Pool(extra ...tasks.Observer) *tasks.Pool {
	runner := a.Runner(nil)
	if len(extra) > 0 {
		runner.Observer = append(tasks.Observers{a.Observer()}, extra...)
	}
	return tasks.NewPool(runner, a.Inspector, a.Config.Workers.Size, a.Config.Workers.Queue)
}

// Submit validates job against the action registry and queues it.
// Validation errors are returned synchronously; nothing is spawned.
func (a *App) Submit(ctx context.Context, q tasks.Queue, job tasks.Job) (tasks.Handle, error) {
	if err := a.Registry.Check(ctx, a.Store, job); err != nil {
		return tasks.Handle{}, err
	}
	return q.Submit(ctx, job)
}
