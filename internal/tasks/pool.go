package tasks

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("task pool is shut down")

// Pool executes tasks on a fixed number of in-process workers.
type Pool struct {
	Runner    *Runner
	Inspector *Inspector
	Log       *zap.Logger

	size int
	jobs chan string

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewPool(runner *Runner, inspector *Inspector, size, queue int) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}
	return &Pool{
		Runner:    runner,
		Inspector: inspector,
		Log:       runner.log(),
		size:      size,
		jobs:      make(chan string, queue),
	}
}

// Start launches the workers. Tasks run with ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for id := range p.jobs {
		if _, err := p.Runner.Execute(ctx, id); err != nil {
			p.Log.Error("task execution failed", zap.String("task_id", id), zap.Error(err))
		}
	}
}

// Submit records a pending task and queues it. It blocks while the queue is
// full until ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) (Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return Handle{}, ErrPoolClosed
	}
	rec, err := p.Runner.Records.Create(job.Command, job.Args)
	if err != nil {
		return Handle{}, err
	}
	notify(ctx, p.Runner.Observer, p.Log, rec)
	select {
	case p.jobs <- rec.ID:
	case <-ctx.Done():
		if failed, ferr := p.Runner.finish(context.WithoutCancel(ctx), rec, nil, ctx.Err()); ferr == nil {
			rec = failed
		}
		return NewHandle(rec.ID, p.Inspector), ctx.Err()
	}
	return NewHandle(rec.ID, p.Inspector), nil
}

// Shutdown stops accepting work and waits for queued tasks to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	started := p.started
	p.mu.Unlock()
	if !started {
		// Nothing will drain the queue; fail what is left.
		for id := range p.jobs {
			if rec, err := p.Runner.Records.Get(id); err == nil {
				p.Runner.finish(ctx, rec, nil, ErrPoolClosed)
			}
		}
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
