package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haskel/branchsim/internal/metrics"
	"github.com/haskel/branchsim/internal/simulation"
)

// ErrAbortTimeout is returned by LocalPool.Abort when a worker does not
// return within the join timeout.
var ErrAbortTimeout = errors.New("local workers did not stop in time")

// ResultFunc receives the stats of a completed task.
type ResultFunc func(task simulation.Task, stats simulation.Stats)

// run is the set of workers started for one session.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	session simulation.Session
	running int
	wg      sync.WaitGroup
}

// LocalPool runs up to size workers that drain a Queue. A worker exits when
// the queue is empty; Kick starts new workers after tasks were requeued.
type LocalPool struct {
	size     int
	queue    *Queue
	executor simulation.Executor
	onResult ResultFunc
	logger   *slog.Logger

	mu      sync.Mutex
	current *run
}

func NewLocalPool(size int, queue *Queue, executor simulation.Executor, onResult ResultFunc, logger *slog.Logger) *LocalPool {
	if size < 1 {
		size = 1
	}
	return &LocalPool{
		size:     size,
		queue:    queue,
		executor: executor,
		onResult: onResult,
		logger:   logger,
	}
}

func (p *LocalPool) Size() int {
	return p.size
}

// Running returns the number of live workers of the current session.
func (p *LocalPool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return 0
	}
	return p.current.running
}

// Start begins executing tasks of session, cancelling workers of any
// previous session. Workers run until the queue is empty or Abort is called.
func (p *LocalPool) Start(ctx context.Context, session simulation.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		p.current.cancel()
	}
	r := &run{session: session}
	r.ctx, r.cancel = context.WithCancel(ctx)
	p.current = r
	p.spawnLocked(r)
}

// Kick tops the pool back up to its size while a session is active.
func (p *LocalPool) Kick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil || p.current.ctx.Err() != nil {
		return
	}
	p.spawnLocked(p.current)
}

func (p *LocalPool) spawnLocked(r *run) {
	for r.running < p.size {
		r.running++
		r.wg.Add(1)
		go p.worker(r)
	}
}

func (p *LocalPool) worker(r *run) {
	defer r.wg.Done()

	for {
		if r.ctx.Err() != nil {
			p.exit(r)
			return
		}

		// dequeue and exit under one lock so Kick never counts a worker
		// that is about to leave an empty queue
		p.mu.Lock()
		task, ok := p.queue.Dequeue()
		if !ok {
			r.running--
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		if task.SessionID != r.session.ID {
			metrics.StaleMessages.WithLabelValues("task").Inc()
			continue
		}
		metrics.TasksDispatched.WithLabelValues("local").Inc()

		start := time.Now()
		stats := p.executor.Execute(r.ctx, task.Job, r.session.Options)
		if r.ctx.Err() != nil {
			p.logger.Debug("discarding result of aborted task", "task_id", task.ID)
			p.exit(r)
			return
		}
		metrics.SimulationDurationSeconds.WithLabelValues("local").Observe(time.Since(start).Seconds())

		p.onResult(task, stats)
	}
}

func (p *LocalPool) exit(r *run) {
	p.mu.Lock()
	r.running--
	p.mu.Unlock()
}

// Abort cancels all workers and waits up to timeout for them to return.
// Results of interrupted tasks are discarded.
func (p *LocalPool) Abort(timeout time.Duration) error {
	p.mu.Lock()
	r := p.current
	if r != nil {
		r.cancel()
	}
	p.mu.Unlock()

	if r == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrAbortTimeout
	}
}

// Wait blocks until every worker of the current session has exited.
func (p *LocalPool) Wait() {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()
	if r != nil {
		r.wg.Wait()
	}
}
