package worker

import (
	"context"
	"sync"
	"time"

	"github.com/haskel/branchsim/internal/metrics"
)

// poolWorker executes buffered tasks of one connection. It sleeps on wake
// while the buffer is empty.
type poolWorker struct {
	h  *Handler
	id int

	wakeCh    chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// guarded by h.mu; non-nil while a task runs
	cancel context.CancelFunc
}

func newPoolWorker(h *Handler, id int) *poolWorker {
	return &poolWorker{
		h:      h,
		id:     id,
		wakeCh: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (w *poolWorker) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *poolWorker) run() {
	defer close(w.done)

	for {
		task, opts, ctx, ok := w.h.take(w)
		if !ok {
			select {
			case <-w.wakeCh:
				continue
			case <-w.quit:
				return
			}
		}

		start := time.Now()
		stats := w.h.executor.Execute(ctx, task.Job, opts)
		metrics.SimulationDurationSeconds.WithLabelValues("remote").Observe(time.Since(start).Seconds())

		w.h.complete(ctx, w, task, stats)

		select {
		case <-w.quit:
			return
		default:
		}
	}
}

// kill stops the worker and waits for it to exit. It is safe to call more
// than once.
func (w *poolWorker) kill() {
	w.closeOnce.Do(func() {
		w.h.mu.Lock()
		if w.cancel != nil {
			w.cancel()
			w.cancel = nil
		}
		w.h.mu.Unlock()
		close(w.quit)
	})
	<-w.done
}
