package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haskel/branchsim/internal/simulation"
)

type collected struct {
	mu      sync.Mutex
	results map[uint32]simulation.Stats
}

func newCollected() *collected {
	return &collected{results: make(map[uint32]simulation.Stats)}
}

func (c *collected) add(task simulation.Task, stats simulation.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[task.ID] = stats
}

func (c *collected) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func fixedExecutor(calls *atomic.Int64) simulation.Executor {
	return simulation.ExecutorFunc(func(ctx context.Context, job simulation.Job, opts simulation.Options) simulation.Stats {
		if calls != nil {
			calls.Add(1)
		}
		return simulation.NewStats(job.Benchmark, 90, 10)
	})
}

func TestLocalPool_DrainsQueue(t *testing.T) {
	q := NewQueue()
	for i := range 10 {
		q.EnqueueAll([]simulation.Task{task(uint32(i+1), 1)})
	}
	got := newCollected()
	var calls atomic.Int64

	pool := NewLocalPool(3, q, fixedExecutor(&calls), got.add, testLogger())
	require.Equal(t, 3, pool.Size())

	pool.Start(context.Background(), simulation.Session{ID: 1})
	pool.Wait()

	require.Equal(t, 10, got.len())
	require.Equal(t, int64(10), calls.Load())
	require.Equal(t, 0, pool.Running())
	require.Equal(t, 0, q.Len())
}

func TestLocalPool_SkipsTasksOfOtherSessions(t *testing.T) {
	q := NewQueue()
	q.EnqueueAll([]simulation.Task{task(1, 1), task(2, 2), task(3, 2)})
	got := newCollected()

	pool := NewLocalPool(1, q, fixedExecutor(nil), got.add, testLogger())
	pool.Start(context.Background(), simulation.Session{ID: 2})
	pool.Wait()

	require.Equal(t, 2, got.len())
	_, ok := got.results[1]
	require.False(t, ok)
}

func TestLocalPool_KickAfterRequeue(t *testing.T) {
	q := NewQueue()
	q.EnqueueAll([]simulation.Task{task(1, 1)})
	got := newCollected()

	pool := NewLocalPool(2, q, fixedExecutor(nil), got.add, testLogger())
	pool.Start(context.Background(), simulation.Session{ID: 1})
	pool.Wait()
	require.Equal(t, 1, got.len())

	q.PushFront(task(2, 1), task(3, 1))
	pool.Kick()
	pool.Wait()
	require.Equal(t, 3, got.len())
}

func TestLocalPool_AbortDiscardsRunningTasks(t *testing.T) {
	q := NewQueue()
	q.EnqueueAll([]simulation.Task{task(1, 1), task(2, 1), task(3, 1)})
	got := newCollected()

	started := make(chan struct{}, 3)
	blocking := simulation.ExecutorFunc(func(ctx context.Context, job simulation.Job, opts simulation.Options) simulation.Stats {
		started <- struct{}{}
		<-ctx.Done()
		return simulation.Failed(job.Benchmark, ctx.Err())
	})

	pool := NewLocalPool(2, q, blocking, got.add, testLogger())
	pool.Start(context.Background(), simulation.Session{ID: 1})
	<-started
	<-started

	require.NoError(t, pool.Abort(time.Second))
	require.Equal(t, 0, got.len())
	require.Equal(t, 0, pool.Running())

	// Kick does nothing once the session is cancelled
	pool.Kick()
	require.Equal(t, 0, pool.Running())
}

func TestLocalPool_AbortTimeout(t *testing.T) {
	q := NewQueue()
	q.EnqueueAll([]simulation.Task{task(1, 1)})

	release := make(chan struct{})
	started := make(chan struct{})
	stubborn := simulation.ExecutorFunc(func(ctx context.Context, job simulation.Job, opts simulation.Options) simulation.Stats {
		close(started)
		<-release
		return simulation.NewStats(job.Benchmark, 1, 0)
	})

	pool := NewLocalPool(1, q, stubborn, func(simulation.Task, simulation.Stats) {}, testLogger())
	pool.Start(context.Background(), simulation.Session{ID: 1})
	<-started

	require.ErrorIs(t, pool.Abort(20*time.Millisecond), ErrAbortTimeout)
	close(release)
	pool.Wait()
}

func TestLocalPool_AbortWithoutSession(t *testing.T) {
	pool := NewLocalPool(0, NewQueue(), fixedExecutor(nil), nil, testLogger())
	require.Equal(t, 1, pool.Size())
	require.NoError(t, pool.Abort(time.Second))
	pool.Wait()
	pool.Kick()
	require.Equal(t, 0, pool.Running())
}
