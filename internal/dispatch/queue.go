package dispatch

import (
	"sync"

	"github.com/haskel/branchsim/internal/metrics"
	"github.com/haskel/branchsim/internal/simulation"
)

// Queue is the FIFO of pending tasks shared by local workers and the code
// answering remote credits. Every dequeued task is handed to one consumer.
type Queue struct {
	mu    sync.Mutex
	tasks []simulation.Task
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) EnqueueAll(tasks []simulation.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, tasks...)
	metrics.TasksQueued.Add(float64(len(tasks)))
	metrics.QueueLength.Set(float64(len(q.tasks)))
}

// Dequeue removes the head of the queue. ok is false when it is empty.
func (q *Queue) Dequeue() (task simulation.Task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return simulation.Task{}, false
	}
	task = q.tasks[0]
	q.tasks[0] = simulation.Task{}
	q.tasks = q.tasks[1:]
	metrics.QueueLength.Set(float64(len(q.tasks)))
	return task, true
}

// PushFront puts tasks back at the head, keeping their order.
func (q *Queue) PushFront(tasks ...simulation.Task) {
	if len(tasks) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]simulation.Task, 0, len(tasks)+len(q.tasks))
	merged = append(merged, tasks...)
	q.tasks = append(merged, q.tasks...)
	metrics.TasksRequeued.Add(float64(len(tasks)))
	metrics.TasksQueued.Add(float64(len(tasks)))
	metrics.QueueLength.Set(float64(len(q.tasks)))
}

// PurgeExcept drops every task that does not belong to session and returns
// how many were removed.
func (q *Queue) PurgeExcept(sessionID uint32) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if t.SessionID == sessionID {
			kept = append(kept, t)
		}
	}
	removed := len(q.tasks) - len(kept)
	clear(q.tasks[len(kept):])
	q.tasks = kept
	metrics.QueueLength.Set(float64(len(q.tasks)))
	return removed
}

func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = nil
	metrics.QueueLength.Set(0)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
