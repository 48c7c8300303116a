package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/haskel/branchsim/internal/metrics"
	"github.com/haskel/branchsim/internal/protocol"
	"github.com/haskel/branchsim/internal/simulation"
)

// Handler serves one client connection. It owns the authoritative session
// of the connection, a buffer of received tasks and a pool of workers
// executing them.
type Handler struct {
	conn     *protocol.Conn
	executor simulation.Executor
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	since time.Time

	mu         sync.Mutex
	clientName string
	session    simulation.Session
	buffer     []simulation.Task
	workers    []*poolWorker
	executed   uint64
}

func NewHandler(conn *protocol.Conn, executor simulation.Executor, workers int, logger *slog.Logger) *Handler {
	if workers < 1 {
		workers = 1
	}
	h := &Handler{
		conn:     conn,
		executor: executor,
		logger:   logger.With("remote", conn.RemoteAddr()),
		since:    time.Now(),
	}
	h.workers = make([]*poolWorker, workers)
	for i := range h.workers {
		h.workers[i] = newPoolWorker(h, i)
	}
	return h
}

// Info is a snapshot of a connection for status reporting.
type Info struct {
	Client    string    `json:"client"`
	Remote    string    `json:"remote"`
	SessionID uint32    `json:"session_id"`
	Buffered  int       `json:"buffered"`
	Busy      int       `json:"busy"`
	Workers   int       `json:"workers"`
	Executed  uint64    `json:"executed"`
	Since     time.Time `json:"since"`
}

func (h *Handler) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()

	busy := 0
	for _, w := range h.workers {
		if w.cancel != nil {
			busy++
		}
	}
	return Info{
		Client:    h.clientName,
		Remote:    h.conn.RemoteAddr(),
		SessionID: h.session.ID,
		Buffered:  len(h.buffer),
		Busy:      busy,
		Workers:   len(h.workers),
		Executed:  h.executed,
		Since:     h.since,
	}
}

// Serve runs the receive loop until the client disconnects, a protocol
// violation occurs or ctx is cancelled. Workers are stopped and the
// connection is closed before Serve returns.
func (h *Handler) Serve(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)
	defer h.cancel()

	for _, w := range h.workers {
		go w.run()
	}
	defer func() {
		for _, w := range h.workers {
			w.kill()
		}
		h.conn.Close()
	}()

	go func() {
		<-h.ctx.Done()
		h.conn.Close()
	}()

	err := h.receive()
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		h.logger.Info("client disconnected", "client", h.clientName)
		return nil
	default:
		h.logger.Warn("closing connection", "client", h.clientName, "error", err)
		return err
	}
}

func (h *Handler) receive() error {
	first := true
	for {
		m, err := h.conn.ReadMessage()
		if err != nil {
			return err
		}

		if name, ok := m.(protocol.ClientName); ok {
			if !first {
				return fmt.Errorf("%w: repeated ClientName", protocol.ErrProtocolViolation)
			}
			first = false
			h.mu.Lock()
			h.clientName = name.Name
			h.logger = h.logger.With("client", name.Name)
			h.mu.Unlock()
			h.logger.Info("client connected")
			continue
		}
		if first {
			return fmt.Errorf("%w: expected ClientName, got %s", protocol.ErrProtocolViolation, m.Tag())
		}

		switch m := m.(type) {
		case protocol.NewSession:
			if err := h.startSession(m.Session); err != nil {
				return err
			}
		case protocol.TaskMessage:
			h.enqueue(m.Task)
		case protocol.AbortSession:
			h.abortSession(m.SessionID)
		default:
			return fmt.Errorf("%w: unexpected %s from client", protocol.ErrProtocolViolation, m.Tag())
		}
	}
}

// startSession installs s, aborts running tasks, drops buffered tasks of
// other sessions and grants the client one credit per worker.
func (h *Handler) startSession(s simulation.Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.session = s
	h.abortLocked()

	kept := h.buffer[:0]
	for _, t := range h.buffer {
		if t.SessionID == s.ID {
			kept = append(kept, t)
		}
	}
	clear(h.buffer[len(kept):])
	h.buffer = kept

	h.logger.Debug("new session", "session_id", s.ID)

	requests := make([]protocol.Message, len(h.workers))
	for i := range requests {
		requests[i] = protocol.TaskRequest{SessionID: s.ID}
	}
	return h.conn.WriteMessages(requests...)
}

func (h *Handler) enqueue(t simulation.Task) {
	h.mu.Lock()
	if t.SessionID != h.session.ID {
		h.mu.Unlock()
		metrics.StaleMessages.WithLabelValues("task").Inc()
		h.logger.Debug("dropping task of stale session", "task_id", t.ID, "session_id", t.SessionID)
		return
	}
	h.buffer = append(h.buffer, t)
	h.mu.Unlock()

	for _, w := range h.workers {
		w.wake()
	}
}

func (h *Handler) abortSession(id uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id != h.session.ID {
		metrics.StaleMessages.WithLabelValues("abort").Inc()
		return
	}
	h.abortLocked()
	clear(h.buffer)
	h.buffer = h.buffer[:0]
	h.logger.Info("session aborted", "session_id", id)
}

// abortLocked cancels every running task. Cancelled tasks send neither a
// result nor a task request.
func (h *Handler) abortLocked() {
	for _, w := range h.workers {
		if w.cancel != nil {
			w.cancel()
			w.cancel = nil
		}
	}
}

// take pops the next buffered task for w and arms its cancel func.
func (h *Handler) take(w *poolWorker) (simulation.Task, simulation.Options, context.Context, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.buffer) == 0 || h.ctx.Err() != nil {
		return simulation.Task{}, simulation.Options{}, nil, false
	}
	task := h.buffer[0]
	h.buffer[0] = simulation.Task{}
	h.buffer = h.buffer[1:]

	ctx, cancel := context.WithCancel(h.ctx)
	w.cancel = cancel
	return task, h.session.Options, ctx, true
}

// complete reports a finished task and asks for the next one. Nothing is
// sent if the task was aborted meanwhile.
func (h *Handler) complete(ctx context.Context, w *poolWorker, task simulation.Task, stats simulation.Stats) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ctx.Err() != nil {
		metrics.ServerTasks.WithLabelValues("aborted").Inc()
		return
	}
	w.cancel()
	w.cancel = nil
	h.executed++
	metrics.ServerTasks.WithLabelValues(metrics.Outcome(stats.OK())).Inc()

	err := h.conn.WriteMessages(
		protocol.ResultMessage{Result: simulation.Result{
			TaskID:    task.ID,
			SessionID: task.SessionID,
			Stats:     stats,
		}},
		protocol.TaskRequest{SessionID: task.SessionID},
	)
	if err != nil {
		h.logger.Warn("failed to send result", "task_id", task.ID, "error", err)
		h.conn.Close()
	}
}
