package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haskel/branchsim/internal/metrics"
	"github.com/haskel/branchsim/internal/protocol"
	"github.com/haskel/branchsim/internal/simulation"
)

var (
	ErrNotConnected = errors.New("remote not connected")
	ErrStaleSession = errors.New("task belongs to another session")
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handler receives proxy events. Callbacks run on the proxy's receive
// goroutine and are never invoked while the proxy holds its lock, so they
// may call back into the proxy.
type Handler interface {
	TaskRequested(p *Proxy)
	ResultReceived(p *Proxy, task simulation.Task, stats simulation.Stats)
	// Disconnected reports the tasks that were sent but not answered.
	Disconnected(p *Proxy, outstanding []simulation.Task)
	MessagePosted(text string)
}

// Proxy is the client side of one connection to a remote worker node.
type Proxy struct {
	addr        string
	clientName  string
	dialTimeout time.Duration
	handler     Handler
	logger      *slog.Logger

	conn atomic.Pointer[protocol.Conn]

	mu      sync.Mutex
	state   State
	session simulation.Session
	credits int
	sent    map[uint32]simulation.Task
	done    chan struct{}
}

func New(addr, clientName string, dialTimeout time.Duration, handler Handler, logger *slog.Logger) *Proxy {
	return &Proxy{
		addr:        addr,
		clientName:  clientName,
		dialTimeout: dialTimeout,
		handler:     handler,
		logger:      logger.With("remote", addr),
		sent:        make(map[uint32]simulation.Task),
	}
}

func (p *Proxy) Addr() string {
	return p.addr
}

func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Proxy) Connected() bool {
	return p.State() == StateConnected
}

// Credits returns the number of task requests not yet answered with a task.
func (p *Proxy) Credits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.credits
}

// Outstanding returns the number of tasks sent and not yet answered.
func (p *Proxy) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// Connect dials the node, introduces the client and starts the receive
// loop. Failures are reported through the handler as well as returned.
func (p *Proxy) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateDisconnected {
		p.mu.Unlock()
		return nil
	}
	p.state = StateConnecting
	p.mu.Unlock()

	conn, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.state = StateDisconnected
		p.mu.Unlock()
		p.handler.MessagePosted(fmt.Sprintf("Failed to connect to %s: %v", p.addr, err))
		return err
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.state = StateConnected
	p.credits = 0
	p.sent = make(map[uint32]simulation.Task)
	p.done = done
	p.conn.Store(conn)
	p.mu.Unlock()

	p.logger.Info("connected to remote")
	p.handler.MessagePosted(fmt.Sprintf("Connected to %s", p.addr))

	go p.receiveLoop(conn, done)
	return nil
}

func (p *Proxy) dial(ctx context.Context) (*protocol.Conn, error) {
	dialer := net.Dialer{Timeout: p.dialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", p.addr, err)
	}
	conn := protocol.NewConn(nc)
	if err := conn.WriteMessage(protocol.ClientName{Name: p.clientName}); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Disconnect closes the connection and waits for the receive loop to exit.
// It is a no-op on a disconnected proxy.
func (p *Proxy) Disconnect() {
	conn := p.conn.Load()
	if conn == nil {
		return
	}
	conn.Close()

	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// StartSession makes s the current session and sends it to the node. The
// credit count restarts at zero; the node answers with fresh task requests.
func (p *Proxy) StartSession(s simulation.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateConnected {
		return ErrNotConnected
	}
	p.session = s
	p.credits = 0
	clear(p.sent)

	return p.writeLocked(protocol.NewSession{Session: s})
}

// SendTask spends one credit on task. On error the task is still owned by
// the caller; it was not handed to the node.
func (p *Proxy) SendTask(task simulation.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateConnected {
		return ErrNotConnected
	}
	if task.SessionID != p.session.ID {
		return ErrStaleSession
	}

	if err := p.writeLocked(protocol.TaskMessage{Task: task}); err != nil {
		return err
	}
	p.credits--
	p.sent[task.ID] = task
	metrics.TasksDispatched.WithLabelValues("remote").Inc()
	return nil
}

// SendAbort asks the node to abort the current session.
func (p *Proxy) SendAbort() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateConnected {
		return ErrNotConnected
	}
	clear(p.sent)
	return p.writeLocked(protocol.AbortSession{SessionID: p.session.ID})
}

// writeLocked sends m. A failed write closes the connection so the receive
// loop reports the disconnect.
func (p *Proxy) writeLocked(m protocol.Message) error {
	conn := p.conn.Load()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteMessage(m); err != nil {
		p.logger.Warn("write failed", "message", m.Tag().String(), "error", err)
		conn.Close()
		return err
	}
	return nil
}

func (p *Proxy) receiveLoop(conn *protocol.Conn, done chan struct{}) {
	defer close(done)

	for {
		m, err := conn.ReadMessage()
		if err != nil {
			p.reportReadError(err)
			break
		}

		switch m := m.(type) {
		case protocol.TaskRequest:
			p.handleTaskRequest(m)
		case protocol.ResultMessage:
			p.handleResult(m)
		default:
			p.logger.Warn("unexpected message from remote", "message", m.Tag().String())
			p.handler.MessagePosted(fmt.Sprintf("Protocol violation from %s: unexpected %s", p.addr, m.Tag()))
			conn.Close()
			p.finish(conn)
			return
		}
	}

	conn.Close()
	p.finish(conn)
}

func (p *Proxy) reportReadError(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		p.logger.Debug("connection closed")
	case errors.Is(err, protocol.ErrProtocolViolation):
		p.logger.Warn("protocol violation", "error", err)
		p.handler.MessagePosted(fmt.Sprintf("Protocol violation from %s: %v", p.addr, err))
	default:
		p.logger.Warn("receive failed", "error", err)
		p.handler.MessagePosted(fmt.Sprintf("Connection to %s lost: %v", p.addr, err))
	}
}

func (p *Proxy) handleTaskRequest(m protocol.TaskRequest) {
	p.mu.Lock()
	if m.SessionID != p.session.ID {
		p.mu.Unlock()
		metrics.StaleMessages.WithLabelValues("task_request").Inc()
		p.logger.Debug("ignoring task request of stale session", "session_id", m.SessionID)
		return
	}
	p.credits++
	p.mu.Unlock()

	p.handler.TaskRequested(p)
}

func (p *Proxy) handleResult(m protocol.ResultMessage) {
	p.mu.Lock()
	if m.Result.SessionID != p.session.ID {
		p.mu.Unlock()
		metrics.StaleMessages.WithLabelValues("result").Inc()
		p.logger.Debug("ignoring result of stale session",
			"session_id", m.Result.SessionID,
			"task_id", m.Result.TaskID,
		)
		return
	}
	task, ok := p.sent[m.Result.TaskID]
	delete(p.sent, m.Result.TaskID)
	p.mu.Unlock()

	if !ok {
		p.logger.Warn("result for unknown task", "task_id", m.Result.TaskID)
		return
	}
	p.handler.ResultReceived(p, task, m.Result.Stats)
}

// finish moves the proxy to Disconnected and hands unanswered tasks back.
func (p *Proxy) finish(conn *protocol.Conn) {
	p.mu.Lock()
	p.conn.CompareAndSwap(conn, nil)
	p.state = StateDisconnected
	p.credits = 0
	outstanding := make([]simulation.Task, 0, len(p.sent))
	for _, t := range p.sent {
		outstanding = append(outstanding, t)
	}
	p.sent = make(map[uint32]simulation.Task)
	p.mu.Unlock()

	sort.Slice(outstanding, func(i, j int) bool { return outstanding[i].ID < outstanding[j].ID })

	p.logger.Info("disconnected from remote", "outstanding", len(outstanding))
	p.handler.MessagePosted(fmt.Sprintf("Disconnected from %s", p.addr))
	p.handler.Disconnected(p, outstanding)
}
