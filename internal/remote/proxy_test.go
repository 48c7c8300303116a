package remote

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/protocol"
	"github.com/haskel/branchsim/internal/simulation"
	"github.com/haskel/branchsim/internal/trace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type result struct {
	task  simulation.Task
	stats simulation.Stats
}

type recorder struct {
	requests     chan int
	results      chan result
	disconnected chan []simulation.Task

	mu       sync.Mutex
	messages []string
}

func newRecorder() *recorder {
	return &recorder{
		requests:     make(chan int, 16),
		results:      make(chan result, 16),
		disconnected: make(chan []simulation.Task, 1),
	}
}

func (r *recorder) TaskRequested(p *Proxy) {
	r.requests <- p.Credits()
}

func (r *recorder) ResultReceived(p *Proxy, task simulation.Task, stats simulation.Stats) {
	r.results <- result{task, stats}
}

func (r *recorder) Disconnected(p *Proxy, outstanding []simulation.Task) {
	r.disconnected <- outstanding
}

func (r *recorder) MessagePosted(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
}

func (r *recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

// fakeNode accepts a single connection and hands it to the test.
func fakeNode(t *testing.T) (string, <-chan *protocol.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	conns := make(chan *protocol.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		nc.SetDeadline(time.Now().Add(10 * time.Second))
		conns <- protocol.NewConn(nc)
	}()
	return ln.Addr().String(), conns
}

func nodeRead(t *testing.T, conn *protocol.Conn) protocol.Message {
	t.Helper()
	m, err := conn.ReadMessage()
	require.NoError(t, err)
	return m
}

func testTask(id, session uint32) simulation.Task {
	return simulation.Task{
		ID:        id,
		SessionID: session,
		Job: simulation.Job{
			Predictor: predictor.NewConfig("bimodal", "Bimodal", 12, 2),
			Benchmark: trace.Benchmark{Name: "gcc", Family: trace.FamilyStanford},
		},
	}
}

func connect(t *testing.T) (*Proxy, *recorder, *protocol.Conn) {
	t.Helper()

	addr, conns := fakeNode(t)
	rec := newRecorder()
	p := New(addr, "tester", time.Second, rec, testLogger())

	require.NoError(t, p.Connect(context.Background()))
	t.Cleanup(p.Disconnect)

	node := receive(t, conns)
	t.Cleanup(func() { node.Close() })
	require.Equal(t, protocol.ClientName{Name: "tester"}, nodeRead(t, node))
	require.Equal(t, StateConnected, p.State())
	return p, rec, node
}

func TestProxy_TaskRoundTrip(t *testing.T) {
	p, rec, node := connect(t)

	session := simulation.Session{ID: 1, Options: simulation.Options{ConditionalOnly: true}}
	require.NoError(t, p.StartSession(session))
	require.Equal(t, protocol.NewSession{Session: simulation.Session{ID: 1, Options: simulation.Options{ConditionalOnly: true}}}, nodeRead(t, node))

	require.NoError(t, node.WriteMessage(protocol.TaskRequest{SessionID: 1}))
	require.Equal(t, 1, receive(t, rec.requests))

	task := testTask(7, 1)
	require.NoError(t, p.SendTask(task))
	require.Equal(t, 0, p.Credits())
	require.Equal(t, 1, p.Outstanding())

	got, ok := nodeRead(t, node).(protocol.TaskMessage)
	require.True(t, ok)
	require.Equal(t, uint32(7), got.Task.ID)

	stats := simulation.NewStats(task.Job.Benchmark, 9, 1)
	require.NoError(t, node.WriteMessage(protocol.ResultMessage{Result: simulation.Result{
		TaskID:    7,
		SessionID: 1,
		Stats:     stats,
	}}))

	res := receive(t, rec.results)
	require.Equal(t, uint32(7), res.task.ID)
	require.True(t, res.task.Job.Predictor.Equal(task.Job.Predictor))
	require.InDelta(t, 0.9, res.stats.Accuracy, 1e-9)
	require.Eventually(t, func() bool { return p.Outstanding() == 0 }, time.Second, 5*time.Millisecond)
}

func TestProxy_IgnoresStaleSessionMessages(t *testing.T) {
	p, rec, node := connect(t)

	require.NoError(t, p.StartSession(simulation.Session{ID: 2}))
	nodeRead(t, node)

	require.NoError(t, node.WriteMessages(
		protocol.TaskRequest{SessionID: 1},
		protocol.ResultMessage{Result: simulation.Result{TaskID: 1, SessionID: 1}},
		protocol.TaskRequest{SessionID: 2},
	))

	// only the current session's request is counted
	require.Equal(t, 1, receive(t, rec.requests))
	require.Empty(t, rec.results)
}

func TestProxy_SendTaskErrors(t *testing.T) {
	rec := newRecorder()
	p := New("127.0.0.1:1", "tester", time.Second, rec, testLogger())
	require.ErrorIs(t, p.SendTask(testTask(1, 0)), ErrNotConnected)
	require.ErrorIs(t, p.StartSession(simulation.Session{ID: 1}), ErrNotConnected)
	require.ErrorIs(t, p.SendAbort(), ErrNotConnected)

	p, _, node := connect(t)
	require.NoError(t, p.StartSession(simulation.Session{ID: 3}))
	nodeRead(t, node)
	require.ErrorIs(t, p.SendTask(testTask(1, 2)), ErrStaleSession)
}

func TestProxy_DisconnectReturnsOutstandingTasks(t *testing.T) {
	p, rec, node := connect(t)

	require.NoError(t, p.StartSession(simulation.Session{ID: 1}))
	nodeRead(t, node)

	require.NoError(t, node.WriteMessages(
		protocol.TaskRequest{SessionID: 1},
		protocol.TaskRequest{SessionID: 1},
	))
	receive(t, rec.requests)
	receive(t, rec.requests)

	require.NoError(t, p.SendTask(testTask(5, 1)))
	require.NoError(t, p.SendTask(testTask(3, 1)))
	nodeRead(t, node)
	nodeRead(t, node)

	node.Close()

	outstanding := receive(t, rec.disconnected)
	require.Len(t, outstanding, 2)
	require.Equal(t, uint32(3), outstanding[0].ID)
	require.Equal(t, uint32(5), outstanding[1].ID)
	require.Equal(t, StateDisconnected, p.State())
	require.Equal(t, 0, p.Credits())
	require.Contains(t, rec.Messages(), "Disconnected from "+p.Addr())
}

func TestProxy_ProtocolViolationDisconnects(t *testing.T) {
	p, rec, node := connect(t)

	require.NoError(t, node.WriteMessage(protocol.NewSession{Session: simulation.Session{ID: 1}}))

	receive(t, rec.disconnected)
	require.Equal(t, StateDisconnected, p.State())

	_, err := node.ReadMessage()
	require.Error(t, err)
}

func TestProxy_AbortClearsOutstanding(t *testing.T) {
	p, rec, node := connect(t)

	require.NoError(t, p.StartSession(simulation.Session{ID: 1}))
	nodeRead(t, node)
	require.NoError(t, node.WriteMessage(protocol.TaskRequest{SessionID: 1}))
	receive(t, rec.requests)

	require.NoError(t, p.SendTask(testTask(1, 1)))
	nodeRead(t, node)

	require.NoError(t, p.SendAbort())
	require.Equal(t, protocol.AbortSession{SessionID: 1}, nodeRead(t, node))
	require.Equal(t, 0, p.Outstanding())
}

func TestProxy_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	rec := newRecorder()
	p := New(addr, "tester", time.Second, rec, testLogger())

	require.Error(t, p.Connect(context.Background()))
	require.Equal(t, StateDisconnected, p.State())
	require.Len(t, rec.Messages(), 1)

	p.Disconnect()
}

func TestState_String(t *testing.T) {
	require.Equal(t, "disconnected", StateDisconnected.String())
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "state(9)", State(9).String())
}
