package worker

import (
	"context"
	"io"
	"log/slog"
	"net"
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

func countingExecutor() simulation.Executor {
	return simulation.ExecutorFunc(func(ctx context.Context, job simulation.Job, opts simulation.Options) simulation.Stats {
		return simulation.NewStats(job.Benchmark, 3, 1)
	})
}

func startServer(t *testing.T, workers int, executor simulation.Executor) (*Server, string) {
	t.Helper()

	srv := NewServer(ServerConfig{Host: "127.0.0.1", Ports: []int{0}, Workers: workers}, executor, testLogger())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, srv.Addrs()[0]
}

func dial(t *testing.T, addr string) *protocol.Conn {
	t.Helper()

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, nc.SetDeadline(time.Now().Add(5*time.Second)))
	conn := protocol.NewConn(nc)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *protocol.Conn) protocol.Message {
	t.Helper()

	m, err := conn.ReadMessage()
	require.NoError(t, err)
	return m
}

func testTask(id, session uint32, bench string) simulation.Task {
	return simulation.Task{
		ID:        id,
		SessionID: session,
		Job: simulation.Job{
			Predictor: predictor.NewConfig("gag", "GAg", 8, 8, 3),
			Benchmark: trace.Benchmark{Name: bench, Family: trace.FamilyStanford},
		},
	}
}

func TestServer_NewSessionGrantsOneCreditPerWorker(t *testing.T) {
	_, addr := startServer(t, 3, countingExecutor())
	conn := dial(t, addr)

	require.NoError(t, conn.WriteMessages(
		protocol.ClientName{Name: "tester"},
		protocol.NewSession{Session: simulation.Session{ID: 1}},
	))

	for range 3 {
		require.Equal(t, protocol.TaskRequest{SessionID: 1}, read(t, conn))
	}
}

func TestServer_ExecutesTaskAndRequestsNext(t *testing.T) {
	_, addr := startServer(t, 1, countingExecutor())
	conn := dial(t, addr)

	require.NoError(t, conn.WriteMessages(
		protocol.ClientName{Name: "tester"},
		protocol.NewSession{Session: simulation.Session{ID: 4}},
	))
	require.Equal(t, protocol.TaskRequest{SessionID: 4}, read(t, conn))

	task := testTask(9, 4, "bzip2")
	require.NoError(t, conn.WriteMessage(protocol.TaskMessage{Task: task}))

	m := read(t, conn)
	result, ok := m.(protocol.ResultMessage)
	require.True(t, ok, "expected result, got %s", m.Tag())
	require.Equal(t, uint32(9), result.Result.TaskID)
	require.Equal(t, uint32(4), result.Result.SessionID)
	require.Equal(t, uint64(3), result.Result.Stats.Correct)
	require.Equal(t, uint64(1), result.Result.Stats.Incorrect)
	require.InDelta(t, 0.75, result.Result.Stats.Accuracy, 1e-9)

	require.Equal(t, protocol.TaskRequest{SessionID: 4}, read(t, conn))
}

func TestServer_DropsTaskOfStaleSession(t *testing.T) {
	_, addr := startServer(t, 1, countingExecutor())
	conn := dial(t, addr)

	require.NoError(t, conn.WriteMessages(
		protocol.ClientName{Name: "tester"},
		protocol.NewSession{Session: simulation.Session{ID: 2}},
	))
	require.Equal(t, protocol.TaskRequest{SessionID: 2}, read(t, conn))

	require.NoError(t, conn.WriteMessages(
		protocol.TaskMessage{Task: testTask(1, 1, "old")},
		protocol.TaskMessage{Task: testTask(2, 2, "current")},
	))

	m := read(t, conn)
	result, ok := m.(protocol.ResultMessage)
	require.True(t, ok, "expected result, got %s", m.Tag())
	require.Equal(t, uint32(2), result.Result.TaskID)
	require.Equal(t, "current", result.Result.Stats.Benchmark.Name)
}

func TestServer_AbortSendsNothingForRunningTask(t *testing.T) {
	started := make(chan struct{}, 1)
	blocking := simulation.ExecutorFunc(func(ctx context.Context, job simulation.Job, opts simulation.Options) simulation.Stats {
		started <- struct{}{}
		<-ctx.Done()
		return simulation.Failed(job.Benchmark, ctx.Err())
	})
	_, addr := startServer(t, 1, blocking)
	conn := dial(t, addr)

	require.NoError(t, conn.WriteMessages(
		protocol.ClientName{Name: "tester"},
		protocol.NewSession{Session: simulation.Session{ID: 1}},
	))
	require.Equal(t, protocol.TaskRequest{SessionID: 1}, read(t, conn))

	require.NoError(t, conn.WriteMessage(protocol.TaskMessage{Task: testTask(1, 1, "bzip2")}))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not start")
	}

	require.NoError(t, conn.WriteMessages(
		protocol.AbortSession{SessionID: 1},
		protocol.NewSession{Session: simulation.Session{ID: 2}},
	))

	// the aborted task produces neither a result nor a request
	require.Equal(t, protocol.TaskRequest{SessionID: 2}, read(t, conn))
}

func TestServer_AbortOfOtherSessionIgnored(t *testing.T) {
	_, addr := startServer(t, 1, countingExecutor())
	conn := dial(t, addr)

	require.NoError(t, conn.WriteMessages(
		protocol.ClientName{Name: "tester"},
		protocol.NewSession{Session: simulation.Session{ID: 5}},
	))
	require.Equal(t, protocol.TaskRequest{SessionID: 5}, read(t, conn))

	require.NoError(t, conn.WriteMessages(
		protocol.AbortSession{SessionID: 4},
		protocol.TaskMessage{Task: testTask(1, 5, "bzip2")},
	))

	_, ok := read(t, conn).(protocol.ResultMessage)
	require.True(t, ok)
}

func TestServer_ClosesOnMissingClientName(t *testing.T) {
	_, addr := startServer(t, 1, countingExecutor())
	conn := dial(t, addr)

	require.NoError(t, conn.WriteMessage(protocol.NewSession{Session: simulation.Session{ID: 1}}))

	_, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestServer_ClosesOnUnexpectedMessage(t *testing.T) {
	_, addr := startServer(t, 1, countingExecutor())
	conn := dial(t, addr)

	require.NoError(t, conn.WriteMessages(
		protocol.ClientName{Name: "tester"},
		protocol.TaskRequest{SessionID: 1},
	))

	_, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestServer_ClosesOnUnknownTag(t *testing.T) {
	_, addr := startServer(t, 1, countingExecutor())

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()
	require.NoError(t, nc.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = nc.Write([]byte{0x2a, 0x00})
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = nc.Read(buf)
	require.Error(t, err)
}

func TestServer_Connections(t *testing.T) {
	srv, addr := startServer(t, 2, countingExecutor())
	conn := dial(t, addr)

	require.NoError(t, conn.WriteMessages(
		protocol.ClientName{Name: "tester"},
		protocol.NewSession{Session: simulation.Session{ID: 3}},
	))
	read(t, conn)
	read(t, conn)

	require.Eventually(t, func() bool {
		infos := srv.Connections()
		return len(infos) == 1 && infos[0].Client == "tester" && infos[0].SessionID == 3
	}, 2*time.Second, 10*time.Millisecond)

	info := srv.Connections()[0]
	require.Equal(t, 2, info.Workers)
	require.Equal(t, 0, info.Busy)

	conn.Close()
	require.Eventually(t, func() bool {
		return len(srv.Connections()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ListenWithoutPorts(t *testing.T) {
	srv := NewServer(ServerConfig{Host: "127.0.0.1"}, countingExecutor(), testLogger())
	require.Error(t, srv.Listen())
	require.Error(t, srv.Serve(context.Background()))
}
