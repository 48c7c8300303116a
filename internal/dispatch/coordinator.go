package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haskel/branchsim/internal/metrics"
	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/remote"
	"github.com/haskel/branchsim/internal/results"
	"github.com/haskel/branchsim/internal/simulation"
	"github.com/haskel/branchsim/internal/trace"
)

var (
	ErrNoJobs      = errors.New("no predictors or benchmarks selected")
	ErrNoWorkers   = errors.New("remote-only run without connected remotes")
	ErrAborted     = errors.New("run aborted")
	ErrNotRunning  = errors.New("no run in progress")
	ErrUnknownNode = errors.New("unknown remote")
)

// Options configure a Coordinator.
type Options struct {
	// LocalWorkers is the size of the local worker pool.
	LocalWorkers int
	// ClientName is sent to remote nodes on connect.
	ClientName string
	// DialTimeout bounds each remote connection attempt.
	DialTimeout time.Duration
	// AbortTimeout bounds the join of local workers on abort.
	AbortTimeout time.Duration
}

// Summary describes the state of the current or last run.
type Summary struct {
	SessionID     uint32    `json:"session_id"`
	Predictors    int       `json:"predictors"`
	Benchmarks    int       `json:"benchmarks"`
	Tasks         int       `json:"tasks"`
	ValuesEntered int       `json:"values_entered"`
	Failed        int       `json:"failed"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Completed     bool      `json:"completed"`
	Aborted       bool      `json:"aborted"`
}

type runState struct {
	session simulation.Session
	// generation of the matrix the run writes into
	generation uint64
	summary    Summary
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	closed     bool
}

// Coordinator owns a run: it fills the queue, feeds local workers and
// remote proxies and records results in the matrix.
type Coordinator struct {
	opts     Options
	notifier Notifier
	logger   *slog.Logger

	sessions simulation.Sequence
	taskIDs  simulation.Sequence

	queue  *Queue
	matrix *results.Matrix
	local  *LocalPool

	// serializes credit servicing so two proxies never race on the queue
	// head with a stale session check
	creditMu sync.Mutex

	mu      sync.Mutex
	remotes []*remote.Proxy
	run     *runState
}

// NewCoordinator creates a coordinator. dispatch runs matrix notifications
// on the host's owning goroutine; nil runs them inline.
func NewCoordinator(opts Options, executor simulation.Executor, notifier Notifier, dispatch results.DispatchFunc, logger *slog.Logger) *Coordinator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if opts.AbortTimeout <= 0 {
		opts.AbortTimeout = 5 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ClientName == "" {
		opts.ClientName = "branchsim"
	}

	c := &Coordinator{
		opts:     opts,
		notifier: notifier,
		logger:   logger,
		queue:    NewQueue(),
	}
	c.matrix = results.NewMatrix(dispatch, results.Observer{
		OnFilled: c.onFilled,
	})
	c.local = NewLocalPool(opts.LocalWorkers, c.queue, executor, c.recordLocal, logger)
	return c
}

func (c *Coordinator) Matrix() *results.Matrix {
	return c.matrix
}

func (c *Coordinator) Queue() *Queue {
	return c.queue
}

// AddRemote registers a node; it is not connected until Connect.
func (c *Coordinator) AddRemote(addr string) *remote.Proxy {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.remotes {
		if p.Addr() == addr {
			return p
		}
	}
	p := remote.New(addr, c.opts.ClientName, c.opts.DialTimeout, c, c.logger)
	c.remotes = append(c.remotes, p)
	return p
}

func (c *Coordinator) Remotes() []*remote.Proxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*remote.Proxy(nil), c.remotes...)
}

// RemoveRemote disconnects and forgets a node.
func (c *Coordinator) RemoveRemote(addr string) error {
	c.mu.Lock()
	var found *remote.Proxy
	for i, p := range c.remotes {
		if p.Addr() == addr {
			found = p
			c.remotes = append(c.remotes[:i], c.remotes[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if found == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, addr)
	}
	found.Disconnect()
	return nil
}

// ConnectAll connects every registered node concurrently and returns the
// number of connected nodes. Connection failures are reported through the
// notifier and do not fail the call.
func (c *Coordinator) ConnectAll(ctx context.Context) int {
	remotes := c.Remotes()

	// one unreachable node must not cancel the other dials
	var g errgroup.Group
	for _, p := range remotes {
		g.Go(func() error {
			return p.Connect(ctx)
		})
	}
	err := g.Wait()

	connected := c.connectedCount()
	if err != nil {
		c.logger.Warn("not every remote connected",
			"connected", connected,
			"registered", len(remotes),
			"error", err,
		)
	}
	return connected
}

// DisconnectAll closes every remote connection.
func (c *Coordinator) DisconnectAll() {
	for _, p := range c.Remotes() {
		p.Disconnect()
	}
}

func (c *Coordinator) connectedCount() int {
	n := 0
	for _, p := range c.Remotes() {
		if p.Connected() {
			n++
		}
	}
	return n
}

// Start begins a run of every predictor against every benchmark. A run
// already in progress is aborted first.
func (c *Coordinator) Start(ctx context.Context, predictors []predictor.Config, benchmarks []trace.Benchmark, opts simulation.Options) (simulation.Session, error) {
	if len(predictors) == 0 || len(benchmarks) == 0 {
		return simulation.Session{}, ErrNoJobs
	}
	if opts.RemoteOnly && c.connectedCount() == 0 {
		return simulation.Session{}, ErrNoWorkers
	}

	c.stopCurrent(false)

	c.matrix.Clear()
	var configs []predictor.Config
	for _, p := range predictors {
		if _, err := c.matrix.AddPredictor(p); err != nil {
			c.logger.Warn("skipping duplicate predictor", "predictor", p.String())
			continue
		}
		configs = append(configs, p)
	}
	var selected []trace.Benchmark
	for _, b := range benchmarks {
		if err := c.matrix.AddBenchmark(b); err != nil {
			c.logger.Warn("skipping duplicate benchmark", "benchmark", b.String())
			continue
		}
		selected = append(selected, b)
	}
	if err := c.matrix.Initialize(); err != nil {
		return simulation.Session{}, err
	}
	generation := c.matrix.Generation()

	session := simulation.Session{ID: c.sessions.Next(), Options: opts}
	tasks := make([]simulation.Task, 0, len(configs)*len(selected))
	for _, p := range configs {
		for _, b := range selected {
			tasks = append(tasks, simulation.Task{
				ID:        c.taskIDs.Next(),
				SessionID: session.ID,
				Job:       simulation.Job{Predictor: p, Benchmark: b},
			})
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	state := &runState{
		session:    session,
		generation: generation,
		ctx:        runCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
		summary: Summary{
			SessionID:  session.ID,
			Predictors: len(configs),
			Benchmarks: len(selected),
			Tasks:      len(tasks),
			StartedAt:  time.Now(),
		},
	}
	c.mu.Lock()
	c.run = state
	c.mu.Unlock()

	if purged := c.queue.PurgeExcept(session.ID); purged > 0 {
		c.logger.Debug("purged stale tasks", "count", purged)
	}
	c.queue.EnqueueAll(tasks)

	c.logger.Info("starting run",
		"session_id", session.ID,
		"tasks", len(tasks),
		"predictors", len(configs),
	)
	c.notifier.MessagePosted(fmt.Sprintf("Starting %d simulations on %d predictor versions", len(tasks), len(configs)))

	if !opts.RemoteOnly {
		c.local.Start(runCtx, session)
	}
	for _, p := range c.Remotes() {
		if !p.Connected() {
			continue
		}
		if err := p.StartSession(session); err != nil {
			c.logger.Warn("failed to start session on remote", "remote", p.Addr(), "error", err)
		}
	}
	return session, nil
}

// Abort stops the current run: local workers are cancelled and joined,
// remotes receive AbortSession and the matrix keeps its partial state.
func (c *Coordinator) Abort() error {
	c.mu.Lock()
	state := c.run
	c.mu.Unlock()
	if state == nil || c.finished(state) {
		return ErrNotRunning
	}

	err := c.stopCurrent(true)
	c.notifier.MessagePosted("Simulation aborted by user")
	return err
}

// stopCurrent cancels the active run, if any.
func (c *Coordinator) stopCurrent(userAbort bool) error {
	c.mu.Lock()
	state := c.run
	c.mu.Unlock()
	if state == nil || c.finished(state) {
		return nil
	}

	state.cancel()
	err := c.local.Abort(c.opts.AbortTimeout)
	if err != nil {
		c.logger.Error("local workers did not stop", "error", err)
	}
	c.queue.Clear()

	if userAbort {
		for _, p := range c.Remotes() {
			if !p.Connected() {
				continue
			}
			if err := p.SendAbort(); err != nil {
				c.logger.Warn("failed to send abort", "remote", p.Addr(), "error", err)
			}
		}
	}

	c.mu.Lock()
	if !state.closed {
		state.closed = true
		state.summary.Aborted = true
		state.summary.FinishedAt = time.Now()
		close(state.done)
	}
	c.mu.Unlock()
	return err
}

func (c *Coordinator) finished(state *runState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return state.closed
}

// Wait blocks until the current run completes or is aborted.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	state := c.run
	c.mu.Unlock()
	if state == nil {
		return ErrNotRunning
	}

	select {
	case <-state.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if state.summary.Aborted {
		return ErrAborted
	}
	return nil
}

// Summary returns the state of the current or last run.
func (c *Coordinator) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return Summary{}
	}
	s := c.run.summary
	s.ValuesEntered = c.matrix.ValuesEntered()
	return s
}

func (c *Coordinator) currentSession() (simulation.Session, bool) {
	session, _, ok := c.activeRun()
	return session, ok
}

// activeRun returns the session of the open run and its matrix generation.
func (c *Coordinator) activeRun() (simulation.Session, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil || c.run.closed {
		return simulation.Session{}, 0, false
	}
	return c.run.session, c.run.generation, true
}

func (c *Coordinator) recordLocal(task simulation.Task, stats simulation.Stats) {
	c.record("local", task, stats)
}

// record writes a result of the current session into the matrix. The
// session check and the write are tied by the matrix generation, so a
// restart between the two drops the result.
func (c *Coordinator) record(target string, task simulation.Task, stats simulation.Stats) {
	session, generation, ok := c.activeRun()
	if !ok || task.SessionID != session.ID {
		c.dropStale(task)
		return
	}

	err := c.matrix.SetResultIn(generation, task.Job.Predictor, task.Job.Benchmark, stats)
	if errors.Is(err, results.ErrStaleGeneration) {
		c.dropStale(task)
		return
	}
	if err != nil {
		// a slot written twice means a task was executed twice
		c.logger.Error("failed to record result", "task_id", task.ID, "error", err)
		c.notifier.MessagePosted(fmt.Sprintf("Internal error recording %s: %v", task.Job, err))
		return
	}
	metrics.ResultsRecorded.WithLabelValues(target, metrics.Outcome(stats.OK())).Inc()

	if !stats.OK() {
		c.mu.Lock()
		if c.run != nil && c.run.session.ID == task.SessionID {
			c.run.summary.Failed++
		}
		c.mu.Unlock()
	}
	c.notifier.ResultReceived(task.Job, stats)
}

func (c *Coordinator) dropStale(task simulation.Task) {
	metrics.StaleMessages.WithLabelValues("result").Inc()
	c.logger.Debug("ignoring result of stale session", "task_id", task.ID, "session_id", task.SessionID)
}

func (c *Coordinator) onFilled() {
	c.mu.Lock()
	state := c.run
	if state == nil || state.closed {
		c.mu.Unlock()
		return
	}
	state.closed = true
	state.summary.Completed = true
	state.summary.FinishedAt = time.Now()
	state.cancel()
	close(state.done)
	c.mu.Unlock()

	c.logger.Info("run completed", "session_id", state.session.ID)
	c.notifier.MessagePosted("Simulation completed")
	c.notifier.RunCompleted()
}

// TaskRequested answers a remote credit with tasks from the queue.
func (c *Coordinator) TaskRequested(p *remote.Proxy) {
	c.notifier.TaskRequestReceived(p.Addr())
	c.serviceCredits(p)
}

func (c *Coordinator) serviceCredits(p *remote.Proxy) {
	session, ok := c.currentSession()
	if !ok {
		return
	}

	c.creditMu.Lock()
	defer c.creditMu.Unlock()

	for p.Credits() > 0 {
		task, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		if task.SessionID != session.ID {
			metrics.StaleMessages.WithLabelValues("task").Inc()
			continue
		}
		if err := p.SendTask(task); err != nil {
			c.logger.Warn("failed to send task, requeueing",
				"remote", p.Addr(),
				"task_id", task.ID,
				"error", err,
			)
			c.queue.PushFront(task)
			c.kickLocal(session)
			return
		}
	}
}

// serviceAll offers queued tasks to every proxy holding credits.
func (c *Coordinator) serviceAll() {
	for _, p := range c.Remotes() {
		if p.Connected() && p.Credits() > 0 {
			c.serviceCredits(p)
		}
	}
}

// kickLocal restarts local workers for requeued tasks. A remote-only run
// falls back to local workers once no remote is left.
func (c *Coordinator) kickLocal(session simulation.Session) {
	if !session.Options.RemoteOnly {
		c.local.Kick()
		return
	}
	if c.connectedCount() > 0 || c.local.Running() > 0 {
		return
	}
	c.mu.Lock()
	state := c.run
	c.mu.Unlock()
	if state == nil || state.ctx.Err() != nil {
		return
	}
	c.notifier.MessagePosted("No remote workers left, continuing locally")
	c.local.Start(state.ctx, session)
}

func (c *Coordinator) ResultReceived(p *remote.Proxy, task simulation.Task, stats simulation.Stats) {
	c.record("remote", task, stats)
}

// Disconnected requeues the tasks a lost node never answered.
func (c *Coordinator) Disconnected(p *remote.Proxy, outstanding []simulation.Task) {
	session, ok := c.currentSession()
	if !ok {
		return
	}

	var requeue []simulation.Task
	for _, t := range outstanding {
		if t.SessionID == session.ID {
			requeue = append(requeue, t)
		}
	}
	if len(requeue) > 0 {
		c.logger.Info("requeueing tasks of disconnected remote", "remote", p.Addr(), "count", len(requeue))
		c.queue.PushFront(requeue...)
	}
	c.kickLocal(session)
	c.serviceAll()
}

func (c *Coordinator) MessagePosted(text string) {
	c.notifier.MessagePosted(text)
}
