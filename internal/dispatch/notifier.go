package dispatch

import (
	"log/slog"

	"github.com/haskel/branchsim/internal/results"
	"github.com/haskel/branchsim/internal/simulation"
)

// Notifier is the host-facing event sink. Calls may arrive on any
// goroutine; hosts that need a single owning goroutine wrap the sink with
// Dispatched.
type Notifier interface {
	MessagePosted(text string)
	TaskRequestReceived(remote string)
	ResultReceived(job simulation.Job, stats simulation.Stats)
	RunCompleted()
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) MessagePosted(string)                            {}
func (NopNotifier) TaskRequestReceived(string)                      {}
func (NopNotifier) ResultReceived(simulation.Job, simulation.Stats) {}
func (NopNotifier) RunCompleted()                                   {}

// LogNotifier writes events to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) MessagePosted(text string) {
	n.Logger.Info(text)
}

func (n LogNotifier) TaskRequestReceived(remote string) {
	n.Logger.Debug("task request received", "remote", remote)
}

func (n LogNotifier) ResultReceived(job simulation.Job, stats simulation.Stats) {
	if !stats.OK() {
		n.Logger.Warn("simulation failed",
			"predictor", job.Predictor.String(),
			"benchmark", job.Benchmark.String(),
			"error", stats.Err,
		)
		return
	}
	n.Logger.Debug("result received",
		"predictor", job.Predictor.String(),
		"benchmark", job.Benchmark.String(),
		"accuracy", stats.Accuracy,
	)
}

func (n LogNotifier) RunCompleted() {
	n.Logger.Info("run completed")
}

// Multi fans events out to several notifiers in order.
type Multi []Notifier

func (m Multi) MessagePosted(text string) {
	for _, n := range m {
		n.MessagePosted(text)
	}
}

func (m Multi) TaskRequestReceived(remote string) {
	for _, n := range m {
		n.TaskRequestReceived(remote)
	}
}

func (m Multi) ResultReceived(job simulation.Job, stats simulation.Stats) {
	for _, n := range m {
		n.ResultReceived(job, stats)
	}
}

func (m Multi) RunCompleted() {
	for _, n := range m {
		n.RunCompleted()
	}
}

type dispatched struct {
	next     Notifier
	dispatch results.DispatchFunc
}

// Dispatched runs every event of next through dispatch.
func Dispatched(next Notifier, dispatch results.DispatchFunc) Notifier {
	return dispatched{next: next, dispatch: dispatch}
}

func (d dispatched) MessagePosted(text string) {
	d.dispatch(func() { d.next.MessagePosted(text) })
}

func (d dispatched) TaskRequestReceived(remote string) {
	d.dispatch(func() { d.next.TaskRequestReceived(remote) })
}

func (d dispatched) ResultReceived(job simulation.Job, stats simulation.Stats) {
	d.dispatch(func() { d.next.ResultReceived(job, stats) })
}

func (d dispatched) RunCompleted() {
	d.dispatch(func() { d.next.RunCompleted() })
}
