package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/haskel/branchsim/internal/dispatch"
	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/simulation"
)

var _ dispatch.Notifier = (*RunApp)(nil)

// RunApp shows the progress of a simulation run. It receives coordinator
// events as a dispatch.Notifier and forwards them to the event loop, so
// notifications block until Run has started and return at once after it
// has ended.
type RunApp struct {
	program *tea.Program
}

func NewRunApp(cfg RunConfig) *RunApp {
	return &RunApp{
		program: tea.NewProgram(NewRunModel(cfg), tea.WithAltScreen()),
	}
}

// Run shows the view until the user quits.
func (a *RunApp) Run() error {
	if _, err := a.program.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}

func (a *RunApp) RunStarted(tasks int, predictors []predictor.Config) {
	a.program.Send(runStartedMsg{tasks: tasks, predictors: predictors})
}

func (a *RunApp) RunFailed(err error) {
	a.program.Send(runFailedMsg{err: err})
}

func (a *RunApp) MessagePosted(text string) {
	a.program.Send(messageMsg{text: text})
}

func (a *RunApp) TaskRequestReceived(remote string) {
	a.program.Send(requestMsg{remote: remote})
}

func (a *RunApp) ResultReceived(job simulation.Job, stats simulation.Stats) {
	a.program.Send(resultMsg{job: job, stats: stats})
}

func (a *RunApp) RunCompleted() {
	a.program.Send(completedMsg{})
}
