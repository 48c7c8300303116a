package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/simulation"
)

const maxMessages = 5

// RunConfig holds the settings of the run progress view.
type RunConfig struct {
	// Remotes is the number of remote nodes taking part.
	Remotes int
	// Abort stops the run. It is called off the event loop.
	Abort func() error
}

type runStartedMsg struct {
	tasks      int
	predictors []predictor.Config
}

type runFailedMsg struct{ err error }

type messageMsg struct{ text string }

type requestMsg struct{ remote string }

type resultMsg struct {
	job   simulation.Job
	stats simulation.Stats
}

type completedMsg struct{}

type abortedMsg struct{ err error }

type predictorRow struct {
	config     predictor.Config
	accuracies []float64
	failed     int
}

// RunModel is the progress state of one simulation run.
type RunModel struct {
	config RunConfig

	total    int
	entered  int
	failed   int
	requests int
	rows     []predictorRow
	index    map[string]int
	messages []string

	started  time.Time
	finished time.Time
	running  bool
	done     bool
	aborting bool
	err      error

	width       int
	height      int
	tableOffset int
}

func NewRunModel(cfg RunConfig) RunModel {
	return RunModel{
		config: cfg,
		index:  make(map[string]int),
	}
}

func (m RunModel) Init() tea.Cmd {
	return nil
}

func (m RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case runStartedMsg:
		m.total = msg.tasks
		m.running = true
		m.started = time.Now()
		for _, cfg := range msg.predictors {
			m.row(cfg)
		}
		return m, nil

	case runFailedMsg:
		m.err = msg.err
		m.done = true
		return m, nil

	case messageMsg:
		m.messages = append(m.messages, msg.text)
		if len(m.messages) > maxMessages {
			m.messages = m.messages[len(m.messages)-maxMessages:]
		}
		return m, nil

	case requestMsg:
		m.requests++
		return m, nil

	case resultMsg:
		i := m.row(msg.job.Predictor)
		m.entered++
		if msg.stats.OK() {
			m.rows[i].accuracies = append(m.rows[i].accuracies, msg.stats.Accuracy)
		} else {
			m.rows[i].failed++
			m.failed++
		}
		return m, nil

	case completedMsg:
		m.running = false
		m.done = true
		m.finished = time.Now()
		return m, nil

	case abortedMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		m.running = false
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m RunModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if !m.running || m.aborting || m.config.Abort == nil {
			return m, tea.Quit
		}
		m.aborting = true
		return m, abortRun(m.config.Abort)

	case "up", "k":
		if m.tableOffset > 0 {
			m.tableOffset--
		}
		return m, nil

	case "down", "j":
		if m.tableOffset < len(m.rows)-1 {
			m.tableOffset++
		}
		return m, nil
	}

	return m, nil
}

// row returns the index of the row of cfg, adding it when missing.
func (m *RunModel) row(cfg predictor.Config) int {
	key := cfg.Key()
	if i, ok := m.index[key]; ok {
		return i
	}
	m.rows = append(m.rows, predictorRow{config: cfg})
	m.index[key] = len(m.rows) - 1
	return len(m.rows) - 1
}

func abortRun(abort func() error) tea.Cmd {
	return func() tea.Msg {
		return abortedMsg{err: abort()}
	}
}
