package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// RunDashboard shows the status of a worker node until the user quits.
func RunDashboard(cfg DashboardConfig) error {
	p := tea.NewProgram(
		NewModel(cfg),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
