package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/haskel/branchsim/internal/server"
)

const fetchTimeout = 5 * time.Second

type statusMsg struct {
	data *server.StatusResponse
	err  error
}

type tickMsg time.Time

func fetchStatus(client *server.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		status, err := client.Status(ctx)
		return statusMsg{data: status, err: err}
	}
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
