package tui

import (
	"time"

	"github.com/haskel/branchsim/internal/server"
)

// DashboardConfig holds the settings of the node dashboard.
type DashboardConfig struct {
	ServerURL       string
	RefreshInterval time.Duration
	User            string
	Password        string
}

// Model is the node dashboard state.
type Model struct {
	config DashboardConfig
	client *server.Client

	status *server.StatusResponse

	width       int
	height      int
	loading     bool
	err         error
	lastUpdated time.Time

	tableOffset int
}

func NewModel(cfg DashboardConfig) Model {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Second
	}
	return Model{
		config:  cfg,
		client:  server.NewClient(cfg.ServerURL, cfg.User, cfg.Password, fetchTimeout),
		loading: true,
	}
}
