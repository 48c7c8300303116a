package config

import "time"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Status     StatusConfig     `yaml:"status"`
	Auth       AuthConfig       `yaml:"auth"`
	Client     ClientConfig     `yaml:"client"`
	Simulation SimulationConfig `yaml:"simulation"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the worker node that executes tasks for clients.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Ports   []int  `yaml:"ports"`
	PIDFile string `yaml:"pid_file"`
	// Workers per client connection; 0 uses every logical core.
	Workers     int     `yaml:"workers"`
	AcceptRate  float64 `yaml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst"`
}

// StatusConfig configures the HTTP status endpoint of a worker node.
type StatusConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ClientConfig configures the side that submits runs.
type ClientConfig struct {
	Name             string   `yaml:"name"`
	Remotes          []string `yaml:"remotes"`
	ConnectTimeoutMS int      `yaml:"connect_timeout_ms"`
	AbortTimeoutMS   int      `yaml:"abort_timeout_ms"`
	// Workers is the local pool size; 0 uses every logical core.
	Workers int    `yaml:"workers"`
	DataDir string `yaml:"data_dir"`
}

type SimulationConfig struct {
	TracesPath      string `yaml:"traces_path"`
	ConditionalOnly bool   `yaml:"conditional_only"`
	BranchesToSkip  uint32 `yaml:"branches_to_skip"`
	RemoteOnly      bool   `yaml:"remote_only"`
	// MaxTableMB caps the table memory of one predictor instance; 0 leaves
	// only the host's available memory as the limit.
	MaxTableMB int `yaml:"max_table_mb"`
}

type MonitoringConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) MonitoringInterval() time.Duration {
	return time.Duration(c.Monitoring.IntervalMS) * time.Millisecond
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Client.ConnectTimeoutMS) * time.Millisecond
}

func (c *Config) AbortTimeout() time.Duration {
	return time.Duration(c.Client.AbortTimeoutMS) * time.Millisecond
}

// MaxTableBytes returns the configured per-instance table budget in bytes.
func (c *Config) MaxTableBytes() uint64 {
	return uint64(c.Simulation.MaxTableMB) << 20
}
