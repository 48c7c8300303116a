package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/haskel/branchsim/internal/logger"
)

func (c *Config) Validate() error {
	var errs []error

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}

	if c.Status.Enabled {
		if err := c.Status.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("status: %w", err))
		}
	}

	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}

	if err := c.Client.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("client: %w", err))
	}

	if err := c.Simulation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("simulation: %w", err))
	}

	if err := c.Monitoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("monitoring: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	return errors.Join(errs...)
}

func validPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	var errs []error

	if len(s.Ports) == 0 {
		errs = append(errs, errors.New("at least one port is required"))
	}
	seen := make(map[int]bool, len(s.Ports))
	for _, port := range s.Ports {
		if err := validPort(port); err != nil {
			errs = append(errs, err)
		}
		if seen[port] {
			errs = append(errs, fmt.Errorf("port %d listed twice", port))
		}
		seen[port] = true
	}
	if s.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be non-negative, got %d", s.Workers))
	}
	if s.AcceptRate < 0 {
		errs = append(errs, fmt.Errorf("accept_rate must be non-negative"))
	}

	return errors.Join(errs...)
}

func (s *StatusConfig) Validate() error {
	var errs []error

	if err := validPort(s.Port); err != nil {
		errs = append(errs, err)
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.requests_per_second must be positive"))
		}
		if s.RateLimit.Burst < 1 {
			errs = append(errs, fmt.Errorf("rate_limit.burst must be at least 1"))
		}
	}

	return errors.Join(errs...)
}

func (a *AuthConfig) Validate() error {
	if a.Enabled {
		if a.User == "" {
			return fmt.Errorf("user cannot be empty when auth is enabled")
		}
		if a.Password == "" {
			return fmt.Errorf("password cannot be empty when auth is enabled")
		}
	}
	return nil
}

func (c *ClientConfig) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, fmt.Errorf("name cannot be empty"))
	}
	for _, addr := range c.Remotes {
		if err := ValidateAddress(addr); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ConnectTimeoutMS < 1 {
		errs = append(errs, fmt.Errorf("connect_timeout_ms must be at least 1"))
	}
	if c.AbortTimeoutMS < 1 {
		errs = append(errs, fmt.Errorf("abort_timeout_ms must be at least 1"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be non-negative, got %d", c.Workers))
	}
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir cannot be empty"))
	}

	return errors.Join(errs...)
}

func (s *SimulationConfig) Validate() error {
	if s.TracesPath == "" {
		return fmt.Errorf("traces_path cannot be empty")
	}
	if s.MaxTableMB < 0 {
		return fmt.Errorf("max_table_mb must be non-negative, got %d", s.MaxTableMB)
	}
	return nil
}

func (m *MonitoringConfig) Validate() error {
	if m.IntervalMS < 100 {
		return fmt.Errorf("interval_ms must be at least 100, got %d", m.IntervalMS)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	if _, err := logger.ParseLevel(l.Level); err != nil {
		return err
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[l.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", l.Format)
	}

	return nil
}

// ValidateAddress checks a remote worker address of the form host:port.
func ValidateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid remote address %q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("invalid remote address %q: missing host", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid remote address %q: bad port", addr)
	}
	return validPort(n)
}
