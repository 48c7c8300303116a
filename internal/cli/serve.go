package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haskel/branchsim/internal/config"
	"github.com/haskel/branchsim/internal/logger"
	"github.com/haskel/branchsim/internal/monitor"
	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/server"
	"github.com/haskel/branchsim/internal/simulation"
	"github.com/haskel/branchsim/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a worker node",
	Long: `Run a worker node in the foreground. The node accepts client connections on
every configured port and executes the simulations they send. An HTTP status
endpoint reports connections, host load and Prometheus metrics.`,
	RunE: runServe,
}

var (
	servePorts   []int
	serveWorkers int
	serveTraces  string
)

func init() {
	serveCmd.Flags().IntSliceVar(&servePorts, "ports", nil, "listening ports (overrides config)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "workers per connection, 0 uses every core (overrides config)")
	serveCmd.Flags().StringVar(&serveTraces, "traces", "", "trace directory (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// loadConfig loads the config file given by --config. Without one the
// defaults apply.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

func logLevel(cfg *config.Config) string {
	if verbose {
		return "debug"
	}
	return cfg.Logging.Level
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("ports") {
		cfg.Server.Ports = servePorts
	}
	if cmd.Flags().Changed("workers") {
		cfg.Server.Workers = serveWorkers
	}
	if cmd.Flags().Changed("traces") {
		cfg.Simulation.TracesPath = serveTraces
	}
	if cfg.Server.Workers <= 0 {
		cfg.Server.Workers = monitor.Parallelism()
	}

	log := logger.New(logLevel(cfg), cfg.Logging.Format)

	log.Info("branchsim node starting",
		"version", Version,
		"config", cfgFile,
		"ports", cfg.Server.Ports,
		"workers", cfg.Server.Workers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracesPath := config.ExpandHome(cfg.Simulation.TracesPath)
	agg := monitor.Default(tracesPath, cfg.MonitoringInterval(), log)
	if err := agg.Start(ctx); err != nil {
		return fmt.Errorf("failed to start aggregator: %w", err)
	}
	defer agg.Stop()

	budget := monitor.TableBudget(cfg.MaxTableBytes())
	pools := predictor.NewPools(int64(budget))
	simulator := simulation.NewSimulator(pools, tracesPath, log)

	node := worker.NewServer(worker.ServerConfig{
		Host:        cfg.Server.Host,
		Ports:       cfg.Server.Ports,
		Workers:     cfg.Server.Workers,
		AcceptRate:  cfg.Server.AcceptRate,
		AcceptBurst: cfg.Server.AcceptBurst,
	}, simulator, log)
	if err := node.Listen(); err != nil {
		return err
	}

	if cfg.Server.PIDFile != "" {
		if err := writePIDFile(cfg.Server.PIDFile); err != nil {
			log.Warn("failed to write PID file", "error", err)
		} else {
			defer os.Remove(cfg.Server.PIDFile)
		}
	}

	var status *server.Server
	statusErr := make(chan error, 1)
	if cfg.Status.Enabled {
		status = server.New(cfg, node, agg, log, Version)
		go func() {
			if err := status.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				statusErr <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			log.Info("shutdown signal received")
		case err := <-statusErr:
			log.Error("status server failed", "error", err)
		case <-ctx.Done():
			return
		}

		if status != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := status.Shutdown(shutdownCtx); err != nil {
				log.Error("status server shutdown error", "error", err)
			}
		}
		cancel()
	}()

	log.Info("branchsim node ready", "addrs", node.Addrs())

	if err := node.Serve(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("branchsim node stopped")
	return nil
}

func writePIDFile(path string) error {
	pid := os.Getpid()
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", pid)), 0644)
}
