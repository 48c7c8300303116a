package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haskel/branchsim/internal/cli/tui"
	"github.com/haskel/branchsim/internal/config"
	"github.com/haskel/branchsim/internal/dispatch"
	"github.com/haskel/branchsim/internal/logger"
	"github.com/haskel/branchsim/internal/monitor"
	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/simulation"
	"github.com/haskel/branchsim/internal/storage"
	"github.com/haskel/branchsim/internal/trace"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run predictors against benchmark traces",
	Long: `Run every selected predictor configuration against every selected benchmark
and print the prediction accuracies with their arithmetic, geometric and
harmonic means.

A predictor is given as kind[:arg,arg,...]; an argument may list alternatives
separated by '|' and expands to one configuration per combination. Omitted
arguments take their default ("branchsim predictors" lists them).

Benchmarks are trace file names below the traces directory, optionally
prefixed with their family ("stanford:gcc"). Without --benchmark every file
in the traces directory is used.`,
	Example: `  branchsim simulate -P gag:4|8,8,3 -P gshare -b gcc -b mcf
  branchsim simulate -P bimodal:10|12 --remote 10.0.0.5:9050 --tui
  branchsim simulate -P fixed:true --remote-only --json`,
	RunE: runSimulate,
}

var simFlags struct {
	predictors      []string
	benchmarks      []string
	remotes         []string
	tracesPath      string
	conditionalOnly bool
	skip            uint32
	remoteOnly      bool
	workers         int
	tui             bool
	noSave          bool
}

func init() {
	f := simulateCmd.Flags()
	f.StringArrayVarP(&simFlags.predictors, "predictor", "P", nil, "predictor spec, repeatable")
	f.StringArrayVarP(&simFlags.benchmarks, "benchmark", "b", nil, "benchmark, repeatable (default: every trace file)")
	f.StringArrayVarP(&simFlags.remotes, "remote", "r", nil, "additional remote node host:port, repeatable")
	f.StringVar(&simFlags.tracesPath, "traces", "", "trace directory (overrides config)")
	f.BoolVar(&simFlags.conditionalOnly, "conditional-only", true, "simulate conditional branches only (overrides config)")
	f.Uint32Var(&simFlags.skip, "skip", 0, "warm-up branches trained but not counted (overrides config)")
	f.BoolVar(&simFlags.remoteOnly, "remote-only", false, "run on remote nodes only (overrides config)")
	f.IntVarP(&simFlags.workers, "workers", "w", 0, "local workers, 0 uses every core (overrides config)")
	f.BoolVar(&simFlags.tui, "tui", false, "show an interactive progress view")
	f.BoolVar(&simFlags.noSave, "no-save", false, "do not record the run in the run history")
	rootCmd.AddCommand(simulateCmd)
}

// simulationPlan is everything a run needs, resolved from config and flags.
type simulationPlan struct {
	cfg        *config.Config
	predictors []predictor.Config
	benchmarks []trace.Benchmark
	remotes    []string
	options    simulation.Options
	workers    int
	tracesPath string
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	plan, err := newSimulationPlan(cmd, cfg)
	if err != nil {
		return err
	}

	log := logger.New(logLevel(cfg), cfg.Logging.Format)
	if simFlags.tui {
		// the progress view owns the terminal
		log = logger.Discard()
	}

	store := storage.New(config.ExpandHome(cfg.Client.DataDir), log)
	if err := store.Load(); err != nil {
		log.Warn("failed to load stored data", "error", err)
	}
	plan.remotes = mergeRemotes(plan.remotes, store.Remotes())

	budget := monitor.TableBudget(cfg.MaxTableBytes())
	simulator := simulation.NewSimulator(predictor.NewPools(int64(budget)), plan.tracesPath, log)

	var (
		coord  *dispatch.Coordinator
		runErr error
	)
	if simFlags.tui {
		coord, runErr = simulateWithProgress(plan, simulator, log)
	} else {
		coord, runErr = simulateOnConsole(plan, simulator, log)
	}
	if coord == nil {
		return runErr
	}

	summary := coord.Summary()
	report := buildReport(summary, coord.Matrix())
	if !simFlags.noSave {
		run := store.AddRun(runRecord(summary, coord.Matrix()))
		report.ID = run.ID
		if err := store.Save(); err != nil {
			log.Warn("failed to save run history", "error", err)
		}
	}

	if jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		renderResults(os.Stdout, coord.Matrix())
		printSummary(os.Stdout, summary)
	}
	return runErr
}

func newSimulationPlan(cmd *cobra.Command, cfg *config.Config) (*simulationPlan, error) {
	flags := cmd.Flags()
	if flags.Changed("traces") {
		cfg.Simulation.TracesPath = simFlags.tracesPath
	}
	if flags.Changed("conditional-only") {
		cfg.Simulation.ConditionalOnly = simFlags.conditionalOnly
	}
	if flags.Changed("skip") {
		cfg.Simulation.BranchesToSkip = simFlags.skip
	}
	if flags.Changed("remote-only") {
		cfg.Simulation.RemoteOnly = simFlags.remoteOnly
	}
	if flags.Changed("workers") {
		cfg.Client.Workers = simFlags.workers
	}

	plan := &simulationPlan{
		cfg:        cfg,
		tracesPath: config.ExpandHome(cfg.Simulation.TracesPath),
		workers:    cfg.Client.Workers,
		options: simulation.Options{
			ConditionalOnly: cfg.Simulation.ConditionalOnly,
			BranchesToSkip:  cfg.Simulation.BranchesToSkip,
			RemoteOnly:      cfg.Simulation.RemoteOnly,
		},
	}
	if plan.workers <= 0 {
		plan.workers = monitor.Parallelism()
	}

	var err error
	if plan.predictors, err = parsePredictors(simFlags.predictors); err != nil {
		return nil, err
	}
	if len(simFlags.benchmarks) > 0 {
		plan.benchmarks, err = parseBenchmarks(simFlags.benchmarks)
	} else {
		plan.benchmarks, err = discoverBenchmarks(plan.tracesPath)
	}
	if err != nil {
		return nil, err
	}

	for _, addr := range simFlags.remotes {
		if err := config.ValidateAddress(addr); err != nil {
			return nil, err
		}
	}
	plan.remotes = mergeRemotes(cfg.Client.Remotes, simFlags.remotes)

	return plan, nil
}

func parsePredictors(specs []string) ([]predictor.Config, error) {
	if len(specs) == 0 {
		return nil, errors.New("at least one --predictor is required")
	}
	var configs []predictor.Config
	for _, spec := range specs {
		expanded, err := predictor.ParseSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid predictor %q: %w", spec, err)
		}
		configs = append(configs, expanded...)
	}
	return configs, nil
}

func parseBenchmarks(names []string) ([]trace.Benchmark, error) {
	benchmarks := make([]trace.Benchmark, 0, len(names))
	for _, name := range names {
		b, err := trace.ParseBenchmark(name)
		if err != nil {
			return nil, fmt.Errorf("invalid benchmark %q: %w", name, err)
		}
		benchmarks = append(benchmarks, b)
	}
	return benchmarks, nil
}

// discoverBenchmarks lists the regular, non-hidden files of dir as Stanford
// benchmarks, sorted by name.
func discoverBenchmarks(dir string) ([]trace.Benchmark, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}

	var benchmarks []trace.Benchmark
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		benchmarks = append(benchmarks, trace.Benchmark{Name: e.Name(), Family: trace.FamilyStanford})
	}
	if len(benchmarks) == 0 {
		return nil, fmt.Errorf("no trace files in %s", filepath.Clean(dir))
	}
	return benchmarks, nil
}

// mergeRemotes concatenates address lists, keeping the first occurrence.
func mergeRemotes(lists ...[]string) []string {
	var merged []string
	for _, list := range lists {
		for _, addr := range list {
			if !slices.Contains(merged, addr) {
				merged = append(merged, addr)
			}
		}
	}
	return merged
}

func newCoordinator(plan *simulationPlan, executor simulation.Executor, notifier dispatch.Notifier, log *slog.Logger) *dispatch.Coordinator {
	coord := dispatch.NewCoordinator(dispatch.Options{
		LocalWorkers: plan.workers,
		ClientName:   plan.cfg.Client.Name,
		DialTimeout:  plan.cfg.ConnectTimeout(),
		AbortTimeout: plan.cfg.AbortTimeout(),
	}, executor, notifier, nil, log)

	for _, addr := range plan.remotes {
		coord.AddRemote(addr)
	}
	return coord
}

// startRun connects the remotes and starts the run.
func startRun(ctx context.Context, coord *dispatch.Coordinator, plan *simulationPlan, log *slog.Logger) error {
	if len(plan.remotes) > 0 {
		connected := coord.ConnectAll(ctx)
		log.Info("remotes connected", "connected", connected, "configured", len(plan.remotes))
	}
	// the run outlives ctx; cancellation goes through Abort
	if _, err := coord.Start(context.Background(), plan.predictors, plan.benchmarks, plan.options); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

func simulateOnConsole(plan *simulationPlan, executor simulation.Executor, log *slog.Logger) (*dispatch.Coordinator, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := newCoordinator(plan, executor, dispatch.LogNotifier{Logger: log}, log)
	defer coord.DisconnectAll()

	if err := startRun(ctx, coord, plan, log); err != nil {
		return nil, err
	}

	err := coord.Wait(ctx)
	if ctx.Err() != nil {
		if abortErr := coord.Abort(); abortErr != nil && !errors.Is(abortErr, dispatch.ErrNotRunning) {
			log.Error("abort failed", "error", abortErr)
		}
		err = dispatch.ErrAborted
	}
	return coord, err
}

func simulateWithProgress(plan *simulationPlan, executor simulation.Executor, log *slog.Logger) (*dispatch.Coordinator, error) {
	var coord *dispatch.Coordinator
	app := tui.NewRunApp(tui.RunConfig{
		Remotes: len(plan.remotes),
		Abort:   func() error { return coord.Abort() },
	})
	coord = newCoordinator(plan, executor, app, log)
	defer coord.DisconnectAll()

	started := make(chan error, 1)
	go func() {
		err := startRun(context.Background(), coord, plan, log)
		started <- err
		if err != nil {
			app.RunFailed(err)
			return
		}
		app.RunStarted(coord.Summary().Tasks, coord.Matrix().Predictors())
	}()

	if err := app.Run(); err != nil {
		return nil, err
	}
	if err := <-started; err != nil {
		return nil, err
	}

	// the view was closed while the run was still going
	summary := coord.Summary()
	if !summary.Completed && !summary.Aborted {
		if err := coord.Abort(); err != nil && !errors.Is(err, dispatch.ErrNotRunning) {
			return coord, err
		}
	}
	if coord.Summary().Aborted {
		return coord, dispatch.ErrAborted
	}
	return coord, nil
}
