package simulation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/trace"
)

// Executor runs jobs. Implementations must be safe for concurrent use and
// must return promptly once ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, job Job, opts Options) Stats
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job Job, opts Options) Stats

func (f ExecutorFunc) Execute(ctx context.Context, job Job, opts Options) Stats {
	return f(ctx, job, opts)
}

// cancelCheckInterval is the number of branches simulated between context checks.
const cancelCheckInterval = 4096

// Simulator executes jobs by replaying trace files through pooled predictors.
type Simulator struct {
	pools     *predictor.Pools
	tracesDir string
	logger    *slog.Logger
}

func NewSimulator(pools *predictor.Pools, tracesDir string, logger *slog.Logger) *Simulator {
	return &Simulator{
		pools:     pools,
		tracesDir: tracesDir,
		logger:    logger,
	}
}

// Execute never returns an error: construction and trace failures produce a
// failed Stats so the run can complete with partial data.
func (s *Simulator) Execute(ctx context.Context, job Job, opts Options) Stats {
	pool := s.pools.Get(job.Predictor)
	p, err := pool.Checkout()
	if err != nil {
		s.logger.Warn("predictor construction failed",
			"predictor", job.Predictor.String(),
			"error", err,
		)
		return Failed(job.Benchmark, err)
	}
	defer func() {
		if err := pool.Release(p); err != nil {
			// pool bookkeeping is broken; nothing downstream can recover
			panic(err)
		}
	}()

	r, err := trace.Open(s.tracesDir, job.Benchmark)
	if err != nil {
		return Failed(job.Benchmark, err)
	}
	defer r.Close()

	stats, err := Run(ctx, p, r, job.Benchmark, opts)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("simulation failed",
				"job", job.String(),
				"error", err,
			)
		}
		return Failed(job.Benchmark, err)
	}
	return stats
}

// Run replays r through p. The first opts.BranchesToSkip branches train the
// predictor without being counted.
func Run(ctx context.Context, p predictor.Predictor, r trace.Reader, b trace.Benchmark, opts Options) (Stats, error) {
	var (
		correct, incorrect uint64
		seen               uint32
		n                  int
	)

	for {
		n++
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Stats{}, err
			}
		}

		branch, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Stats{}, fmt.Errorf("failed to read trace %s: %w", b, err)
		}
		if opts.ConditionalOnly && !branch.Conditional() {
			continue
		}

		predicted := p.Predict(branch)
		p.Update(branch)

		if seen < opts.BranchesToSkip {
			seen++
			continue
		}
		if predicted == branch.Taken {
			correct++
		} else {
			incorrect++
		}
	}

	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	return NewStats(b, correct, incorrect), nil
}
