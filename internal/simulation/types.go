package simulation

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/trace"
)

// Options are the per-run simulation settings carried by a Session.
type Options struct {
	ConditionalOnly bool
	BranchesToSkip  uint32

	// RemoteOnly keeps the run off local workers. It is a client setting and
	// is not sent to remote nodes.
	RemoteOnly bool
}

// Session identifies one run. A session with a higher ID supersedes every
// earlier one on the same connection.
type Session struct {
	ID      uint32
	Options Options
}

// Sequence is a monotonic 32-bit counter. The first value is 1.
type Sequence struct {
	last atomic.Uint32
}

func (s *Sequence) Next() uint32 {
	return s.last.Add(1)
}

// Reset restarts the sequence so the next value is 1.
func (s *Sequence) Reset() {
	s.last.Store(0)
}

// Job is one predictor configuration run against one benchmark.
type Job struct {
	Predictor predictor.Config
	Benchmark trace.Benchmark
}

func (j Job) String() string {
	return fmt.Sprintf("%s on %s", j.Predictor, j.Benchmark)
}

type Task struct {
	ID        uint32
	SessionID uint32
	Job       Job
}

// Stats is the outcome of one simulation. A failed or skipped run has no
// counted branches, Accuracy NaN and Err describing the failure.
type Stats struct {
	Benchmark trace.Benchmark
	Correct   uint64
	Incorrect uint64
	Accuracy  float64
	Err       string
}

// NewStats computes accuracy from the counts.
func NewStats(b trace.Benchmark, correct, incorrect uint64) Stats {
	s := Stats{Benchmark: b, Correct: correct, Incorrect: incorrect, Accuracy: math.NaN()}
	if total := correct + incorrect; total > 0 {
		s.Accuracy = float64(correct) / float64(total)
	}
	return s
}

// Failed returns the placeholder result of a job that could not run.
func Failed(b trace.Benchmark, err error) Stats {
	return Stats{Benchmark: b, Accuracy: math.NaN(), Err: err.Error()}
}

func (s Stats) Total() uint64 {
	return s.Correct + s.Incorrect
}

func (s Stats) OK() bool {
	return s.Err == ""
}

type Result struct {
	TaskID    uint32
	SessionID uint32
	Stats     Stats
}
