package simulation

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/trace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSequence(t *testing.T) {
	var s Sequence
	for want := uint32(1); want <= 3; want++ {
		if got := s.Next(); got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
	s.Reset()
	if got := s.Next(); got != 1 {
		t.Errorf("expected 1 after reset, got %d", got)
	}
}

func TestNewStats(t *testing.T) {
	s := NewStats(trace.Benchmark{Name: "a"}, 3, 1)
	if s.Accuracy != 0.75 {
		t.Errorf("expected accuracy 0.75, got %f", s.Accuracy)
	}
	if s.Total() != 4 {
		t.Errorf("expected total 4, got %d", s.Total())
	}

	empty := NewStats(trace.Benchmark{Name: "a"}, 0, 0)
	if !math.IsNaN(empty.Accuracy) {
		t.Errorf("expected NaN accuracy for zero branches, got %f", empty.Accuracy)
	}
	if !empty.OK() {
		t.Error("zero-count stats are not a failure")
	}
}

func TestRun_Options(t *testing.T) {
	// fixed taken: conditional branches 2 taken, 2 not taken, plus one call
	input := "BT 1 2\nNF 2 3\nBS 3 4\nBT 4 5\nNF 5 6\n"
	b := trace.Benchmark{Name: "t.tra"}
	p, err := predictor.New(predictor.NewConfig("fixed", "", true), 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		name          string
		opts          Options
		wantCorrect   uint64
		wantIncorrect uint64
	}{
		{name: "all branches", opts: Options{}, wantCorrect: 3, wantIncorrect: 2},
		{name: "conditional only", opts: Options{ConditionalOnly: true}, wantCorrect: 2, wantIncorrect: 2},
		{name: "skip warm-up", opts: Options{ConditionalOnly: true, BranchesToSkip: 2}, wantCorrect: 1, wantIncorrect: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := trace.NewStanfordReader(strings.NewReader(input))
			stats, err := Run(context.Background(), p, r, b, tt.opts)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if stats.Correct != tt.wantCorrect || stats.Incorrect != tt.wantIncorrect {
				t.Errorf("expected %d/%d, got %d/%d", tt.wantCorrect, tt.wantIncorrect, stats.Correct, stats.Incorrect)
			}
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 3*cancelCheckInterval; i++ {
		sb.WriteString("BT 1 2\n")
	}
	p, _ := predictor.New(predictor.NewConfig("fixed", "", true), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, p, trace.NewStanfordReader(strings.NewReader(sb.String())), trace.Benchmark{}, Options{})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSimulator_Execute(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "fsort.tra"), []byte("BT 1 2\nBT 1 2\nNF 1 2\n"), 0644); err != nil {
		t.Fatalf("failed to write trace: %v", err)
	}
	pools := predictor.NewPools(0)
	sim := NewSimulator(pools, dir, testLogger())

	job := Job{
		Predictor: predictor.NewConfig("fixed", "Always taken", true),
		Benchmark: trace.Benchmark{Name: "fsort.tra"},
	}
	stats := sim.Execute(context.Background(), job, Options{ConditionalOnly: true})
	if !stats.OK() {
		t.Fatalf("unexpected failure: %s", stats.Err)
	}
	if stats.Correct != 2 || stats.Incorrect != 1 {
		t.Errorf("expected 2/1, got %d/%d", stats.Correct, stats.Incorrect)
	}
	if _, busy := pools.Get(job.Predictor).Size(); busy != 0 {
		t.Errorf("expected instance to be released, %d busy", busy)
	}
}

func TestSimulator_FailedPlaceholders(t *testing.T) {
	sim := NewSimulator(predictor.NewPools(1024), t.TempDir(), testLogger())

	tests := []struct {
		name string
		job  Job
	}{
		{
			name: "construction error",
			job:  Job{Predictor: predictor.NewConfig("gag", "", 99, 8, 3), Benchmark: trace.Benchmark{Name: "x"}},
		},
		{
			name: "out of resources",
			job:  Job{Predictor: predictor.NewConfig("gag", "", 17, 12, 3), Benchmark: trace.Benchmark{Name: "x"}},
		},
		{
			name: "missing trace",
			job:  Job{Predictor: predictor.NewConfig("fixed", "", true), Benchmark: trace.Benchmark{Name: "missing.tra"}},
		},
		{
			name: "unsupported family",
			job:  Job{Predictor: predictor.NewConfig("fixed", "", true), Benchmark: trace.Benchmark{Name: "gcc", Family: trace.FamilyCBP2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := sim.Execute(context.Background(), tt.job, Options{})
			if stats.OK() {
				t.Fatal("expected failed stats")
			}
			if !math.IsNaN(stats.Accuracy) {
				t.Errorf("expected NaN accuracy, got %f", stats.Accuracy)
			}
			if stats.Benchmark != tt.job.Benchmark {
				t.Errorf("expected benchmark %v, got %v", tt.job.Benchmark, stats.Benchmark)
			}
		})
	}
}
