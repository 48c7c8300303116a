package results

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/simulation"
	"github.com/haskel/branchsim/internal/trace"
)

func stats(name string, accuracy float64) simulation.Stats {
	return simulation.Stats{Benchmark: trace.Benchmark{Name: name}, Accuracy: accuracy}
}

func newTestMatrix(t *testing.T, predictors []predictor.Config, benchmarks []trace.Benchmark, observer Observer) *Matrix {
	t.Helper()
	m := NewMatrix(nil, observer)
	for _, p := range predictors {
		_, err := m.AddPredictor(p)
		require.NoError(t, err)
	}
	for _, b := range benchmarks {
		require.NoError(t, m.AddBenchmark(b))
	}
	require.NoError(t, m.Initialize())
	return m
}

func TestComputeMeans(t *testing.T) {
	means := ComputeMeans([]float64{0.9, 0.8, 0.5, 0.0})
	require.Equal(t, 3, means.Count)
	require.InDelta(t, 0.7333, means.Arithmetic, 1e-4)
	// (0.9*0.8*0.5)^(1/3) and 3 / (1/0.9 + 1/0.8 + 1/0.5)
	require.InDelta(t, 0.7114, means.Geometric, 1e-4)
	require.InDelta(t, 0.6879, means.Harmonic, 1e-4)

	require.Equal(t, Means{}, ComputeMeans(nil))
	require.Equal(t, Means{}, ComputeMeans([]float64{0, math.NaN()}))
}

func TestCollection_SortedByBenchmarkName(t *testing.T) {
	c := newCollection(predictor.NewConfig("fixed", "", true))
	for _, name := range []string{"m", "c", "x", "a", "m", "b"} {
		c.add(stats(name, 0.5))
	}

	entries := c.Entries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Benchmark.Name
	}
	require.True(t, sort.StringsAreSorted(names), "entries not sorted: %v", names)
	require.Len(t, names, 6)
}

func TestCollection_MeansExcludeFailedRuns(t *testing.T) {
	c := newCollection(predictor.NewConfig("fixed", "", true))
	c.add(stats("a", 0.9))
	c.add(stats("b", 0.8))
	c.add(stats("c", 0.5))
	c.add(simulation.Failed(trace.Benchmark{Name: "d"}, fmt.Errorf("boom")))

	means := c.Means()
	require.Equal(t, 3, means.Count)
	require.InDelta(t, 0.7333, means.Arithmetic, 1e-4)
	require.Equal(t, 4, c.Len())
}

func TestMatrix_Keys(t *testing.T) {
	m := NewMatrix(nil, Observer{})
	gag := predictor.NewConfig("gag", "first", 8, 8, 3)

	_, err := m.AddPredictor(gag)
	require.NoError(t, err)
	_, err = m.AddPredictor(predictor.NewConfig("gag", "different text", 8, 8, 3))
	require.ErrorIs(t, err, ErrDuplicateKey)

	require.NoError(t, m.AddBenchmark(trace.Benchmark{Name: "a"}))
	require.ErrorIs(t, m.AddBenchmark(trace.Benchmark{Name: "a"}), ErrDuplicateKey)

	require.ErrorIs(t, m.SetResult(gag, trace.Benchmark{Name: "a"}, stats("a", 1)), ErrNotInitialized)

	require.NoError(t, m.Initialize())
	require.ErrorIs(t, m.AddBenchmark(trace.Benchmark{Name: "b"}), ErrInitialized)

	require.ErrorIs(t, m.SetResult(gag, trace.Benchmark{Name: "zzz"}, stats("zzz", 1)), ErrInvalidKey)
	require.ErrorIs(t, m.SetResult(predictor.NewConfig("fixed", "", true), trace.Benchmark{Name: "a"}, stats("a", 1)), ErrInvalidKey)

	_, _, err = m.GetResult(gag, trace.Benchmark{Name: "zzz"})
	require.ErrorIs(t, err, ErrInvalidKey)
	_, _, err = m.ResultAt(3, 0)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestMatrix_SlotWrittenOnce(t *testing.T) {
	gag := predictor.NewConfig("gag", "", 8, 8, 3)
	b := trace.Benchmark{Name: "a"}
	m := newTestMatrix(t, []predictor.Config{gag}, []trace.Benchmark{b}, Observer{})

	_, ok, err := m.GetResult(gag, b)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.SetResult(gag, b, stats("a", 0.9)))
	require.ErrorIs(t, m.SetResult(gag, b, stats("a", 0.1)), ErrAlreadySet)

	got, ok, err := m.GetResult(gag, b)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0.9, got.Accuracy)
	require.Equal(t, 1, m.ValuesEntered())
}

func TestMatrix_CompletionFiresOnce(t *testing.T) {
	predictors := []predictor.Config{
		predictor.NewConfig("gag", "", 8, 8, 3),
		predictor.NewConfig("gshare", "", 8, 8, 3),
	}
	benchmarks := []trace.Benchmark{{Name: "c"}, {Name: "a"}, {Name: "b"}}

	var (
		values atomic.Int32
		filled atomic.Int32
	)
	m := newTestMatrix(t, predictors, benchmarks, Observer{
		OnValue:  func(Update) { values.Add(1) },
		OnFilled: func() { filled.Add(1) },
	})

	var wg sync.WaitGroup
	for _, p := range predictors {
		for _, b := range benchmarks {
			wg.Add(1)
			go func(p predictor.Config, b trace.Benchmark) {
				defer wg.Done()
				if err := m.SetResult(p, b, stats(b.Name, 0.5)); err != nil {
					t.Errorf("SetResult failed: %v", err)
				}
			}(p, b)
		}
	}
	wg.Wait()

	require.Equal(t, int32(6), values.Load())
	require.Equal(t, int32(1), filled.Load())
	require.True(t, m.IsFull())
	require.Equal(t, 6, m.ValuesEntered())

	for _, p := range predictors {
		c, err := m.Collection(p)
		require.NoError(t, err)
		entries := c.Entries()
		require.Len(t, entries, 3)
		require.Equal(t, "a", entries[0].Benchmark.Name)
		require.Equal(t, "c", entries[2].Benchmark.Name)
	}
}

func TestMatrix_NotFullNeverFires(t *testing.T) {
	gag := predictor.NewConfig("gag", "", 8, 8, 3)
	fired := false
	m := newTestMatrix(t, []predictor.Config{gag}, []trace.Benchmark{{Name: "a"}, {Name: "b"}}, Observer{
		OnFilled: func() { fired = true },
	})

	require.NoError(t, m.SetResult(gag, trace.Benchmark{Name: "a"}, stats("a", 0.5)))
	require.False(t, fired)
	require.False(t, m.IsFull())
}

func TestMatrix_UpdateCarriesMeans(t *testing.T) {
	gag := predictor.NewConfig("gag", "", 8, 8, 3)
	benchmarks := []trace.Benchmark{{Name: "a"}, {Name: "b"}}

	var last Update
	m := newTestMatrix(t, []predictor.Config{gag}, benchmarks, Observer{
		OnValue: func(u Update) { last = u },
	})

	require.NoError(t, m.SetResult(gag, benchmarks[1], stats("b", 0.5)))
	require.Equal(t, 0, last.PredictorIndex)
	require.Equal(t, 1, last.BenchmarkIndex)
	require.Equal(t, 1, last.ValuesEntered)
	require.Equal(t, 2, last.Capacity)
	require.InDelta(t, 0.5, last.Means.Arithmetic, 1e-9)

	require.NoError(t, m.SetResult(gag, benchmarks[0], stats("a", 1.0)))
	require.InDelta(t, 0.75, last.Means.Arithmetic, 1e-9)
}

func TestMatrix_DispatchToOwner(t *testing.T) {
	gag := predictor.NewConfig("gag", "", 8, 8, 3)
	b := trace.Benchmark{Name: "a"}

	var queued []func()
	m := NewMatrix(func(fn func()) { queued = append(queued, fn) }, Observer{
		OnFilled: func() {},
	})
	_, err := m.AddPredictor(gag)
	require.NoError(t, err)
	require.NoError(t, m.AddBenchmark(b))
	require.NoError(t, m.Initialize())

	require.NoError(t, m.SetResult(gag, b, stats("a", 0.5)))
	require.Len(t, queued, 1)
}

func TestMatrix_Clear(t *testing.T) {
	gag := predictor.NewConfig("gag", "", 8, 8, 3)
	b := trace.Benchmark{Name: "a"}
	filled := 0
	m := newTestMatrix(t, []predictor.Config{gag}, []trace.Benchmark{b}, Observer{
		OnFilled: func() { filled++ },
	})
	require.NoError(t, m.SetResult(gag, b, stats("a", 0.5)))

	m.Clear()
	require.Equal(t, 0, m.ValuesEntered())
	require.Empty(t, m.Predictors())
	require.Empty(t, m.Benchmarks())

	_, err := m.AddPredictor(gag)
	require.NoError(t, err)
	require.NoError(t, m.AddBenchmark(b))
	require.NoError(t, m.Initialize())
	require.NoError(t, m.SetResult(gag, b, stats("a", 0.5)))
	require.Equal(t, 2, filled)
}

func TestMatrix_InitializeTwice(t *testing.T) {
	gag := predictor.NewConfig("gag", "", 8, 8, 3)
	b := trace.Benchmark{Name: "a"}
	filled := 0
	m := newTestMatrix(t, []predictor.Config{gag}, []trace.Benchmark{b}, Observer{
		OnFilled: func() { filled++ },
	})
	require.NoError(t, m.SetResult(gag, b, stats("a", 0.5)))

	require.ErrorIs(t, m.Initialize(), ErrInitialized)

	// the filled slot survives the rejected call
	got, ok, err := m.GetResult(gag, b)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0.5, got.Accuracy)
	require.Equal(t, 1, m.ValuesEntered())
	require.True(t, m.IsFull())
	require.ErrorIs(t, m.SetResult(gag, b, stats("a", 0.7)), ErrAlreadySet)
	require.Equal(t, 1, filled)
}

func TestMatrix_SetResultInRejectsClearedGeneration(t *testing.T) {
	gag := predictor.NewConfig("gag", "", 8, 8, 3)
	b := trace.Benchmark{Name: "a"}
	m := newTestMatrix(t, []predictor.Config{gag}, []trace.Benchmark{b}, Observer{})

	before := m.Generation()
	m.Clear()
	_, err := m.AddPredictor(gag)
	require.NoError(t, err)
	require.NoError(t, m.AddBenchmark(b))
	require.NoError(t, m.Initialize())
	require.NotEqual(t, before, m.Generation())

	require.ErrorIs(t, m.SetResultIn(before, gag, b, stats("a", 0.5)), ErrStaleGeneration)
	require.Equal(t, 0, m.ValuesEntered())

	require.NoError(t, m.SetResultIn(m.Generation(), gag, b, stats("a", 0.5)))
	require.Equal(t, 1, m.ValuesEntered())
}
