package results

import (
	"errors"
	"fmt"
	"sync"

	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/simulation"
	"github.com/haskel/branchsim/internal/trace"
)

var (
	ErrInvalidKey     = errors.New("invalid matrix key")
	ErrDuplicateKey   = errors.New("duplicate matrix key")
	ErrAlreadySet     = errors.New("matrix slot already set")
	ErrNotInitialized = errors.New("matrix not initialized")
	ErrInitialized    = errors.New("matrix already initialized")
	// ErrStaleGeneration rejects a write for a matrix that was cleared after
	// the writer read its generation.
	ErrStaleGeneration = errors.New("matrix cleared since generation")
)

// Update describes one slot write.
type Update struct {
	PredictorIndex int
	BenchmarkIndex int
	Predictor      predictor.Config
	Stats          simulation.Stats
	Means          Means
	Collection     *Collection
	ValuesEntered  int
	Capacity       int
}

// DispatchFunc runs fn on the goroutine that owns the notification side
// effects. The default runs fn synchronously on the writer's goroutine.
type DispatchFunc func(fn func())

// Observer receives matrix notifications through the DispatchFunc.
type Observer struct {
	OnValue  func(Update)
	OnFilled func()
}

// Matrix stores one result per (predictor, benchmark) pair. Predictors and
// benchmarks are indexed in registration order.
type Matrix struct {
	mu sync.Mutex
	// notifyMu keeps notifications in slot write order
	notifyMu sync.Mutex

	predictorIndex map[string]int
	predictors     []predictor.Config
	collections    []*Collection

	benchmarkIndex map[trace.Benchmark]int
	benchmarks     []trace.Benchmark

	slots         [][]*simulation.Stats
	generation    uint64
	initialized   bool
	valuesEntered int
	filled        bool

	dispatch DispatchFunc
	observer Observer
}

func NewMatrix(dispatch DispatchFunc, observer Observer) *Matrix {
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}
	m := &Matrix{
		dispatch: dispatch,
		observer: observer,
	}
	m.reset()
	return m
}

func (m *Matrix) reset() {
	m.predictorIndex = make(map[string]int)
	m.predictors = nil
	m.collections = nil
	m.benchmarkIndex = make(map[trace.Benchmark]int)
	m.benchmarks = nil
	m.slots = nil
	m.generation++
	m.initialized = false
	m.valuesEntered = 0
	m.filled = false
}

// AddPredictor registers cfg and returns its (empty) collection.
func (m *Matrix) AddPredictor(cfg predictor.Config) (*Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil, ErrInitialized
	}
	key := cfg.Key()
	if _, exists := m.predictorIndex[key]; exists {
		return nil, fmt.Errorf("%w: predictor %s", ErrDuplicateKey, cfg)
	}
	c := newCollection(cfg)
	m.predictorIndex[key] = len(m.predictors)
	m.predictors = append(m.predictors, cfg)
	m.collections = append(m.collections, c)
	return c, nil
}

func (m *Matrix) AddBenchmark(b trace.Benchmark) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return ErrInitialized
	}
	if _, exists := m.benchmarkIndex[b]; exists {
		return fmt.Errorf("%w: benchmark %s", ErrDuplicateKey, b)
	}
	m.benchmarkIndex[b] = len(m.benchmarks)
	m.benchmarks = append(m.benchmarks, b)
	return nil
}

// Initialize allocates the slots for the registered keys. It fails once the
// matrix is initialized; Clear starts over.
func (m *Matrix) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return ErrInitialized
	}
	m.slots = make([][]*simulation.Stats, len(m.predictors))
	for i := range m.slots {
		m.slots[i] = make([]*simulation.Stats, len(m.benchmarks))
	}
	m.initialized = true
	return nil
}

// Generation identifies the current key set. Every Clear starts a new one.
func (m *Matrix) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// SetResult writes the slot of (cfg, b). A slot is written at most once.
// Notifications are dispatched after the matrix lock is released and must
// not call SetResult.
func (m *Matrix) SetResult(cfg predictor.Config, b trace.Benchmark, stats simulation.Stats) error {
	return m.setResult(0, false, cfg, b, stats)
}

// SetResultIn is SetResult for a writer that read generation earlier. The
// write fails with ErrStaleGeneration if the matrix was cleared since.
func (m *Matrix) SetResultIn(generation uint64, cfg predictor.Config, b trace.Benchmark, stats simulation.Stats) error {
	return m.setResult(generation, true, cfg, b, stats)
}

func (m *Matrix) setResult(generation uint64, checkGeneration bool, cfg predictor.Config, b trace.Benchmark, stats simulation.Stats) error {
	m.mu.Lock()

	if checkGeneration && generation != m.generation {
		m.mu.Unlock()
		return fmt.Errorf("%w %d", ErrStaleGeneration, generation)
	}
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	pi, bi, err := m.indexLocked(cfg, b)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if m.slots[pi][bi] != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrAlreadySet, cfg, b)
	}

	stored := stats
	m.slots[pi][bi] = &stored
	m.valuesEntered++

	collection := m.collections[pi]
	collection.add(stats)

	update := Update{
		PredictorIndex: pi,
		BenchmarkIndex: bi,
		Predictor:      m.predictors[pi],
		Stats:          stats,
		Means:          collection.Means(),
		Collection:     collection,
		ValuesEntered:  m.valuesEntered,
		Capacity:       len(m.predictors) * len(m.benchmarks),
	}

	fireFilled := false
	if !m.filled && m.valuesEntered == update.Capacity {
		m.filled = true
		fireFilled = true
	}
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Unlock()

	m.dispatch(func() {
		if m.observer.OnValue != nil {
			m.observer.OnValue(update)
		}
		if fireFilled && m.observer.OnFilled != nil {
			m.observer.OnFilled()
		}
	})
	return nil
}

// GetResult returns the slot of (cfg, b); ok is false while it is empty.
func (m *Matrix) GetResult(cfg predictor.Config, b trace.Benchmark) (stats simulation.Stats, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return simulation.Stats{}, false, ErrNotInitialized
	}
	pi, bi, err := m.indexLocked(cfg, b)
	if err != nil {
		return simulation.Stats{}, false, err
	}
	if s := m.slots[pi][bi]; s != nil {
		return *s, true, nil
	}
	return simulation.Stats{}, false, nil
}

// ResultAt returns the slot at the given indexes.
func (m *Matrix) ResultAt(predictorIndex, benchmarkIndex int) (simulation.Stats, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return simulation.Stats{}, false, ErrNotInitialized
	}
	if predictorIndex < 0 || predictorIndex >= len(m.predictors) ||
		benchmarkIndex < 0 || benchmarkIndex >= len(m.benchmarks) {
		return simulation.Stats{}, false, fmt.Errorf("%w: index (%d, %d)", ErrInvalidKey, predictorIndex, benchmarkIndex)
	}
	if s := m.slots[predictorIndex][benchmarkIndex]; s != nil {
		return *s, true, nil
	}
	return simulation.Stats{}, false, nil
}

func (m *Matrix) indexLocked(cfg predictor.Config, b trace.Benchmark) (int, int, error) {
	pi, ok := m.predictorIndex[cfg.Key()]
	if !ok {
		return 0, 0, fmt.Errorf("%w: predictor %s", ErrInvalidKey, cfg)
	}
	bi, ok := m.benchmarkIndex[b]
	if !ok {
		return 0, 0, fmt.Errorf("%w: benchmark %s", ErrInvalidKey, b)
	}
	return pi, bi, nil
}

func (m *Matrix) ValuesEntered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valuesEntered
}

// Capacity is the number of slots.
func (m *Matrix) Capacity() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.predictors) * len(m.benchmarks)
}

func (m *Matrix) IsFull() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized && m.valuesEntered == len(m.predictors)*len(m.benchmarks)
}

func (m *Matrix) Predictors() []predictor.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]predictor.Config(nil), m.predictors...)
}

func (m *Matrix) Benchmarks() []trace.Benchmark {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]trace.Benchmark(nil), m.benchmarks...)
}

// Collection returns the collection of a registered predictor.
func (m *Matrix) Collection(cfg predictor.Config) (*Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pi, ok := m.predictorIndex[cfg.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: predictor %s", ErrInvalidKey, cfg)
	}
	return m.collections[pi], nil
}

// Clear drops all keys and slots so the matrix can be reused for a new run.
func (m *Matrix) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.collections {
		c.clear()
	}
	m.reset()
}
