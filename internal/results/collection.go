package results

import (
	"math"
	"sync"

	"github.com/haskel/branchsim/internal/predictor"
	"github.com/haskel/branchsim/internal/simulation"
)

// Means summarizes the accuracies of a collection. Only entries with a
// positive accuracy take part; failed and empty runs are excluded.
type Means struct {
	Arithmetic float64 `json:"arithmetic"`
	Geometric  float64 `json:"geometric"`
	Harmonic   float64 `json:"harmonic"`
	Count      int     `json:"count"`
}

// ComputeMeans returns the three means over accuracies > 0. All means are
// zero when no entry qualifies.
func ComputeMeans(accuracies []float64) Means {
	var (
		n          int
		sum        float64
		logSum     float64
		inverseSum float64
	)
	for _, a := range accuracies {
		if !(a > 0) {
			continue
		}
		n++
		sum += a
		logSum += math.Log(a)
		inverseSum += 1 / a
	}
	if n == 0 {
		return Means{}
	}
	return Means{
		Arithmetic: sum / float64(n),
		Geometric:  math.Exp(logSum / float64(n)),
		Harmonic:   float64(n) / inverseSum,
		Count:      n,
	}
}

// Collection holds the results of one predictor, kept sorted by benchmark
// name, and the means over them.
type Collection struct {
	predictor predictor.Config

	mu      sync.RWMutex
	entries []simulation.Stats
	means   Means
}

func newCollection(cfg predictor.Config) *Collection {
	return &Collection{predictor: cfg}
}

func (c *Collection) Predictor() predictor.Config {
	return c.predictor
}

// add inserts s before the first entry with a strictly greater benchmark
// name and recomputes the means.
func (c *Collection) add(s simulation.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := len(c.entries)
	for i, e := range c.entries {
		if e.Benchmark.Name > s.Benchmark.Name {
			pos = i
			break
		}
	}
	c.entries = append(c.entries, simulation.Stats{})
	copy(c.entries[pos+1:], c.entries[pos:])
	c.entries[pos] = s

	accuracies := make([]float64, len(c.entries))
	for i, e := range c.entries {
		accuracies[i] = e.Accuracy
	}
	c.means = ComputeMeans(accuracies)
}

func (c *Collection) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.means = Means{}
}

// Entries returns a copy of the sorted entries.
func (c *Collection) Entries() []simulation.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]simulation.Stats, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Collection) Means() Means {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.means
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
