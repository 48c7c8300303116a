package predictor

import (
	"fmt"
	"sync"
)

type poolEntry struct {
	instance Predictor
	inUse    bool
}

// Pool lends out predictor instances of one configuration. An instance is
// never handed to two callers at the same time; instances are created on
// demand and kept for reuse until the pool is dropped.
type Pool struct {
	config Config
	budget int64

	mu      sync.Mutex
	entries []*poolEntry
}

func NewPool(cfg Config, budget int64) *Pool {
	return &Pool{config: cfg, budget: budget}
}

func (p *Pool) Config() Config {
	return p.config
}

// Checkout returns a free instance, constructing a new one when all are busy.
// The instance is reset before it is returned.
func (p *Pool) Checkout() (Predictor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if !e.inUse {
			e.inUse = true
			e.instance.Reset()
			return e.instance, nil
		}
	}

	instance, err := New(p.config, p.budget)
	if err != nil {
		return nil, err
	}
	p.entries = append(p.entries, &poolEntry{instance: instance, inUse: true})
	instance.Reset()
	return instance, nil
}

// Release returns an instance obtained from Checkout.
func (p *Pool) Release(instance Predictor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if e.instance == instance {
			if !e.inUse {
				return fmt.Errorf("%w: %s released twice", ErrInvariantViolation, p.config)
			}
			e.inUse = false
			return nil
		}
	}
	return fmt.Errorf("%w: instance not owned by pool %s", ErrInvariantViolation, p.config)
}

// Size returns the number of instances and how many are checked out.
func (p *Pool) Size() (total, busy int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if e.inUse {
			busy++
		}
	}
	return len(p.entries), busy
}

// Pools maps configurations to their pools.
type Pools struct {
	budget int64

	mu    sync.Mutex
	pools map[string]*Pool
}

// NewPools creates a registry. budget caps the table size of each instance
// in bytes; zero disables the check.
func NewPools(budget int64) *Pools {
	return &Pools{
		budget: budget,
		pools:  make(map[string]*Pool),
	}
}

func (p *Pools) Get(cfg Config) *Pool {
	key := cfg.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	pool, ok := p.pools[key]
	if !ok {
		pool = NewPool(cfg, p.budget)
		p.pools[key] = pool
	}
	return pool
}

func (p *Pools) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pools)
}
