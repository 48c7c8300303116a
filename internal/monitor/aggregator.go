package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Aggregator polls a set of monitors and keeps the latest Snapshot.
type Aggregator struct {
	monitors []Monitor
	state    Snapshot
	interval time.Duration
	mu       sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

func NewAggregator(monitors []Monitor, interval time.Duration, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		monitors: monitors,
		interval: interval,
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Default returns an aggregator over the CPU, memory, load and trace volume
// monitors.
func Default(tracesPath string, interval time.Duration, logger *slog.Logger) *Aggregator {
	return NewAggregator([]Monitor{
		NewCPUMonitor(),
		NewMemoryMonitor(),
		NewLoadMonitor(),
		NewTracesMonitor(tracesPath),
	}, interval, logger)
}

func (a *Aggregator) Start(ctx context.Context) error {
	a.collect()

	go a.runLoop(ctx)

	a.logger.Info("aggregator started", "interval", a.interval, "monitors", len(a.monitors))
	return nil
}

func (a *Aggregator) Stop() error {
	a.stopOnce.Do(func() {
		close(a.done)
		a.logger.Info("aggregator stopped")
	})
	return nil
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Aggregator) SnapshotJSON() ([]byte, error) {
	return json.Marshal(a.Snapshot())
}

func (a *Aggregator) runLoop(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.collect()
		case <-ctx.Done():
			return
		case <-a.done:
			return
		}
	}
}

func (a *Aggregator) collect() {
	next := Snapshot{Timestamp: time.Now()}

	for _, m := range a.monitors {
		data, err := m.Collect()
		if err != nil {
			a.logger.Warn("monitor collection failed",
				"monitor", m.Name(),
				"error", err,
			)
			continue
		}

		switch state := data.(type) {
		case *CPUState:
			next.CPU = *state
		case *MemoryState:
			next.Memory = *state
		case *LoadState:
			next.Load = *state
		case *DiskState:
			next.Traces = *state
		default:
			a.logger.Warn("unexpected monitor data", "monitor", m.Name(), "type", fmt.Sprintf("%T", data))
		}
	}

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()
}
