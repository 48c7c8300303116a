package monitor

import (
	"github.com/shirou/gopsutil/v4/load"
)

// LoadMonitor reports the system load averages, a rough signal of how
// contended the simulation workers are.
type LoadMonitor struct{}

func NewLoadMonitor() *LoadMonitor {
	return &LoadMonitor{}
}

func (m *LoadMonitor) Name() string {
	return "load"
}

func (m *LoadMonitor) Collect() (any, error) {
	avg, err := load.Avg()
	if err != nil {
		return nil, err
	}

	state := &LoadState{
		Load1:  avg.Load1,
		Load5:  avg.Load5,
		Load15: avg.Load15,
	}
	// not every platform reports process counts
	if misc, err := load.Misc(); err == nil {
		state.ProcsRunning = misc.ProcsRunning
	}
	return state, nil
}
