package monitor

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
)

type CPUMonitor struct{}

func NewCPUMonitor() *CPUMonitor {
	return &CPUMonitor{}
}

func (m *CPUMonitor) Name() string {
	return "cpu"
}

func (m *CPUMonitor) Collect() (any, error) {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return nil, err
	}

	var overall float64
	if len(percentages) > 0 {
		overall = percentages[0]
	}

	return &CPUState{
		UsagePercent: overall,
		LogicalCores: Parallelism(),
	}, nil
}

// Parallelism returns the number of logical cores, the default size of the
// local and server worker pools. It falls back to the Go runtime's view when
// the host cannot be queried.
func Parallelism() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}
