package monitor

import (
	"github.com/shirou/gopsutil/v4/mem"
)

type MemoryMonitor struct{}

func NewMemoryMonitor() *MemoryMonitor {
	return &MemoryMonitor{}
}

func (m *MemoryMonitor) Name() string {
	return "memory"
}

func (m *MemoryMonitor) Collect() (any, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	return &MemoryState{
		AvailableBytes: v.Available,
		TotalBytes:     v.Total,
		UsagePercent:   v.UsedPercent,
	}, nil
}

// AvailableMemory returns the bytes the host can hand out without swapping.
func AvailableMemory() (uint64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.Available, nil
}

// TableBudget caps limit by the memory currently available. A zero limit
// means no configured cap. If the host cannot be queried limit is returned
// unchanged.
func TableBudget(limit uint64) uint64 {
	available, err := AvailableMemory()
	if err != nil || available == 0 {
		return limit
	}
	return capBudget(limit, available)
}

func capBudget(limit, available uint64) uint64 {
	if limit == 0 || available < limit {
		return available
	}
	return limit
}
