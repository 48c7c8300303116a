package monitor

import (
	"github.com/shirou/gopsutil/v4/disk"
)

// TracesMonitor reports usage of the volume holding the trace directory.
type TracesMonitor struct {
	path string
}

func NewTracesMonitor(path string) *TracesMonitor {
	if path == "" {
		path = "."
	}
	return &TracesMonitor{path: path}
}

func (m *TracesMonitor) Name() string {
	return "traces"
}

func (m *TracesMonitor) Collect() (any, error) {
	usage, err := disk.Usage(m.path)
	if err != nil {
		return nil, err
	}

	return &DiskState{
		Path:         m.path,
		FreeBytes:    usage.Free,
		TotalBytes:   usage.Total,
		UsagePercent: usage.UsedPercent,
	}, nil
}
