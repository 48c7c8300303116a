package monitor

import "time"

// Monitor is one source of host readings for the node status page.
type Monitor interface {
	Name() string
	Collect() (any, error)
}

type CPUState struct {
	UsagePercent float64 `json:"usage_percent"`
	LogicalCores int     `json:"logical_cores"`
}

type MemoryState struct {
	AvailableBytes uint64  `json:"available_bytes"`
	TotalBytes     uint64  `json:"total_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

type LoadState struct {
	Load1        float64 `json:"load1"`
	Load5        float64 `json:"load5"`
	Load15       float64 `json:"load15"`
	ProcsRunning int     `json:"procs_running"`
}

// DiskState describes the volume holding the trace files.
type DiskState struct {
	Path         string  `json:"path"`
	FreeBytes    uint64  `json:"free_bytes"`
	TotalBytes   uint64  `json:"total_bytes"`
	UsagePercent float64 `json:"usage_percent"`
}

// Snapshot is the latest set of host readings. It holds no references and
// is safe to copy.
type Snapshot struct {
	CPU       CPUState    `json:"cpu"`
	Memory    MemoryState `json:"memory"`
	Load      LoadState   `json:"load"`
	Traces    DiskState   `json:"traces"`
	Timestamp time.Time   `json:"timestamp"`
}
