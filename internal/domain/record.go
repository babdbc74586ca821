package domain

import "time"

// CommandRecord is one entry in the bounded execution history.
type CommandRecord struct {
	ID          string    `json:"id"`
	Command     string    `json:"command"`
	Timestamp   time.Time `json:"timestamp"`
	User        string    `json:"user"`
	Blocked     bool      `json:"blocked"`
	Reason      string    `json:"reason,omitempty"`
	ExecutionMS int64     `json:"execution_time_ms"`
}

// SystemStats are the observed counters kept alongside the resource ceilings.
// Memory and CPU figures are advisory: they are not measured from the OS.
type SystemStats struct {
	TotalCommandsExecuted uint64    `json:"total_commands_executed"`
	TotalCommandsBlocked  uint64    `json:"total_commands_blocked"`
	ActiveCommands        int       `json:"active_commands"`
	MemoryUsageMB         uint64    `json:"memory_usage_mb"`
	CPUUsagePercent       float64   `json:"cpu_usage_percent"`
	LastUpdated           time.Time `json:"last_updated"`
}
