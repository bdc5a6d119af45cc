package models

import (
	"time"
)

// ServiceState represents the lifecycle state of a supervised service
type ServiceState string

// StateTransition tracks service state changes with timestamps
type StateTransition struct {
	From      ServiceState `json:"from"`
	To        ServiceState `json:"to"`
	Timestamp time.Time    `json:"timestamp"`
	Reason    string       `json:"reason,omitempty"`
}

// ProbeResult is the outcome of a single health probe
type ProbeResult struct {
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// ServiceStatus is the admin API view of a supervised service
type ServiceStatus struct {
	Name                string            `json:"name"`
	State               ServiceState      `json:"state"`
	PID                 int               `json:"pid,omitempty"`
	StartedAt           *time.Time        `json:"started_at,omitempty"`
	UptimeSeconds       int64             `json:"uptime_seconds,omitempty"`
	Restarts            int               `json:"restarts"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	ProbesTotal         int64             `json:"probes_total"`
	ProbeFailuresTotal  int64             `json:"probe_failures_total"`
	LastProbe           *ProbeResult      `json:"last_probe,omitempty"`
	LastExitCode        *int              `json:"last_exit_code,omitempty"`
	MemoryRSSBytes      uint64            `json:"memory_rss_bytes,omitempty"`
	MemoryLimitBytes    int64             `json:"memory_limit_bytes,omitempty"`
	Transitions         []StateTransition `json:"state_transitions,omitempty"`
}
