package models

import "time"

// Counters are the monotonic lifecycle counters plus the derived number of
// VMs that are not deleted.
type Counters struct {
	TotalCreated    int `json:"total_vms_created"`
	TotalDeleted    int `json:"total_vms_deleted"`
	FailedCreations int `json:"failed_creations"`
	Current         int `json:"current_vms"`
}

// MetricsSnapshot is the daemon-wide metrics view.
type MetricsSnapshot struct {
	Counters
	StartedAt     time.Time            `json:"started_at"`
	UptimeSeconds float64              `json:"uptime_seconds"`
	Timestamp     time.Time            `json:"timestamp"`
	VMMetrics     map[string]VMMetrics `json:"vm_metrics,omitempty"`
}

// VMMetrics is the per-VM metrics view. CPUUsage and MemoryUsage are percent
// values summed over every matching host process.
type VMMetrics struct {
	Status       VMStatus `json:"status"`
	CPUUsage     float64  `json:"cpu_usage"`
	MemoryUsage  float64  `json:"memory_usage"`
	Uptime       float64  `json:"uptime"`
	ProcessCount int      `json:"process_count"`
}
