package models

import "time"

// ActionLog records one lifecycle call made to the VM-control executable.
type ActionLog struct {
	ID           int64     `json:"id"`
	ActionType   string    `json:"action_type"`   // launch, stop
	ResourceType string    `json:"resource_type"` // vm
	ResourceID   string    `json:"resource_id"`
	Success      bool      `json:"success"`
	ExitCode     int       `json:"exit_code"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// LogBundle is the merged log view of a single VM. Every field is sanitized
// before it is populated.
type LogBundle struct {
	CreationLog    string `json:"creation_log,omitempty"`
	CreationErrors string `json:"creation_errors,omitempty"`
	DeletionLog    string `json:"deletion_log,omitempty"`
	DeletionErrors string `json:"deletion_errors,omitempty"`
	StartupLog     string `json:"startup_log,omitempty"`
	FirecrackerLog string `json:"firecracker_log,omitempty"`
	ConsoleLog     string `json:"console_log,omitempty"`
	VMLog          string `json:"vm_log,omitempty"`

	CreatedAt   *time.Time `json:"created_at,omitempty"`
	CollectedAt time.Time  `json:"collected_at"`
}

// LogCategory names a LogBundle field filled from collected sources.
type LogCategory string

const (
	LogCategoryStartup     LogCategory = "startup_log"
	LogCategoryFirecracker LogCategory = "firecracker_log"
	LogCategoryConsole     LogCategory = "console_log"
	LogCategoryVM          LogCategory = "vm_log"
)

// Set stores text under category, overwriting the previous value.
func (b *LogBundle) Set(category LogCategory, text string) {
	switch category {
	case LogCategoryStartup:
		b.StartupLog = text
	case LogCategoryFirecracker:
		b.FirecrackerLog = text
	case LogCategoryConsole:
		b.ConsoleLog = text
	default:
		b.VMLog = text
	}
}

// Get returns the text stored under category.
func (b *LogBundle) Get(category LogCategory) string {
	switch category {
	case LogCategoryStartup:
		return b.StartupLog
	case LogCategoryFirecracker:
		return b.FirecrackerLog
	case LogCategoryConsole:
		return b.ConsoleLog
	default:
		return b.VMLog
	}
}

// StoredLogs holds the executor output captured during creation and
// deletion of a VM.
type StoredLogs struct {
	CreationLog    string
	CreationErrors string
	DeletionLog    string
	DeletionErrors string
	CreatedAt      *time.Time
}
