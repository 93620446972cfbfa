package journal

import "time"

// RunStatus is the lifecycle state of a journaled run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one reconciliation run.
type Run struct {
	ID          string     `json:"id"`
	Environment string     `json:"environment"`
	DryRun      bool       `json:"dry_run"`
	Status      RunStatus  `json:"status"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Entry is one recorded operation result.
type Entry struct {
	ID           string        `json:"id"`
	RunID        string        `json:"run_id"`
	ResourceType string        `json:"resource_type"`
	ResourceName string        `json:"resource_name"`
	Operation    string        `json:"operation"`
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	Error        *string       `json:"error,omitempty"`
	Changes      *string       `json:"changes,omitempty"` // JSON change set
	Duration     time.Duration `json:"duration"`
	RecordedAt   time.Time     `json:"recorded_at"`
}
