// Package execution defines execution requests and their persisted records.
package execution

import "time"

// Status represents the lifecycle state of an execution.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Request is a submission to the dispatcher. ExecutionID is minted by the
// caller so the submitter can observe the execution before it is dispatched.
type Request struct {
	ExecutionID string `json:"execution_id"`
	ProjectID   string `json:"project_id"`
	PersonaID   string `json:"persona_id,omitempty"`
	Prompt      string `json:"prompt"`
	InputData   string `json:"input_data,omitempty"` // JSON, passed through to prompt assembly
	TimeoutMs   int64  `json:"timeout_ms,omitempty"`
	UseCaseID   string `json:"use_case_id,omitempty"`
}

// Record is the persisted lifecycle state of one execution.
type Record struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	PersonaID    string     `json:"persona_id,omitempty"`
	Status       Status     `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   int64      `json:"duration_ms,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	CostUSD      float64    `json:"cost_usd,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Output       []string   `json:"output,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// MapWorkerStatus converts a worker-reported completion status into a record
// status. Anything unrecognized counts as failed.
func MapWorkerStatus(s string) Status {
	switch s {
	case "completed":
		return StatusCompleted
	case "cancelled":
		return StatusCancelled
	default:
		return StatusFailed
	}
}
