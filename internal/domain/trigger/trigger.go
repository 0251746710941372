// Package trigger defines time-based event sources and their schedules.
package trigger

import "time"

// Type classifies how a trigger fires.
type Type string

const (
	TypeManual   Type = "manual"
	TypeSchedule Type = "schedule"
	TypePolling  Type = "polling" // reserved for a separate mechanism; the scheduler skips these
	TypeWebhook  Type = "webhook"
	TypeChain    Type = "chain"
)

// Trigger periodically produces new events for a persona. The scheduler reads
// due rows (enabled and NextTriggerAt <= now) and advances the timing fields.
type Trigger struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	PersonaID       string     `json:"persona_id"`
	TriggerType     Type       `json:"trigger_type"`
	Config          string     `json:"config"` // opaque JSON
	Enabled         bool       `json:"enabled"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	NextTriggerAt   *time.Time `json:"next_trigger_at,omitempty"`
	UseCaseID       string     `json:"use_case_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CreateRequest holds the fields needed to create a trigger.
type CreateRequest struct {
	ProjectID   string `json:"project_id"`
	PersonaID   string `json:"persona_id"`
	TriggerType Type   `json:"trigger_type"`
	Config      string `json:"config,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
	UseCaseID   string `json:"use_case_id,omitempty"`
}
