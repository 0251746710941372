// Package event defines pending work items and the subscriptions that bind
// them to personas.
package event

import "time"

// Status represents the lifecycle state of an event. Transitions are
// monotonic: pending -> processing -> one terminal status, never backwards.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Event is a pending piece of work. Created pending; mutated only by the
// event processor; never destroyed by the core.
type Event struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	EventType       string     `json:"event_type"`
	SourceType      string     `json:"source_type"`
	SourceID        string     `json:"source_id,omitempty"`
	TargetPersonaID string     `json:"target_persona_id,omitempty"`
	Payload         string     `json:"payload,omitempty"`
	Status          Status     `json:"status"`
	UseCaseID       string     `json:"use_case_id,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// CreateRequest holds the fields needed to publish a new pending event.
type CreateRequest struct {
	ProjectID       string `json:"project_id"`
	EventType       string `json:"event_type"`
	SourceType      string `json:"source_type"`
	SourceID        string `json:"source_id,omitempty"`
	TargetPersonaID string `json:"target_persona_id,omitempty"`
	Payload         string `json:"payload,omitempty"`
	UseCaseID       string `json:"use_case_id,omitempty"`
}

// Subscription is a declarative binding from an event type (optionally
// filtered by source) to a persona. Pure configuration; the core only reads.
type Subscription struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	PersonaID    string    `json:"persona_id"`
	EventType    string    `json:"event_type"`
	SourceFilter string    `json:"source_filter,omitempty"` // exact match, or trailing-* prefix
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubscriptionRequest holds the fields needed to create a subscription.
type SubscriptionRequest struct {
	ProjectID    string `json:"project_id"`
	PersonaID    string `json:"persona_id"`
	EventType    string `json:"event_type"`
	SourceFilter string `json:"source_filter,omitempty"`
	Enabled      *bool  `json:"enabled,omitempty"`
}
