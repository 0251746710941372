// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/calyptra/maestro/internal/domain/credential"
	"github.com/calyptra/maestro/internal/domain/event"
	"github.com/calyptra/maestro/internal/domain/execution"
	"github.com/calyptra/maestro/internal/domain/persona"
	"github.com/calyptra/maestro/internal/domain/trigger"
)

// Store is the port interface for database operations.
type Store interface {
	// Personas
	ListPersonas(ctx context.Context, projectID string) ([]persona.Persona, error)
	GetPersona(ctx context.Context, id string) (*persona.Persona, error)
	CreatePersona(ctx context.Context, req persona.CreateRequest) (*persona.Persona, error)
	UpdatePersona(ctx context.Context, p *persona.Persona) error
	DeletePersona(ctx context.Context, id string) error

	// Tools
	ListTools(ctx context.Context, projectID string) ([]persona.ToolDefinition, error)
	GetTool(ctx context.Context, id string) (*persona.ToolDefinition, error)
	CreateTool(ctx context.Context, t *persona.ToolDefinition) (*persona.ToolDefinition, error)
	DeleteTool(ctx context.Context, id string) error
	ListPersonaTools(ctx context.Context, personaID string) ([]persona.ToolDefinition, error)
	BindTool(ctx context.Context, personaID, toolID string) error
	UnbindTool(ctx context.Context, personaID, toolID string) error

	// Credentials (secret material is write-only through this interface)
	ListPersonaCredentials(ctx context.Context, personaID string) ([]credential.Credential, error)
	CreateCredential(ctx context.Context, c *credential.Credential) (*credential.Credential, error)
	DeleteCredential(ctx context.Context, id string) error

	// Events
	CreateEvent(ctx context.Context, req event.CreateRequest) (*event.Event, error)
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	ListPendingEvents(ctx context.Context, limit int) ([]event.Event, error)
	// MarkEventProcessing transitions a pending event to processing and
	// reports whether this call won the transition.
	MarkEventProcessing(ctx context.Context, id string) (bool, error)
	FinishEvent(ctx context.Context, id string, status event.Status, errorMessage string) error

	// Subscriptions
	ListSubscriptions(ctx context.Context, projectID, eventType string) ([]event.Subscription, error)
	CreateSubscription(ctx context.Context, req event.SubscriptionRequest) (*event.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Triggers
	ListTriggers(ctx context.Context, projectID string) ([]trigger.Trigger, error)
	CreateTrigger(ctx context.Context, req trigger.CreateRequest) (*trigger.Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error
	ListDueTriggers(ctx context.Context, now time.Time) ([]trigger.Trigger, error)
	UpdateTriggerTimings(ctx context.Context, id string, lastTriggeredAt, nextTriggerAt time.Time) error

	// Executions
	CreateExecution(ctx context.Context, rec *execution.Record) error
	GetExecution(ctx context.Context, id string) (*execution.Record, error)
	UpdateExecutionStatus(ctx context.Context, id string, status execution.Status, startedAt *time.Time) error
	FinishExecution(ctx context.Context, rec *execution.Record) error
	AppendExecutionOutput(ctx context.Context, id, chunk string) error
	CountRunningExecutions(ctx context.Context, personaID string) (int, error)
}
