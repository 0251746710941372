package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	maestrootel "github.com/calyptra/maestro/internal/adapter/otel"
	"github.com/calyptra/maestro/internal/config"
	"github.com/calyptra/maestro/internal/domain/event"
	"github.com/calyptra/maestro/internal/domain/execution"
	"github.com/calyptra/maestro/internal/domain/persona"
	"github.com/calyptra/maestro/internal/domain/prompt"
	"github.com/calyptra/maestro/internal/port/cache"
	"github.com/calyptra/maestro/internal/port/database"
)

// eventBatchSize caps how many pending events one tick drains.
const eventBatchSize = 50

// Submitter is the event processor's view of the dispatcher.
type Submitter interface {
	Submit(ctx context.Context, req execution.Request) (string, error)
}

// EventProcessor periodically drains pending events, matches subscriptions,
// enforces per-persona concurrency, and submits executions.
type EventProcessor struct {
	store    database.Store
	disp     Submitter
	cache    cache.Cache
	metrics  *maestrootel.Metrics
	interval time.Duration
}

// NewEventProcessor creates an EventProcessor. cache and metrics may be nil.
func NewEventProcessor(store database.Store, disp Submitter, c cache.Cache, metrics *maestrootel.Metrics, ticks config.Ticks) *EventProcessor {
	return &EventProcessor{
		store:    store,
		disp:     disp,
		cache:    c,
		metrics:  metrics,
		interval: ticks.Event,
	}
}

// Run executes the tick loop until ctx is cancelled. Tick errors are logged
// and never stop the loop.
func (e *EventProcessor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				slog.Error("event tick failed", "error", err)
			}
		}
	}
}

// Tick drains one batch of pending events.
func (e *EventProcessor) Tick(ctx context.Context) error {
	events, err := e.store.ListPendingEvents(ctx, eventBatchSize)
	if err != nil {
		return err
	}

	for i := range events {
		e.processEvent(ctx, &events[i])
	}
	return nil
}

// processEvent matches one event against its subscriptions and submits an
// execution per surviving match. The pending->processing transition is the
// guard against double processing.
func (e *EventProcessor) processEvent(ctx context.Context, ev *event.Event) {
	won, err := e.store.MarkEventProcessing(ctx, ev.ID)
	if err != nil {
		slog.Error("mark event processing failed", "event_id", ev.ID, "error", err)
		return
	}
	if !won {
		return
	}

	if e.metrics != nil {
		e.metrics.EventsProcessed.Add(ctx, 1)
	}

	// Events in the default project match subscriptions across projects.
	projectFilter := ev.ProjectID
	if projectFilter == "default" {
		projectFilter = ""
	}

	subs, err := e.store.ListSubscriptions(ctx, projectFilter, ev.EventType)
	if err != nil {
		slog.Error("list subscriptions failed", "event_id", ev.ID, "error", err)
		e.finish(ctx, ev.ID, event.StatusFailed, "subscription lookup failed")
		return
	}

	matches := event.MatchSubscriptions(*ev, subs)
	if len(matches) == 0 {
		e.finish(ctx, ev.ID, event.StatusSkipped, "")
		return
	}

	delivered, failed := 0, 0
	for _, m := range matches {
		if e.submitMatch(ctx, ev, m) {
			delivered++
		} else {
			failed++
		}
	}

	switch {
	case failed == 0:
		e.finish(ctx, ev.ID, event.StatusDelivered, "")
	case delivered > 0:
		e.finish(ctx, ev.ID, event.StatusPartial, "")
	default:
		e.finish(ctx, ev.ID, event.StatusFailed, "All subscription matches failed")
	}
}

// submitMatch submits one execution for a matched subscription. Returns false
// when the persona is missing, at its concurrency limit, or the submit fails.
func (e *EventProcessor) submitMatch(ctx context.Context, ev *event.Event, m event.Match) bool {
	p := e.personaByID(ctx, m.Subscription.PersonaID)
	if p == nil {
		slog.Warn("subscription references missing persona",
			"subscription_id", m.Subscription.ID, "persona_id", m.Subscription.PersonaID)
		return false
	}

	running, err := e.store.CountRunningExecutions(ctx, p.ID)
	if err != nil {
		slog.Error("count running executions failed", "persona_id", p.ID, "error", err)
		return false
	}
	if running >= p.MaxConcurrent {
		slog.Info("persona at max concurrency, skipping match",
			"persona_id", p.ID, "running", running, "max_concurrent", p.MaxConcurrent)
		return false
	}

	inputData := ev.Payload
	if inputData != "" && !json.Valid([]byte(inputData)) {
		wrapped, err := json.Marshal(map[string]string{"raw": ev.Payload})
		if err == nil {
			inputData = string(wrapped)
		}
	}

	tools, err := e.store.ListPersonaTools(ctx, p.ID)
	if err != nil {
		slog.Warn("list persona tools failed", "persona_id", p.ID, "error", err)
	}
	assembled := prompt.Assemble(p, tools, inputData, nil)

	_, err = e.disp.Submit(ctx, execution.Request{
		ExecutionID: uuid.NewString(),
		ProjectID:   ev.ProjectID,
		PersonaID:   p.ID,
		Prompt:      assembled,
		InputData:   inputData,
		TimeoutMs:   p.TimeoutMs,
		UseCaseID:   ev.UseCaseID,
	})
	if err != nil {
		slog.Error("submit for event match failed", "event_id", ev.ID, "persona_id", p.ID, "error", err)
		return false
	}
	return true
}

// personaByID reads a persona through the in-process cache.
func (e *EventProcessor) personaByID(ctx context.Context, id string) *persona.Persona {
	key := "persona:" + id

	if e.cache != nil {
		if data, ok, _ := e.cache.Get(ctx, key); ok {
			var p persona.Persona
			if err := json.Unmarshal(data, &p); err == nil {
				return &p
			}
		}
	}

	p, err := e.store.GetPersona(ctx, id)
	if err != nil {
		return nil
	}

	if e.cache != nil {
		// TTL 0 defers to the cache's configured default.
		if data, err := json.Marshal(p); err == nil {
			_ = e.cache.Set(ctx, key, data, 0)
		}
	}
	return p
}

func (e *EventProcessor) finish(ctx context.Context, eventID string, status event.Status, msg string) {
	if err := e.store.FinishEvent(ctx, eventID, status, msg); err != nil {
		slog.Error("finish event failed", "event_id", eventID, "status", status, "error", err)
	}
}
