package service

import (
	"context"
	"log/slog"
	"time"

	maestrootel "github.com/calyptra/maestro/internal/adapter/otel"
	"github.com/calyptra/maestro/internal/config"
	"github.com/calyptra/maestro/internal/domain/event"
	"github.com/calyptra/maestro/internal/domain/trigger"
	"github.com/calyptra/maestro/internal/port/database"
)

// TriggerScheduler periodically evaluates due time-based triggers and
// publishes events for the event processor to pick up.
type TriggerScheduler struct {
	store    database.Store
	metrics  *maestrootel.Metrics
	interval time.Duration
}

// NewTriggerScheduler creates a TriggerScheduler. metrics may be nil.
func NewTriggerScheduler(store database.Store, metrics *maestrootel.Metrics, ticks config.Ticks) *TriggerScheduler {
	return &TriggerScheduler{
		store:    store,
		metrics:  metrics,
		interval: ticks.Trigger,
	}
}

// Run executes the tick loop until ctx is cancelled. Tick errors are logged
// and never stop the loop.
func (s *TriggerScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				slog.Error("trigger tick failed", "error", err)
			}
		}
	}
}

// Tick fires every due trigger once. Per-trigger failures are isolated.
func (s *TriggerScheduler) Tick(ctx context.Context) error {
	now := time.Now()

	due, err := s.store.ListDueTriggers(ctx, now)
	if err != nil {
		return err
	}

	for i := range due {
		s.fire(ctx, &due[i], now)
	}
	return nil
}

// fire publishes the trigger's event and advances its timing fields.
func (s *TriggerScheduler) fire(ctx context.Context, t *trigger.Trigger, now time.Time) {
	// Polling triggers are driven by a separate mechanism.
	if t.TriggerType == trigger.TypePolling {
		return
	}

	cfg, parsed := trigger.ParseConfig(t.Config)
	if !parsed && t.Config != "" {
		slog.Warn("trigger config unparseable, using defaults", "trigger_id", t.ID)
	}

	eventType := cfg.EventType
	if eventType == "" {
		eventType = "trigger_fired"
	}

	projectID := t.ProjectID
	if p, err := s.store.GetPersona(ctx, t.PersonaID); err == nil {
		projectID = p.ProjectID
	}

	_, err := s.store.CreateEvent(ctx, event.CreateRequest{
		ProjectID:       projectID,
		EventType:       eventType,
		SourceType:      "trigger",
		SourceID:        t.ID,
		TargetPersonaID: t.PersonaID,
		Payload:         string(cfg.Payload),
		UseCaseID:       t.UseCaseID,
	})
	if err != nil {
		slog.Error("publish trigger event failed", "trigger_id", t.ID, "error", err)
		return
	}

	next, recognized := cfg.NextFire(now)
	if t.TriggerType == trigger.TypeSchedule && !recognized {
		slog.Warn("unrecognized trigger schedule, falling back to one hour",
			"trigger_id", t.ID, "config", t.Config)
	}

	if err := s.store.UpdateTriggerTimings(ctx, t.ID, now, next); err != nil {
		slog.Error("update trigger timings failed", "trigger_id", t.ID, "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.TriggersFired.Add(ctx, 1)
	}
	slog.Info("trigger fired", "trigger_id", t.ID, "event_type", eventType, "next_trigger_at", next)
}
