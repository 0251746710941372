package postgres

import (
	"context"
	"fmt"

	"github.com/calyptra/maestro/internal/domain/event"
)

// --- Events ---

const eventColumns = `id, project_id, event_type, source_type, source_id, target_persona_id,
	payload, status, use_case_id, error_message, created_at, processed_at`

func scanEvent(row scannable) (event.Event, error) {
	var (
		ev                                              event.Event
		sourceID, targetPersonaID, payload              *string
		useCaseID, errorMessage                         *string
	)
	err := row.Scan(&ev.ID, &ev.ProjectID, &ev.EventType, &ev.SourceType, &sourceID,
		&targetPersonaID, &payload, &ev.Status, &useCaseID, &errorMessage,
		&ev.CreatedAt, &ev.ProcessedAt)
	if err != nil {
		return event.Event{}, err
	}
	if sourceID != nil {
		ev.SourceID = *sourceID
	}
	if targetPersonaID != nil {
		ev.TargetPersonaID = *targetPersonaID
	}
	if payload != nil {
		ev.Payload = *payload
	}
	if useCaseID != nil {
		ev.UseCaseID = *useCaseID
	}
	if errorMessage != nil {
		ev.ErrorMessage = *errorMessage
	}
	return ev, nil
}

func (s *Store) CreateEvent(ctx context.Context, req event.CreateRequest) (*event.Event, error) {
	projectID := req.ProjectID
	if projectID == "" {
		projectID = "default"
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO events (project_id, event_type, source_type, source_id, target_persona_id, payload, use_case_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+eventColumns,
		projectID, req.EventType, req.SourceType, nullIfEmpty(req.SourceID),
		nullIfEmpty(req.TargetPersonaID), nullIfEmpty(req.Payload), nullIfEmpty(req.UseCaseID))

	ev, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return &ev, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)

	ev, err := scanEvent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get event %s", id)
	}
	return &ev, nil
}

func (s *Store) ListPendingEvents(ctx context.Context, limit int) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkEventProcessing performs the pending -> processing CAS. Returns false
// when another processor already claimed the event.
func (s *Store) MarkEventProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET status = 'processing' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("mark event processing %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) FinishEvent(ctx context.Context, id string, status event.Status, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET status = $2, error_message = $3, processed_at = now()
		 WHERE id = $1 AND status = 'processing'`,
		id, status, nullIfEmpty(errorMessage))
	return execExpectOne(tag, err, "finish event %s", id)
}

// --- Subscriptions ---

const subscriptionColumns = `id, project_id, persona_id, event_type, source_filter, enabled, created_at`

func scanSubscription(row scannable) (event.Subscription, error) {
	var (
		sub          event.Subscription
		sourceFilter *string
	)
	err := row.Scan(&sub.ID, &sub.ProjectID, &sub.PersonaID, &sub.EventType,
		&sourceFilter, &sub.Enabled, &sub.CreatedAt)
	if err != nil {
		return event.Subscription{}, err
	}
	if sourceFilter != nil {
		sub.SourceFilter = *sourceFilter
	}
	return sub, nil
}

// ListSubscriptions returns subscriptions for an event type. An empty
// projectID matches across all projects.
func (s *Store) ListSubscriptions(ctx context.Context, projectID, eventType string) ([]event.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM event_subscriptions WHERE event_type = $1 ORDER BY created_at ASC`
	args := []any{eventType}
	if projectID != "" {
		query = `SELECT ` + subscriptionColumns + ` FROM event_subscriptions
			 WHERE event_type = $1 AND project_id = $2 ORDER BY created_at ASC`
		args = append(args, projectID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []event.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) CreateSubscription(ctx context.Context, req event.SubscriptionRequest) (*event.Subscription, error) {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	projectID := req.ProjectID
	if projectID == "" {
		projectID = "default"
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO event_subscriptions (project_id, persona_id, event_type, source_filter, enabled)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+subscriptionColumns,
		projectID, req.PersonaID, req.EventType, nullIfEmpty(req.SourceFilter), enabled)

	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return &sub, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM event_subscriptions WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete subscription %s", id)
}
