package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/calyptra/maestro/internal/domain/trigger"
)

const triggerColumns = `id, project_id, persona_id, trigger_type, config, enabled,
	last_triggered_at, next_trigger_at, use_case_id, created_at`

func scanTrigger(row scannable) (trigger.Trigger, error) {
	var (
		t                 trigger.Trigger
		cfg, useCaseID    *string
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.PersonaID, &t.TriggerType, &cfg, &t.Enabled,
		&t.LastTriggeredAt, &t.NextTriggerAt, &useCaseID, &t.CreatedAt)
	if err != nil {
		return trigger.Trigger{}, err
	}
	if cfg != nil {
		t.Config = *cfg
	}
	if useCaseID != nil {
		t.UseCaseID = *useCaseID
	}
	return t, nil
}

func (s *Store) ListTriggers(ctx context.Context, projectID string) ([]trigger.Trigger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []trigger.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

func (s *Store) CreateTrigger(ctx context.Context, req trigger.CreateRequest) (*trigger.Trigger, error) {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	projectID := req.ProjectID
	if projectID == "" {
		projectID = "default"
	}

	// New triggers are due immediately; the scheduler computes the real
	// cadence on first fire.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO triggers (project_id, persona_id, trigger_type, config, enabled, next_trigger_at, use_case_id)
		 VALUES ($1, $2, $3, $4, $5, now(), $6)
		 RETURNING `+triggerColumns,
		projectID, req.PersonaID, req.TriggerType, nullIfEmpty(req.Config), enabled, nullIfEmpty(req.UseCaseID))

	t, err := scanTrigger(row)
	if err != nil {
		return nil, fmt.Errorf("create trigger: %w", err)
	}
	return &t, nil
}

func (s *Store) DeleteTrigger(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete trigger %s", id)
}

func (s *Store) ListDueTriggers(ctx context.Context, now time.Time) ([]trigger.Trigger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+triggerColumns+` FROM triggers
		 WHERE enabled = true AND next_trigger_at IS NOT NULL AND next_trigger_at <= $1
		 ORDER BY next_trigger_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list due triggers: %w", err)
	}
	defer rows.Close()

	var triggers []trigger.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

func (s *Store) UpdateTriggerTimings(ctx context.Context, id string, lastTriggeredAt, nextTriggerAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE triggers SET last_triggered_at = $2, next_trigger_at = $3 WHERE id = $1`,
		id, lastTriggeredAt, nextTriggerAt)
	return execExpectOne(tag, err, "update trigger timings %s", id)
}
