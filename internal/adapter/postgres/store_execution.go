package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/calyptra/maestro/internal/domain/execution"
)

const executionColumns = `id, project_id, persona_id, status, started_at, completed_at,
	duration_ms, session_id, cost_usd, exit_code, error_message, output, created_at`

func scanExecution(row scannable) (execution.Record, error) {
	var (
		rec                            execution.Record
		personaID, sessionID, errorMsg *string
		output                         []string
	)
	err := row.Scan(&rec.ID, &rec.ProjectID, &personaID, &rec.Status, &rec.StartedAt,
		&rec.CompletedAt, &rec.DurationMs, &sessionID, &rec.CostUSD, &rec.ExitCode,
		&errorMsg, &output, &rec.CreatedAt)
	if err != nil {
		return execution.Record{}, err
	}
	if personaID != nil {
		rec.PersonaID = *personaID
	}
	if sessionID != nil {
		rec.SessionID = *sessionID
	}
	if errorMsg != nil {
		rec.ErrorMessage = *errorMsg
	}
	rec.Output = orEmpty(output)
	return rec, nil
}

func (s *Store) CreateExecution(ctx context.Context, rec *execution.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO executions (id, project_id, persona_id, status)
		 VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.ProjectID, nullIfEmpty(rec.PersonaID), rec.Status)
	if err != nil {
		return fmt.Errorf("create execution %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*execution.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)

	rec, err := scanExecution(row)
	if err != nil {
		return nil, notFoundWrap(err, "get execution %s", id)
	}
	return &rec, nil
}

func (s *Store) UpdateExecutionStatus(ctx context.Context, id string, status execution.Status, startedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET status = $2, started_at = COALESCE($3, started_at) WHERE id = $1`,
		id, status, nullTime(startedAt))
	return execExpectOne(tag, err, "update execution status %s", id)
}

func (s *Store) FinishExecution(ctx context.Context, rec *execution.Record) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET status = $2, completed_at = $3, duration_ms = $4,
			session_id = $5, cost_usd = $6, exit_code = $7, error_message = $8
		 WHERE id = $1`,
		rec.ID, rec.Status, nullTime(rec.CompletedAt), rec.DurationMs,
		nullIfEmpty(rec.SessionID), rec.CostUSD, rec.ExitCode, nullIfEmpty(rec.ErrorMessage))
	return execExpectOne(tag, err, "finish execution %s", rec.ID)
}

// AppendExecutionOutput appends one chunk to the record's output array.
func (s *Store) AppendExecutionOutput(ctx context.Context, id, chunk string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET output = output || to_jsonb($2::text) WHERE id = $1`,
		id, chunk)
	return execExpectOne(tag, err, "append execution output %s", id)
}

func (s *Store) CountRunningExecutions(ctx context.Context, personaID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM executions WHERE persona_id = $1 AND status = 'running'`,
		personaID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count running executions: %w", err)
	}
	return count, nil
}
