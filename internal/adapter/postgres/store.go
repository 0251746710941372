package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calyptra/maestro/internal/domain/credential"
	"github.com/calyptra/maestro/internal/domain/persona"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Personas ---

const personaColumns = `id, project_id, name, description, system_prompt, structured_prompt,
	enabled, max_concurrent, timeout_ms, model_profile, budget_usd, spent_usd, created_at, updated_at`

func scanPersona(row scannable) (persona.Persona, error) {
	var (
		p            persona.Persona
		description  *string
		structured   []byte
		modelProfile []byte
	)
	err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &description, &p.SystemPrompt, &structured,
		&p.Enabled, &p.MaxConcurrent, &p.TimeoutMs, &modelProfile, &p.BudgetUSD, &p.SpentUSD,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return persona.Persona{}, err
	}
	if description != nil {
		p.Description = *description
	}
	if len(structured) > 0 {
		p.StructuredPrompt = json.RawMessage(structured)
	}
	if len(modelProfile) > 0 {
		var mp persona.ModelProfile
		if err := json.Unmarshal(modelProfile, &mp); err == nil {
			p.ModelProfile = &mp
		}
	}
	return p, nil
}

func (s *Store) ListPersonas(ctx context.Context, projectID string) ([]persona.Persona, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var personas []persona.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		personas = append(personas, p)
	}
	return personas, rows.Err()
}

func (s *Store) GetPersona(ctx context.Context, id string) (*persona.Persona, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE id = $1`, id)

	p, err := scanPersona(row)
	if err != nil {
		return nil, notFoundWrap(err, "get persona %s", id)
	}
	return &p, nil
}

func (s *Store) CreatePersona(ctx context.Context, req persona.CreateRequest) (*persona.Persona, error) {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	maxConcurrent := req.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	var modelProfile []byte
	if req.ModelProfile != nil {
		var err error
		modelProfile, err = json.Marshal(req.ModelProfile)
		if err != nil {
			return nil, fmt.Errorf("marshal model profile: %w", err)
		}
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO personas (project_id, name, description, system_prompt, structured_prompt,
			enabled, max_concurrent, timeout_ms, model_profile, budget_usd)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+personaColumns,
		req.ProjectID, req.Name, nullIfEmpty(req.Description), req.SystemPrompt,
		[]byte(req.StructuredPrompt), enabled, maxConcurrent, req.TimeoutMs, modelProfile, req.BudgetUSD)

	p, err := scanPersona(row)
	if err != nil {
		return nil, fmt.Errorf("create persona: %w", err)
	}
	return &p, nil
}

func (s *Store) UpdatePersona(ctx context.Context, p *persona.Persona) error {
	var modelProfile []byte
	if p.ModelProfile != nil {
		var err error
		modelProfile, err = json.Marshal(p.ModelProfile)
		if err != nil {
			return fmt.Errorf("marshal model profile: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE personas SET name = $2, description = $3, system_prompt = $4, structured_prompt = $5,
			enabled = $6, max_concurrent = $7, timeout_ms = $8, model_profile = $9,
			budget_usd = $10, updated_at = now()
		 WHERE id = $1`,
		p.ID, p.Name, nullIfEmpty(p.Description), p.SystemPrompt, []byte(p.StructuredPrompt),
		p.Enabled, p.MaxConcurrent, p.TimeoutMs, modelProfile, p.BudgetUSD)
	return execExpectOne(tag, err, "update persona %s", p.ID)
}

func (s *Store) DeletePersona(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM personas WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete persona %s", id)
}

// --- Tools ---

const toolColumns = `id, project_id, name, category, description, implementation, input_schema, credential_name, created_at`

func scanTool(row scannable) (persona.ToolDefinition, error) {
	var (
		t                                                       persona.ToolDefinition
		category, description, impl, inputSchema, credentialRef *string
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &category, &description, &impl,
		&inputSchema, &credentialRef, &t.CreatedAt)
	if err != nil {
		return persona.ToolDefinition{}, err
	}
	if category != nil {
		t.Category = *category
	}
	if description != nil {
		t.Description = *description
	}
	if impl != nil {
		t.Implementation = *impl
	}
	if inputSchema != nil {
		t.InputSchema = *inputSchema
	}
	if credentialRef != nil {
		t.CredentialName = *credentialRef
	}
	return t, nil
}

func (s *Store) ListTools(ctx context.Context, projectID string) ([]persona.ToolDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE project_id = $1 ORDER BY name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var tools []persona.ToolDefinition
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

func (s *Store) GetTool(ctx context.Context, id string) (*persona.ToolDefinition, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+toolColumns+` FROM tools WHERE id = $1`, id)

	t, err := scanTool(row)
	if err != nil {
		return nil, notFoundWrap(err, "get tool %s", id)
	}
	return &t, nil
}

func (s *Store) CreateTool(ctx context.Context, t *persona.ToolDefinition) (*persona.ToolDefinition, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tools (project_id, name, category, description, implementation, input_schema, credential_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+toolColumns,
		t.ProjectID, t.Name, nullIfEmpty(t.Category), nullIfEmpty(t.Description),
		nullIfEmpty(t.Implementation), nullIfEmpty(t.InputSchema), nullIfEmpty(t.CredentialName))

	created, err := scanTool(row)
	if err != nil {
		return nil, fmt.Errorf("create tool: %w", err)
	}
	return &created, nil
}

func (s *Store) DeleteTool(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tools WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete tool %s", id)
}

func (s *Store) ListPersonaTools(ctx context.Context, personaID string) ([]persona.ToolDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.project_id, t.name, t.category, t.description, t.implementation, t.input_schema, t.credential_name, t.created_at
		 FROM tools t
		 JOIN persona_tools pt ON pt.tool_id = t.id
		 WHERE pt.persona_id = $1
		 ORDER BY t.name`, personaID)
	if err != nil {
		return nil, fmt.Errorf("list persona tools: %w", err)
	}
	defer rows.Close()

	var tools []persona.ToolDefinition
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

func (s *Store) BindTool(ctx context.Context, personaID, toolID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO persona_tools (persona_id, tool_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		personaID, toolID)
	if err != nil {
		return fmt.Errorf("bind tool %s to persona %s: %w", toolID, personaID, err)
	}
	return nil
}

func (s *Store) UnbindTool(ctx context.Context, personaID, toolID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM persona_tools WHERE persona_id = $1 AND tool_id = $2`, personaID, toolID)
	return execExpectOne(tag, err, "unbind tool %s from persona %s", toolID, personaID)
}

// --- Credentials ---

func (s *Store) ListPersonaCredentials(ctx context.Context, personaID string) ([]credential.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, persona_id, name, ciphertext, iv, auth_tag, created_at
		 FROM credentials WHERE persona_id = $1 ORDER BY name`, personaID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []credential.Credential
	for rows.Next() {
		var c credential.Credential
		if err := rows.Scan(&c.ID, &c.PersonaID, &c.Name, &c.Ciphertext, &c.IV, &c.AuthTag, &c.CreatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (s *Store) CreateCredential(ctx context.Context, c *credential.Credential) (*credential.Credential, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO credentials (persona_id, name, ciphertext, iv, auth_tag)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, persona_id, name, ciphertext, iv, auth_tag, created_at`,
		c.PersonaID, c.Name, c.Ciphertext, c.IV, c.AuthTag)

	var created credential.Credential
	if err := row.Scan(&created.ID, &created.PersonaID, &created.Name,
		&created.Ciphertext, &created.IV, &created.AuthTag, &created.CreatedAt); err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}
	return &created, nil
}

func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete credential %s", id)
}
