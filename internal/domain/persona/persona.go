// Package persona defines the Persona domain entity: the reusable template
// of an executable agent.
package persona

import (
	"encoding/json"
	"time"
)

// Persona is the template from which executions are created. It is immutable
// at execution time; mutations happen only through the CRUD surface.
type Persona struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"project_id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	SystemPrompt     string          `json:"system_prompt"`
	StructuredPrompt json.RawMessage `json:"structured_prompt,omitempty"`
	Enabled          bool            `json:"enabled"`
	MaxConcurrent    int             `json:"max_concurrent"`
	TimeoutMs        int64           `json:"timeout_ms"`
	ModelProfile     *ModelProfile   `json:"model_profile,omitempty"`
	BudgetUSD        float64         `json:"budget_usd,omitempty"`
	SpentUSD         float64         `json:"spent_usd,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ModelProfile selects the upstream model provider for a persona and drives
// env var substitution at dispatch time.
type ModelProfile struct {
	Provider string `json:"provider"` // "ollama" | "litellm" | "custom" | "" (default)
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// StructuredPrompt is the optional structured form of a persona's prompt.
// When present and parseable, its sections replace the raw system prompt.
type StructuredPrompt struct {
	Identity       string            `json:"identity,omitempty"`
	Instructions   string            `json:"instructions,omitempty"`
	ToolGuidance   string            `json:"tool_guidance,omitempty"`
	Examples       string            `json:"examples,omitempty"`
	ErrorHandling  string            `json:"error_handling,omitempty"`
	CustomSections map[string]string `json:"custom_sections,omitempty"`
	WebSearch      string            `json:"web_search,omitempty"`
}

// CreateRequest holds the fields needed to create a persona.
type CreateRequest struct {
	ProjectID        string          `json:"project_id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	SystemPrompt     string          `json:"system_prompt"`
	StructuredPrompt json.RawMessage `json:"structured_prompt,omitempty"`
	Enabled          *bool           `json:"enabled,omitempty"`
	MaxConcurrent    int             `json:"max_concurrent,omitempty"`
	TimeoutMs        int64           `json:"timeout_ms,omitempty"`
	ModelProfile     *ModelProfile   `json:"model_profile,omitempty"`
	BudgetUSD        float64         `json:"budget_usd,omitempty"`
}

// ToolDefinition contributes documentation text to the assembled prompt.
// Personas reference tools through a many-to-many link.
type ToolDefinition struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Name           string    `json:"name"`
	Category       string    `json:"category,omitempty"`
	Description    string    `json:"description,omitempty"`
	Implementation string    `json:"implementation,omitempty"` // usage guide or script path
	InputSchema    string    `json:"input_schema,omitempty"`
	CredentialName string    `json:"credential_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
