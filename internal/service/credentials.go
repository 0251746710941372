package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calyptra/maestro/internal/domain/credential"
	"github.com/calyptra/maestro/internal/domain/persona"
	"github.com/calyptra/maestro/internal/port/database"
)

// BearerEnvVar is the env var carrying the orchestrator-supplied bearer
// credential into the worker's CLI invocation.
const BearerEnvVar = "CLAUDE_CODE_OAUTH_TOKEN"

// Provider override env vars applied for non-default model profiles.
const (
	baseURLEnvVar   = "ANTHROPIC_BASE_URL"
	authTokenEnvVar = "ANTHROPIC_AUTH_TOKEN"
)

// CredentialMaterializer decrypts persona-scoped secrets and derives the env
// key/value set injected into assignments. The master key never leaves this
// service.
type CredentialMaterializer struct {
	store database.Store
	key   []byte
}

// NewCredentialMaterializer derives the AES key from the operator's master
// secret.
func NewCredentialMaterializer(store database.Store, masterSecret string) *CredentialMaterializer {
	return &CredentialMaterializer{
		store: store,
		key:   credential.DeriveKey(masterSecret),
	}
}

// Encrypt seals a plaintext secret for storage.
func (m *CredentialMaterializer) Encrypt(plaintext string) (ciphertext, iv, tag []byte, err error) {
	return credential.Encrypt([]byte(plaintext), m.key)
}

// Materialize loads and decrypts a persona's credentials and returns the env
// additions plus the base credential names used as prompt hints. A credential
// that fails to decrypt is skipped with a warning; the dispatch proceeds
// without it.
func (m *CredentialMaterializer) Materialize(ctx context.Context, personaID string) (map[string]string, []string, error) {
	creds, err := m.store.ListPersonaCredentials(ctx, personaID)
	if err != nil {
		return nil, nil, fmt.Errorf("list credentials: %w", err)
	}

	env := make(map[string]string)
	var hints []string

	for _, c := range creds {
		base := "CONNECTOR_" + envName(c.Name)

		plain, err := credential.Decrypt(c.Ciphertext, c.IV, c.AuthTag, m.key)
		if err != nil {
			slog.Warn("credential decrypt failed, skipping",
				"credential_id", c.ID, "persona_id", personaID, "error", err)
			continue
		}

		// A flat string-valued object expands into one var per field;
		// anything else is injected under the base name verbatim.
		var fields map[string]string
		if err := json.Unmarshal(plain, &fields); err == nil {
			for k, v := range fields {
				env[base+"_"+envName(k)] = v
			}
		} else {
			env[base] = string(plain)
		}

		hints = append(hints, base)
	}

	return env, hints, nil
}

// ApplyModelProfile rewrites the provider env vars for personas pinned to an
// alternate upstream. The default bearer var is removed so the CLI talks to
// the configured base URL instead.
func ApplyModelProfile(env map[string]string, mp *persona.ModelProfile) {
	if mp == nil {
		return
	}
	switch mp.Provider {
	case "ollama", "litellm", "custom":
		if mp.BaseURL != "" {
			env[baseURLEnvVar] = mp.BaseURL
		}
		if mp.APIKey != "" {
			env[authTokenEnvVar] = mp.APIKey
		}
		delete(env, BearerEnvVar)
	default:
		// Unknown or empty provider: keep the default bearer credential.
	}
}

// envName normalizes a credential or field name into an env var fragment.
func envName(s string) string {
	up := strings.ToUpper(s)
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, up)
}
