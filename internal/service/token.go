package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/calyptra/maestro/internal/config"
	"github.com/calyptra/maestro/internal/resilience"
)

// OAuthToken is the stored credential tuple. Tokens live only in process
// memory and are never persisted.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// TokenProvider supplies a fresh bearer credential at dispatch time,
// refreshing proactively when the stored token is near expiry.
type TokenProvider struct {
	cfg    config.OAuth
	client *http.Client
	gate   *resilience.FailureGate

	mu  sync.Mutex
	tok *OAuthToken
}

// NewTokenProvider creates a TokenProvider. No token is stored until
// SetToken is called (by the external authorization-code flow).
func NewTokenProvider(cfg config.OAuth) *TokenProvider {
	return &TokenProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		gate:   resilience.NewFailureGate(5, 30*time.Second),
	}
}

// SetToken installs a token tuple obtained by the external OAuth flow.
func (p *TokenProvider) SetToken(tok *OAuthToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tok = tok
}

// HasToken reports whether a token tuple is currently stored.
func (p *TokenProvider) HasToken() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tok != nil
}

// GetValidAccessToken returns the stored access token, refreshing it first
// when within the refresh margin of expiry. Returns "" on absence or when the
// refresh fails.
func (p *TokenProvider) GetValidAccessToken(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tok == nil {
		return ""
	}

	if time.Until(p.tok.ExpiresAt) > p.cfg.RefreshMargin {
		return p.tok.AccessToken
	}

	err := p.gate.Do(func() error { return p.refreshLocked(ctx) })
	if err != nil {
		slog.Error("token refresh failed", "error", err)
		return ""
	}
	return p.tok.AccessToken
}

// StartWarmLoop keeps the token fresh in the background so dispatches rarely
// pay the refresh round trip.
func (p *TokenProvider) StartWarmLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.WarmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.GetValidAccessToken(ctx) == "" && p.HasToken() {
				slog.Warn("token warm refresh failed")
			}
		}
	}
}

// refreshLocked performs the refresh-token grant and rotates the stored
// tuple. Caller holds p.mu.
func (p *TokenProvider) refreshLocked(ctx context.Context) error {
	if p.tok.RefreshToken == "" {
		return fmt.Errorf("no refresh token stored")
	}
	if p.cfg.TokenURL == "" {
		return fmt.Errorf("oauth token_url not configured")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {p.tok.RefreshToken},
		"client_id":     {p.cfg.ClientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if body.AccessToken == "" {
		return fmt.Errorf("refresh response missing access_token")
	}

	refresh := body.RefreshToken
	if refresh == "" {
		// Endpoint did not rotate; keep the old refresh token.
		refresh = p.tok.RefreshToken
	}

	p.tok = &OAuthToken{
		AccessToken:  body.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
		Scopes:       strings.Fields(body.Scope),
	}

	slog.Info("oauth token refreshed", "expires_at", p.tok.ExpiresAt)
	return nil
}
