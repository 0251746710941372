package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuthDisabledWhenNoHash(t *testing.T) {
	h := APIKeyAuth("")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/personas", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", rec.Code)
	}
}

func TestAPIKeyAuthAcceptsValidKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("team-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h := APIKeyAuth(string(hash))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/personas", nil)
	req.Header.Set("X-API-Key", "team-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid key, got %d", rec.Code)
	}
}

func TestAPIKeyAuthRejectsInvalidKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("team-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h := APIKeyAuth(string(hash))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/personas", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid key, got %d", rec.Code)
	}
}

func TestAPIKeyAuthExemptsHealthAndWS(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("team-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h := APIKeyAuth(string(hash))(okHandler())

	for _, path := range []string{"/health", "/ws"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected %s exempt from auth, got %d", path, rec.Code)
		}
	}
}
