// Package middleware provides HTTP middleware for the CRUD surface.
package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyAuth returns middleware that validates the X-API-Key header against
// the configured bcrypt hash. An empty hash disables authentication (local
// development). /health and the worker endpoint are exempt; workers carry
// their own shared-secret token in the connection query string.
func APIKeyAuth(apiKeyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKeyHash == "" || exemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(apiKeyHash), []byte(key)); err != nil {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func exemptPath(path string) bool {
	return path == "/health" || path == "/ws" || strings.HasPrefix(path, "/ws/")
}
