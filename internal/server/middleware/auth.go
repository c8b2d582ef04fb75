package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/alanyoungcy/updown/internal/domain"
)

// Authenticator resolves an agent API key.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (domain.Account, error)
}

type accountKey struct{}

// WithAccount returns ctx carrying the authenticated account.
func WithAccount(ctx context.Context, a domain.Account) context.Context {
	return context.WithValue(ctx, accountKey{}, a)
}

// AccountFrom returns the account set by AgentAuth.
func AccountFrom(ctx context.Context) (domain.Account, bool) {
	a, ok := ctx.Value(accountKey{}).(domain.Account)
	return a, ok
}

// AgentAuth requires a valid agent API key as a Bearer token or in the
// X-API-Key header, and stores the account on the request context.
func AgentAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				writeStatus(w, http.StatusUnauthorized, "missing API key")
				return
			}
			acct, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				writeStatus(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			tagAgent(r.Context(), acct.ID)
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acct)))
		})
	}
}

// AdminKey guards operator routes with a static X-Admin-Key. An empty key
// disables those routes entirely.
func AdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeStatus(w, http.StatusForbidden, "admin API disabled")
				return
			}
			got := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
			if got == "" {
				writeStatus(w, http.StatusUnauthorized, "missing admin key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeStatus(w, http.StatusForbidden, "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
