package middleware

import (
	"net/http"
	"strings"
)

// EventCounter records one classified API event.
type EventCounter interface {
	APIEvent(event string)
}

// Analytics counts public traffic by intent. Operator routes are not
// counted.
func Analytics(c EventCounter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ev := classify(r); ev != "" {
				c.APIEvent(ev)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func classify(r *http.Request) string {
	p := r.URL.Path
	switch {
	case strings.HasPrefix(p, "/api/admin"), p == "/metrics", r.Method == http.MethodOptions:
		return ""
	case r.Method == http.MethodPost && p == "/api/agents":
		return "registration_attempt"
	case r.Method == http.MethodPost && p == "/api/bets":
		return "bet_attempt"
	case p == "/ws":
		return "ws_connect"
	default:
		return "api_call"
	}
}
