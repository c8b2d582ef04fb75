package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updown/internal/domain"
)

type keyAuth map[string]domain.Account

func (k keyAuth) Authenticate(_ context.Context, key string) (domain.Account, error) {
	if a, ok := k[key]; ok {
		return a, nil
	}
	return domain.Account{}, errors.New("unknown key")
}

func TestLoggingNamesTheAgent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	auth := keyAuth{"k1": {ID: "agent-1", Name: "alice"}}

	var seen domain.Account
	h := Logging(logger)(AgentAuth(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = AccountFrom(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/agents/me", nil)
	req.Header.Set("Authorization", "Bearer k1")
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "alice", seen.Name)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "agent-1", line["agent"])
	assert.Equal(t, "req-42", line["request_id"])
	assert.Equal(t, float64(http.StatusOK), line["status"])
}

func TestLoggingMintsRequestID(t *testing.T) {
	var buf bytes.Buffer
	h := Logging(slog.New(slog.NewJSONHandler(&buf, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.NotContains(t, line, "agent")
}

func TestClientIP(t *testing.T) {
	for name, tc := range map[string]struct {
		headers map[string]string
		remote  string
		want    string
	}{
		"forwarded first hop": {map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.2:5000", "203.0.113.9"},
		"real ip":             {map[string]string{"X-Real-IP": " 198.51.100.4 "}, "10.0.0.2:5000", "198.51.100.4"},
		"remote addr":         {nil, "192.0.2.7:41234", "192.0.2.7"},
		"bare remote":         {nil, "pipe", "pipe"},
	} {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, clientIP(r))
		})
	}
}

func TestCORSOriginMatching(t *testing.T) {
	assert.True(t, originAllowed(nil, "https://anything"))
	assert.True(t, originAllowed([]string{"HTTPS://APP.example"}, "https://app.example"))
	assert.True(t, originAllowed([]string{"*"}, "https://x"))
	assert.False(t, originAllowed([]string{"https://app.example"}, "https://evil.example"))
}

type eventTally map[string]int

func (e eventTally) APIEvent(ev string) { e[ev]++ }

func TestAnalyticsClassifiesTraffic(t *testing.T) {
	tally := eventTally{}
	h := Analytics(tally)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	for _, c := range []struct{ method, path string }{
		{http.MethodPost, "/api/agents"},
		{http.MethodPost, "/api/bets"},
		{http.MethodPost, "/api/bets"},
		{http.MethodGet, "/api/bets/today"},
		{http.MethodGet, "/api/market"},
		{http.MethodGet, "/ws"},
		{http.MethodPost, "/api/admin/price"},
		{http.MethodGet, "/metrics"},
		{http.MethodOptions, "/api/bets"},
	} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(c.method, c.path, nil))
	}
	assert.Equal(t, eventTally{
		"registration_attempt": 1,
		"bet_attempt":          2,
		"api_call":             2,
		"ws_connect":           1,
	}, tally)
}
