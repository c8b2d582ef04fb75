package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/server/handler"
	"github.com/alanyoungcy/updown/internal/service"
	"github.com/alanyoungcy/updown/internal/store/memory"
)

const adminKey = "test-admin-key"

// 2025-03-14 is a Friday; 14:00 UTC is 10:00 in New York.
var liveMorning = time.Date(2025, 3, 14, 14, 0, 0, 0, time.UTC)

type stubQuotes struct{}

func (stubQuotes) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	return domain.Quote{Symbol: symbol, Price: 500_00000000, Open: 500_00000000, Timestamp: liveMorning}, nil
}

type stubLimiter struct {
	mu      sync.Mutex
	allowed int
	err     error
	keys    []string
}

func (l *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.err != nil {
		return false, l.err
	}
	if l.allowed <= 0 {
		return false, nil
	}
	l.allowed--
	return true, nil
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
	now     time.Time
	mu      sync.Mutex
}

func (a *testAPI) clock() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now
}

func (a *testAPI) advance(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = a.now.Add(d)
}

func newTestAPI(t *testing.T, limiter domain.RateLimiter) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := &testAPI{t: t, now: liveMorning}

	ledger := memory.NewLedger()
	audit := memory.NewAuditLog()
	cal, err := service.NewMarketCalendar("America/New_York", service.DefaultSessionHours)
	require.NoError(t, err)
	cal = cal.WithClock(api.clock)
	prices := service.NewPriceService("SPY", stubQuotes{}, memory.NewPriceCache(), logger).WithClock(api.clock)
	rounds := service.NewRoundService(ledger, cal, prices, service.DefaultRoundRules(), logger).
		WithClock(api.clock).
		WithAudit(audit)
	accounts := service.NewAccountService(ledger, domain.Units(1000), logger)

	h := Handlers{
		Health: handler.NewHealthHandler("dev", map[string]handler.HealthCheck{
			"ledger": func(context.Context) error { return nil },
		}, logger).WithClients(func() int { return 2 }),
		Market: handler.NewMarketHandler(rounds, cal, prices, logger),
		Rounds: handler.NewRoundHandler(rounds, nil, logger),
		Bets:   handler.NewBetHandler(rounds, accounts, logger),
		Agents: handler.NewAgentHandler(accounts, logger),
		Admin:  handler.NewAdminHandler(rounds, prices, audit, logger),
	}
	cfg := Config{
		CORSOrigins:     []string{"https://app.example"},
		AdminKey:        adminKey,
		RateLimit:       100,
		RateLimitWindow: time.Minute,
	}
	var deps Deps
	deps.Auth = accounts
	if limiter != nil {
		deps.Limiter = limiter
	}
	api.handler = NewHandler(cfg, h, deps, logger)
	return api
}

func (a *testAPI) do(method, path string, body any, headers map[string]string) (int, map[string]any) {
	a.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (a *testAPI) admin(method, path string, body any) (int, map[string]any) {
	return a.do(method, path, body, map[string]string{"X-Admin-Key": adminKey})
}

func (a *testAPI) register(name string) string {
	a.t.Helper()
	code, out := a.do(http.MethodPost, "/api/agents", map[string]any{"name": name}, nil)
	require.Equal(a.t, http.StatusCreated, code, out)
	key, ok := out["api_key"].(string)
	require.True(a.t, ok)
	return key
}

func bearer(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil)
	code, out := api.do(http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
	assert.EqualValues(t, 2, out["ws_clients"])

	code, _ = api.do(http.MethodGet, "/api/receipts", nil, nil)
	assert.Equal(t, http.StatusNotFound, code, "no archive configured")
}

func TestRoundLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	alice := api.register("alice")
	bob := api.register("bob")

	code, out := api.admin(http.MethodPost, "/api/admin/rounds", map[string]any{"round_id": "2025-03-14", "open_price": "500"})
	require.Equal(t, http.StatusCreated, code, out)

	code, out = api.do(http.MethodPost, "/api/bets", map[string]any{"direction": "UP", "amount": 100}, bearer(alice))
	require.Equal(t, http.StatusCreated, code, out)
	assert.EqualValues(t, 900, out["remaining_balance"])

	code, out = api.do(http.MethodPost, "/api/bets", map[string]any{"direction": "down", "amount": 100}, map[string]string{"X-API-Key": bob})
	require.Equal(t, http.StatusCreated, code, out)

	code, out = api.do(http.MethodPost, "/api/bets", map[string]any{"direction": "DOWN", "amount": 50}, bearer(alice))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_bet", out["code"])

	code, out = api.do(http.MethodGet, "/api/bets/today", nil, bearer(alice))
	require.Equal(t, http.StatusOK, code)
	bet := out["bet"].(map[string]any)
	assert.Equal(t, "2025-03-14", bet["round_id"])

	code, out = api.do(http.MethodGet, "/api/market", nil, nil)
	require.Equal(t, http.StatusOK, code)
	pool := out["pool"].(map[string]any)
	assert.EqualValues(t, 100, pool["total_up"])
	assert.EqualValues(t, 100, pool["total_down"])

	code, out = api.admin(http.MethodPost, "/api/admin/rounds/2025-03-14/settle", map[string]any{"close_price": 505})
	assert.Equal(t, http.StatusPreconditionFailed, code)
	assert.Equal(t, "too_early_to_settle", out["code"])

	api.advance(7 * time.Hour)
	code, out = api.admin(http.MethodPost, "/api/admin/rounds/2025-03-14/settle", map[string]any{"close_price": 505})
	require.Equal(t, http.StatusOK, code, out)
	assert.EqualValues(t, 1, out["winners"])
	assert.EqualValues(t, 1, out["losers"])

	code, out = api.do(http.MethodGet, "/api/rounds/20250314/payout", nil, bearer(bob))
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, out["payout"])

	code, out = api.do(http.MethodGet, "/api/rounds/2025-03-14/payout", nil, bearer(alice))
	require.Equal(t, http.StatusOK, code)
	assert.Greater(t, out["payout"].(float64), 100.0)

	code, out = api.admin(http.MethodPost, "/api/admin/rounds/2025-03-14/claim-fee", nil)
	require.Equal(t, http.StatusOK, code, out)
	assert.Greater(t, out["fee"].(float64), 0.0)

	code, out = api.admin(http.MethodPost, "/api/admin/rounds/2025-03-14/claim-fee", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "fee_already_claimed", out["code"])

	code, out = api.do(http.MethodGet, "/api/bets/history", nil, bearer(alice))
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, out["count"])

	code, out = api.do(http.MethodGet, "/api/leaderboard", nil, nil)
	require.Equal(t, http.StatusOK, code)
	rows := out["leaderboard"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].(map[string]any)["name"])

	code, out = api.admin(http.MethodGet, "/api/admin/audit?round_id=2025-03-14", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, out["entries"])
}

func TestRefundOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	alice := api.register("alice")

	code, _ := api.admin(http.MethodPost, "/api/admin/rounds", map[string]any{"round_id": "2025-03-14", "open_price": 500})
	require.Equal(t, http.StatusCreated, code)
	code, _ = api.do(http.MethodPost, "/api/bets", map[string]any{"direction": "UP", "amount": 100}, bearer(alice))
	require.Equal(t, http.StatusCreated, code)

	code, out := api.admin(http.MethodPost, "/api/admin/rounds/2025-03-14/refund", nil)
	require.Equal(t, http.StatusOK, code, out)

	code, out = api.do(http.MethodGet, "/api/agents/me", nil, bearer(alice))
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1000, out["agent"].(map[string]any)["balance"])

	code, out = api.admin(http.MethodPost, "/api/admin/rounds/2025-03-14/claim-fee", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "no_fee_on_refund", out["code"])
}

func TestAgentAuth(t *testing.T) {
	api := newTestAPI(t, nil)

	code, _ := api.do(http.MethodGet, "/api/agents/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = api.do(http.MethodGet, "/api/agents/me", nil, bearer("ud_nope"))
	assert.Equal(t, http.StatusUnauthorized, code)

	key := api.register("carol")
	code, out := api.do(http.MethodGet, "/api/agents/me", nil, bearer(key))
	require.Equal(t, http.StatusOK, code)
	agent := out["agent"].(map[string]any)
	assert.Equal(t, "carol", agent["name"])
	assert.NotContains(t, agent, "api_key")
}

func TestAdminKey(t *testing.T) {
	api := newTestAPI(t, nil)

	code, _ := api.do(http.MethodPost, "/api/admin/paused", map[string]any{"paused": true}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = api.do(http.MethodPost, "/api/admin/paused", map[string]any{"paused": true}, map[string]string{"X-Admin-Key": "wrong"})
	assert.Equal(t, http.StatusForbidden, code)

	code, out := api.admin(http.MethodPost, "/api/admin/paused", map[string]any{"paused": true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["paused"])

	_, out = api.do(http.MethodGet, "/api/market", nil, nil)
	assert.Equal(t, true, out["paused"])
}

func TestRequestValidation(t *testing.T) {
	api := newTestAPI(t, nil)
	key := api.register("dave")

	tests := []struct {
		name string
		path string
		body any
		hdrs map[string]string
		want string
	}{
		{"bad direction", "/api/bets", map[string]any{"direction": "SIDEWAYS", "amount": 10}, bearer(key), "invalid_request"},
		{"zero amount", "/api/bets", map[string]any{"direction": "UP", "amount": 0}, bearer(key), "invalid_request"},
		{"unknown field", "/api/bets", map[string]any{"direction": "UP", "amount": 10, "extra": 1}, bearer(key), "invalid_request"},
		{"short name", "/api/agents", map[string]any{"name": "x"}, nil, "invalid_request"},
		{"round id without price", "/api/admin/rounds", map[string]any{"round_id": "2025-03-14"}, map[string]string{"X-Admin-Key": adminKey}, "invalid_request"},
		{"bad round id", "/api/admin/rounds", map[string]any{"round_id": "2025-13-40", "open_price": 1}, map[string]string{"X-Admin-Key": adminKey}, "invalid_round_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := api.do(http.MethodPost, tt.path, tt.body, tt.hdrs)
			assert.Equal(t, http.StatusBadRequest, code, out)
			assert.Equal(t, tt.want, out["code"])
		})
	}
}

func TestErrorKindStatus(t *testing.T) {
	api := newTestAPI(t, nil)
	key := api.register("erin")

	code, out := api.do(http.MethodPost, "/api/bets", map[string]any{"direction": "UP", "amount": 10}, bearer(key))
	assert.Equal(t, http.StatusPreconditionFailed, code)
	assert.Equal(t, "no_active_round", out["code"])

	code, out = api.do(http.MethodGet, "/api/rounds/2025-03-14", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", out["code"])

	code, out = api.do(http.MethodGet, "/api/rounds/not-a-day", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_round_id", out["code"])

	code, out = api.do(http.MethodGet, "/api/bets/today", nil, bearer(key))
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, out["bet"])
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/bets", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Admin-Key")
}

func TestRateLimit(t *testing.T) {
	limiter := &stubLimiter{allowed: 1}
	api := newTestAPI(t, limiter)

	req := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusOK, req().Code)
	rec := req()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "api:203.0.113.9", limiter.keys[0])

	limiter.err = errors.New("redis down")
	assert.Equal(t, http.StatusOK, req().Code)
}
