package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.WagerPlaced("up", 20)
	m.WagerPlaced("up", 5.5)
	m.WagerRejected("already_bet")
	m.RoundResolved("up", 29.5, 0.5, 2)
	m.SettleAttempt("retry")
	m.SideChannelError("chain")
	m.APIEvent("bet_attempt")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.wagers.WithLabelValues("up")))
	assert.Equal(t, 25.5, testutil.ToFloat64(m.staked.WithLabelValues("up")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wagerRejections.WithLabelValues("already_bet")))
	assert.Equal(t, 29.5, testutil.ToFloat64(m.payouts))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.fees))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bankruptResets))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settleAttempts.WithLabelValues("retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sideChannelErrs.WithLabelValues("chain")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.apiEvents.WithLabelValues("bet_attempt")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.WagerPlaced("down", 1)
		m.RoundResolved("tie", 0, 0, 0)
		m.SettleAttempt("ok")
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.WagerPlaced("down", 10)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `updown_wagers_placed_total{side="down"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
