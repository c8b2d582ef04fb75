// Package metrics exposes Prometheus collectors for round activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	wagers          *prometheus.CounterVec
	wagerRejections *prometheus.CounterVec
	staked          *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	payouts         prometheus.Counter
	fees            prometheus.Counter
	bankruptResets  prometheus.Counter
	settleAttempts  *prometheus.CounterVec
	sideChannelErrs *prometheus.CounterVec
	apiEvents       *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		wagers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "updown_wagers_placed_total",
			Help: "Wagers accepted, by side.",
		}, []string{"side"}),
		wagerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "updown_wagers_rejected_total",
			Help: "Wagers rejected, by error code.",
		}, []string{"code"}),
		staked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "updown_staked_units_total",
			Help: "Whole units staked, by side.",
		}, []string{"side"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "updown_rounds_resolved_total",
			Help: "Rounds resolved, by outcome.",
		}, []string{"outcome"}),
		payouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "updown_payout_units_total",
			Help: "Whole units credited to participants at settlement.",
		}),
		fees: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "updown_fee_units_total",
			Help: "Whole units of fee recorded at settlement.",
		}),
		bankruptResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "updown_bankrupt_resets_total",
			Help: "Balances raised to the floor after a sweep.",
		}),
		settleAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "updown_settle_attempts_total",
			Help: "Scheduled settlement attempts, by result.",
		}, []string{"result"}),
		sideChannelErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "updown_side_channel_errors_total",
			Help: "Best-effort side channel failures, by channel.",
		}, []string{"channel"}),
		apiEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "updown_api_events_total",
			Help: "Public API traffic, by event class.",
		}, []string{"event"}),
	}
	reg.MustRegister(m.wagers, m.wagerRejections, m.staked, m.settlements, m.payouts,
		m.fees, m.bankruptResets, m.settleAttempts, m.sideChannelErrs, m.apiEvents)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) WagerPlaced(side string, units float64) {
	if m == nil {
		return
	}
	m.wagers.WithLabelValues(side).Inc()
	m.staked.WithLabelValues(side).Add(units)
}

func (m *Metrics) WagerRejected(code string) {
	if m == nil {
		return
	}
	m.wagerRejections.WithLabelValues(code).Inc()
}

func (m *Metrics) RoundResolved(outcome string, payoutUnits, feeUnits float64, resets int64) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	m.payouts.Add(payoutUnits)
	m.fees.Add(feeUnits)
	m.bankruptResets.Add(float64(resets))
}

func (m *Metrics) SettleAttempt(result string) {
	if m == nil {
		return
	}
	m.settleAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) SideChannelError(channel string) {
	if m == nil {
		return
	}
	m.sideChannelErrs.WithLabelValues(channel).Inc()
}

func (m *Metrics) APIEvent(event string) {
	if m == nil {
		return
	}
	m.apiEvents.WithLabelValues(event).Inc()
}
