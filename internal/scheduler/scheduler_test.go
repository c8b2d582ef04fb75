package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/service"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestParseCron(t *testing.T) {
	valid := []string{"31 9 * * 1-5", "*/15 * * * *", "0 0 1,15 * *", "0 12 * 1-12/3 0,7", "5/20 * * * *"}
	for _, expr := range valid {
		_, err := ParseCron(expr)
		assert.NoError(t, err, expr)
	}

	invalid := []string{"", "* * * *", "60 * * * *", "* 24 * * *", "* * 0 * *", "* * * 13 *", "* * * * 8", "5-1 * * * *", "*/0 * * * *", "a * * * *"}
	for _, expr := range invalid {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestNextInMarketTimezone(t *testing.T) {
	loc := newYork(t)
	open, err := ParseCron("31 9 * * 1-5")
	require.NoError(t, err)

	cases := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{"same morning", time.Date(2025, 3, 14, 8, 0, 0, 0, loc), time.Date(2025, 3, 14, 9, 31, 0, 0, loc)},
		{"exactly at slot moves on", time.Date(2025, 3, 13, 9, 31, 0, 0, loc), time.Date(2025, 3, 14, 9, 31, 0, 0, loc)},
		{"friday evening skips weekend", time.Date(2025, 3, 14, 17, 0, 0, 0, loc), time.Date(2025, 3, 17, 9, 31, 0, 0, loc)},
		{"input in utc", time.Date(2025, 3, 14, 13, 0, 0, 0, time.UTC), time.Date(2025, 3, 14, 9, 31, 0, 0, loc)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := open.Next(tc.after, loc)
			assert.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestDayFieldsCombineWithOr(t *testing.T) {
	s, err := ParseCron("0 0 13 * 5")
	require.NoError(t, err)
	// 2025-06-06 is a Friday and not the 13th.
	got := s.Next(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC), got)
}

func TestSchedulerAddRejectsBadCron(t *testing.T) {
	s := New(time.UTC, quiet)
	require.Error(t, s.Add("bad", "61 * * * *", func(context.Context) error { return nil }))
	require.NoError(t, s.Add("ok", "* * * * *", func(context.Context) error { return nil }))
	assert.Len(t, s.Jobs(), 1)
	assert.Contains(t, s.NextRuns(), "ok")
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	s := New(time.UTC, quiet)
	require.NoError(t, s.Add("idle", "0 0 1 1 *", func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type fakeRounds struct {
	pool     domain.PoolSnapshot
	poolErr  error
	results  []error
	settled  int
	openedID domain.RoundID
}

func (f *fakeRounds) OpenDailyRound(context.Context) (domain.Round, error) {
	return domain.Round{ID: f.openedID, OpenPrice: 600_00000000}, nil
}

func (f *fakeRounds) CurrentPool(context.Context) (domain.PoolSnapshot, error) {
	return f.pool, f.poolErr
}

func (f *fakeRounds) SettleFromFeed(_ context.Context, id domain.RoundID) (service.SettlementResult, error) {
	i := f.settled
	f.settled++
	if i < len(f.results) && f.results[i] != nil {
		return service.SettlementResult{}, fmt.Errorf("round_service: settle %s: %w", id, f.results[i])
	}
	return service.SettlementResult{Round: domain.Round{ID: id}}, nil
}

type fakeGate struct{ errs []error }

func (g *fakeGate) FreshPushed(context.Context, time.Duration) (domain.Price, error) {
	if len(g.errs) == 0 {
		return 600_00000000, nil
	}
	err := g.errs[0]
	g.errs = g.errs[1:]
	return 0, err
}

type fakeAlerter struct {
	calls    int
	attempts int
}

func (a *fakeAlerter) SettleFailed(_ context.Context, _ domain.RoundID, attempts int, _ error) error {
	a.calls++
	a.attempts = attempts
	return nil
}

func newJobs(rounds *fakeRounds, gate *fakeGate, policy RetryPolicy) (*Jobs, *fakeAlerter, *int) {
	alerts := &fakeAlerter{}
	sleeps := 0
	j := NewJobs(rounds, gate, policy, quiet).WithAlerter(alerts)
	j.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}
	return j, alerts, &sleeps
}

func TestSettleRoundWaitsForFreshPrice(t *testing.T) {
	rounds := &fakeRounds{pool: domain.PoolSnapshot{RoundID: "2025-03-14"}}
	gate := &fakeGate{errs: []error{domain.ErrNoPrice, domain.ErrStalePrice}}
	j, alerts, sleeps := newJobs(rounds, gate, DefaultRetryPolicy())

	require.NoError(t, j.SettleRound(context.Background()))
	assert.Equal(t, 1, rounds.settled)
	assert.Equal(t, 2, *sleeps)
	assert.Zero(t, alerts.calls)
}

func TestSettleRoundRetriesPreconditions(t *testing.T) {
	rounds := &fakeRounds{
		pool:    domain.PoolSnapshot{RoundID: "2025-03-14"},
		results: []error{domain.ErrTooEarly, domain.ErrLockHeld, nil},
	}
	j, _, _ := newJobs(rounds, &fakeGate{}, DefaultRetryPolicy())

	require.NoError(t, j.SettleRound(context.Background()))
	assert.Equal(t, 3, rounds.settled)
}

func TestSettleRoundRetriesOutOfBandQuote(t *testing.T) {
	rounds := &fakeRounds{
		pool:    domain.PoolSnapshot{RoundID: "2025-03-14"},
		results: []error{domain.ErrPriceBounds, nil},
	}
	j, alerts, sleeps := newJobs(rounds, &fakeGate{}, DefaultRetryPolicy())

	require.NoError(t, j.SettleRound(context.Background()))
	assert.Equal(t, 2, rounds.settled)
	assert.Equal(t, 1, *sleeps)
	assert.Zero(t, alerts.calls)
}

func TestSettleRoundStopsOnPermanentError(t *testing.T) {
	rounds := &fakeRounds{
		pool:    domain.PoolSnapshot{RoundID: "2025-03-14"},
		results: []error{domain.ErrNotFound, nil},
	}
	j, alerts, _ := newJobs(rounds, &fakeGate{}, DefaultRetryPolicy())

	err := j.SettleRound(context.Background())
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, rounds.settled)
	assert.Equal(t, 1, alerts.calls)
}

func TestSettleRoundExhaustsAndAlerts(t *testing.T) {
	rounds := &fakeRounds{pool: domain.PoolSnapshot{RoundID: "2025-03-14"}}
	stale := make([]error, 5)
	for i := range stale {
		stale[i] = domain.ErrStalePrice
	}
	policy := RetryPolicy{Interval: time.Second, MaxAttempts: 5, MaxPriceAge: time.Minute}
	j, alerts, sleeps := newJobs(rounds, &fakeGate{errs: stale}, policy)

	err := j.SettleRound(context.Background())
	require.ErrorIs(t, err, domain.ErrStalePrice)
	assert.Zero(t, rounds.settled)
	assert.Equal(t, 4, *sleeps)
	assert.Equal(t, 1, alerts.calls)
	assert.Equal(t, 5, alerts.attempts)
}

func TestSettleRoundTreatsAlreadySettledAsDone(t *testing.T) {
	rounds := &fakeRounds{
		pool:    domain.PoolSnapshot{RoundID: "2025-03-14"},
		results: []error{domain.ErrAlreadySettled},
	}
	j, alerts, _ := newJobs(rounds, &fakeGate{}, DefaultRetryPolicy())

	require.NoError(t, j.SettleRound(context.Background()))
	assert.Zero(t, alerts.calls)
}

func TestSettleRoundWithoutOpenRound(t *testing.T) {
	rounds := &fakeRounds{poolErr: domain.ErrNoActiveRound}
	j, _, _ := newJobs(rounds, &fakeGate{}, DefaultRetryPolicy())

	require.NoError(t, j.SettleRound(context.Background()))
	assert.Zero(t, rounds.settled)
}

func TestSettleRoundHonoursCancellation(t *testing.T) {
	rounds := &fakeRounds{pool: domain.PoolSnapshot{RoundID: "2025-03-14"}}
	j, _, _ := newJobs(rounds, &fakeGate{errs: []error{domain.ErrStalePrice}}, DefaultRetryPolicy())
	j.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	err := j.SettleRound(context.Background())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRegisterAddsBothJobs(t *testing.T) {
	s := New(newYork(t), quiet)
	j, _, _ := newJobs(&fakeRounds{openedID: "2025-03-14"}, &fakeGate{}, DefaultRetryPolicy())
	require.NoError(t, j.Register(s, "31 9 * * 1-5", "30 16 * * 1-5"))
	require.Len(t, s.Jobs(), 2)
	require.NoError(t, j.OpenRound(context.Background()))
}
