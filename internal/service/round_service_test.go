package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/settlement"
)

func TestRoundServiceScenarios(t *testing.T) {
	for _, sc := range settlement.Scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			start := domain.Units(1000)

			_, err := h.svc.OpenRound(ctx, testRound, sc.Open)
			require.NoError(t, err)
			for _, w := range sc.Wagers {
				h.account(t, w.Participant, start)
				_, err := h.svc.PlaceWager(ctx, w.Participant, w.Side, w.Amount)
				require.NoError(t, err)
			}

			h.clock.Advance(7 * time.Hour)
			var res SettlementResult
			if sc.Refund {
				res, err = h.svc.EmergencyRefund(ctx, testRound)
			} else {
				res, err = h.svc.Settle(ctx, testRound, sc.Close)
			}
			require.NoError(t, err)
			assert.Equal(t, sc.Outcome, res.Round.Outcome)
			assert.Equal(t, sc.Fee, res.Round.Fee)

			for _, w := range sc.Wagers {
				got, err := h.svc.PayoutOf(ctx, testRound, w.Participant)
				require.NoError(t, err)
				assert.Equal(t, w.Payout, got, "payout for %s", w.Participant)
				assert.Equal(t, start-w.Amount+w.Payout, h.balance(t, w.Participant))
			}
		})
	}
}

func TestOpenRoundGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.OpenRound(ctx, "", openPx)
	assert.ErrorIs(t, err, domain.ErrInvalidRoundID)

	h.open(t)
	_, err = h.svc.OpenRound(ctx, testRound, openPx)
	assert.ErrorIs(t, err, domain.ErrRoundExists)
	assert.Equal(t, "round_service: open 2025-03-14: Round exists", err.Error())

	_, err = h.svc.OpenRound(ctx, "2025-03-17", openPx)
	assert.ErrorIs(t, err, domain.ErrPreviousOpen)

	h.clock.Advance(7 * time.Hour)
	_, err = h.svc.Settle(ctx, testRound, openPx+1)
	require.NoError(t, err)
	_, err = h.svc.OpenRound(ctx, "2025-03-17", openPx)
	assert.NoError(t, err)
}

func TestPlaceWagerRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account(t, "alice", domain.Units(15))

	_, err := h.svc.PlaceWager(ctx, "alice", domain.SideUp, domain.Units(10))
	assert.ErrorIs(t, err, domain.ErrNoActiveRound)

	h.open(t)

	cases := []struct {
		name   string
		side   domain.Side
		amount domain.Amount
		want   error
	}{
		{"bad side", domain.Side("sideways"), domain.Units(10), domain.ErrInvalidSide},
		{"below min", domain.SideUp, domain.Units(9), domain.ErrBelowMinBet},
		{"above max", domain.SideUp, domain.Units(1001), domain.ErrAboveMaxBet},
		{"insufficient", domain.SideUp, domain.Units(20), domain.ErrInsufficient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.PlaceWager(ctx, "alice", tc.side, tc.amount)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err = h.svc.PlaceWager(ctx, "alice", domain.SideUp, domain.Units(10))
	require.NoError(t, err)
	_, err = h.svc.PlaceWager(ctx, "alice", domain.SideDown, domain.Units(10))
	assert.ErrorIs(t, err, domain.ErrAlreadyBet)
	assert.Equal(t, domain.Units(5), h.balance(t, "alice"), "rejected wager must not debit")

	require.NoError(t, h.svc.SetPaused(ctx, true))
	h.account(t, "bob", domain.Units(100))
	_, err = h.svc.PlaceWager(ctx, "bob", domain.SideUp, domain.Units(10))
	assert.ErrorIs(t, err, domain.ErrPaused)
	require.NoError(t, h.svc.SetPaused(ctx, false))

	h.clock.Advance(7 * time.Hour) // 17:00 ET
	_, err = h.svc.PlaceWager(ctx, "bob", domain.SideUp, domain.Units(10))
	assert.ErrorIs(t, err, domain.ErrBettingClosed)
}

func TestPauseIsSharedThroughLedger(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t)
	h.account(t, "carol", domain.Units(100))

	other := NewRoundService(h.ledger, h.calendar, h.prices, DefaultRoundRules(), discardLogger()).
		WithClock(h.clock.Now)

	require.NoError(t, h.svc.SetPaused(ctx, true))
	paused, err := other.Paused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	_, err = other.PlaceWager(ctx, "carol", domain.SideUp, domain.Units(10))
	assert.ErrorIs(t, err, domain.ErrPaused)
	assert.Equal(t, domain.Units(100), h.balance(t, "carol"))

	restarted := NewRoundService(h.ledger, h.calendar, h.prices, DefaultRoundRules(), discardLogger())
	paused, err = restarted.Paused(ctx)
	require.NoError(t, err)
	assert.True(t, paused, "a new instance starts from the stored flag")

	require.NoError(t, other.SetPaused(ctx, false))
	_, err = h.svc.PlaceWager(ctx, "carol", domain.SideUp, domain.Units(10))
	require.NoError(t, err)
}

func TestPlaceWagerFor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account(t, "operator", domain.Units(100))
	h.account(t, "agent", domain.Units(50))
	h.account(t, "rival", domain.Units(50))
	h.open(t)

	w, err := h.svc.PlaceWagerFor(ctx, "operator", "agent", domain.SideUp, domain.Units(10))
	require.NoError(t, err)
	assert.Equal(t, "agent", w.Participant)
	assert.Equal(t, "operator", w.PlacedBy)
	assert.Equal(t, domain.Units(90), h.balance(t, "operator"))
	assert.Equal(t, domain.Units(50), h.balance(t, "agent"))

	_, err = h.svc.PlaceWagerFor(ctx, "operator", "agent", domain.SideDown, domain.Units(10))
	assert.ErrorIs(t, err, domain.ErrAlreadyBet)

	_, err = h.svc.PlaceWager(ctx, "rival", domain.SideDown, domain.Units(10))
	require.NoError(t, err)

	h.clock.Advance(7 * time.Hour)
	_, err = h.svc.Settle(ctx, testRound, openPx+100)
	require.NoError(t, err)
	assert.Equal(t, domain.Units(50)+19_500_000, h.balance(t, "agent"))
	assert.Equal(t, domain.Units(90), h.balance(t, "operator"))
}

func TestSettleGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t)

	_, err := h.svc.Settle(ctx, testRound, openPx+1)
	assert.ErrorIs(t, err, domain.ErrTooEarly)

	h.clock.Advance(7 * time.Hour)
	_, err = h.svc.Settle(ctx, testRound, openPx*120/100)
	assert.ErrorIs(t, err, domain.ErrPriceBounds)
	_, err = h.svc.Settle(ctx, testRound, openPx*85/100)
	assert.ErrorIs(t, err, domain.ErrPriceBounds)
	assert.Equal(t, domain.KindPrecondition, domain.KindOf(err))
	_, err = h.svc.Settle(ctx, "2025-01-01", openPx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.Settle(ctx, testRound, openPx*110/100)
	require.NoError(t, err)
	_, err = h.svc.Settle(ctx, testRound, openPx)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
	_, err = h.svc.EmergencyRefund(ctx, testRound)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	r, err := h.svc.GetRound(ctx, testRound)
	require.NoError(t, err)
	require.NotNil(t, r.ClosePrice)
	assert.Equal(t, openPx*110/100, *r.ClosePrice)
	assert.Equal(t, domain.RoundSettled, r.Status)
}

func TestBankruptcyReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account(t, "broke", domain.Units(10))
	h.account(t, "rich", domain.Units(500))
	h.open(t)

	_, err := h.svc.PlaceWager(ctx, "broke", domain.SideDown, domain.Units(10))
	require.NoError(t, err)
	_, err = h.svc.PlaceWager(ctx, "rich", domain.SideUp, domain.Units(10))
	require.NoError(t, err)
	assert.Zero(t, h.balance(t, "broke"))

	h.clock.Advance(7 * time.Hour)
	res, err := h.svc.Settle(ctx, testRound, openPx+1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Bankrupt)
	assert.Equal(t, domain.Units(1000), h.balance(t, "broke"))
	assert.Equal(t, domain.Units(490)+19_500_000, h.balance(t, "rich"))

	acct, err := h.ledger.GetByID(ctx, "rich")
	require.NoError(t, err)
	assert.Equal(t, 1, acct.TotalWins)
	assert.Equal(t, 1, acct.CurrentStreak)
	assert.Equal(t, domain.Amount(9_500_000), acct.TotalProfit)
}

func TestClaimFee(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account(t, "a", domain.Units(100))
	h.account(t, "b", domain.Units(100))
	h.open(t)

	_, err := h.svc.ClaimFee(ctx, testRound)
	assert.ErrorIs(t, err, domain.ErrNotSettled)

	_, err = h.svc.PlaceWager(ctx, "a", domain.SideUp, domain.Units(10))
	require.NoError(t, err)
	_, err = h.svc.PlaceWager(ctx, "b", domain.SideDown, domain.Units(10))
	require.NoError(t, err)
	h.clock.Advance(7 * time.Hour)
	_, err = h.svc.Settle(ctx, testRound, openPx-1)
	require.NoError(t, err)

	fee, err := h.svc.ClaimFee(ctx, testRound)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(500_000), fee)
	_, err = h.svc.ClaimFee(ctx, testRound)
	assert.ErrorIs(t, err, domain.ErrFeeClaimed)

	const next = domain.RoundID("2025-03-17")
	_, err = h.svc.OpenRound(ctx, next, openPx)
	require.NoError(t, err)
	_, err = h.svc.EmergencyRefund(ctx, next)
	require.NoError(t, err)
	_, err = h.svc.ClaimFee(ctx, next)
	assert.ErrorIs(t, err, domain.ErrNoFeeOnRefund)
}

func TestPayoutOfBeforeSettlement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.account(t, "a", domain.Units(100))
	h.open(t)
	_, err := h.svc.PlaceWager(ctx, "a", domain.SideUp, domain.Units(10))
	require.NoError(t, err)

	_, err = h.svc.PayoutOf(ctx, testRound, "a")
	assert.ErrorIs(t, err, domain.ErrNotSettled)

	_, err = h.svc.EmergencyRefund(ctx, testRound)
	require.NoError(t, err)
	_, err = h.svc.PayoutOf(ctx, testRound, "nobody")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestSideChannelsAreBestEffort(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	chain := &fakeChain{err: fmt.Errorf("rpc unavailable")}
	events := &fakeEvents{}
	archive := &fakeArchive{}
	h.svc.WithChainMirror(chain).WithEvents(events).WithArchive(archive)

	r, err := h.svc.OpenRound(ctx, testRound, openPx)
	require.NoError(t, err)
	assert.Empty(t, r.OpenTx)

	chain.err = nil
	h.clock.Advance(7 * time.Hour)
	res, err := h.svc.Settle(ctx, testRound, openPx)
	require.NoError(t, err)
	assert.Equal(t, "0xsettle2025-03-14", res.Round.SettleTx)

	stored, err := h.svc.GetRound(ctx, testRound)
	require.NoError(t, err)
	assert.Equal(t, "0xsettle2025-03-14", stored.SettleTx)

	assert.Equal(t, []string{domain.EventRoundOpened, domain.EventRoundSettled}, events.types())
	require.Len(t, archive.receipts, 1)
	assert.Equal(t, domain.OutcomeTie, archive.receipts[0].Round.Outcome)

	entries, err := h.audit.List(ctx, testRound, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSettleHonoursLock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t)
	h.clock.Advance(7 * time.Hour)
	h.svc.WithLocks(failingLocks{})

	_, err := h.svc.Settle(ctx, testRound, openPx)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, domain.KindPrecondition, domain.KindOf(err))
}

func TestSettleFromFeedFallsBackToPushed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t)
	h.clock.Advance(7 * time.Hour)
	h.quotes.err = errFeedDown

	_, err := h.svc.SettleFromFeed(ctx, testRound)
	assert.ErrorIs(t, err, domain.ErrNoPrice)

	require.NoError(t, h.prices.PushPrice(ctx, openPx-5, time.Time{}))
	res, err := h.svc.SettleFromFeed(ctx, testRound)
	require.NoError(t, err)
	require.NotNil(t, res.Round.ClosePrice)
	assert.Equal(t, openPx-5, *res.Round.ClosePrice)
}

func TestOpenDailyRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.quotes.quote.Open = openPx + 7

	r, err := h.svc.OpenDailyRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, testRound, r.ID)
	assert.Equal(t, openPx+7, r.OpenPrice)

	again, err := h.svc.OpenDailyRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, r.ID, again.ID)

	pool, err := h.svc.CurrentPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, testRound, pool.RoundID)
}

func TestConcurrentWagersKeepTotals(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t)

	const n = 40
	for i := 0; i < n; i++ {
		h.account(t, fmt.Sprintf("p%02d", i), domain.Units(100))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			side := domain.SideUp
			if i%2 == 1 {
				side = domain.SideDown
			}
			id := fmt.Sprintf("p%02d", i)
			_, _ = h.svc.PlaceWager(ctx, id, side, domain.Units(10))
			_, _ = h.svc.PlaceWager(ctx, id, side, domain.Units(10))
		}(i)
	}
	wg.Wait()

	pool, err := h.svc.CurrentPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, pool.Participants)
	assert.Equal(t, domain.Units(10*n/2), pool.TotalUp)
	assert.Equal(t, domain.Units(10*n/2), pool.TotalDown)

	ws, err := h.svc.ListWagers(ctx, testRound)
	require.NoError(t, err)
	assert.Len(t, ws, n)
}
