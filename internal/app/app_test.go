package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updown/internal/config"
	"github.com/alanyoungcy/updown/internal/domain"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func devConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Mode = "dev"
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestWireDevIsInProcess(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), devConfig(t), quiet)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Ledger)
	assert.NotNil(t, deps.Accounts)
	assert.NotNil(t, deps.Audit)
	assert.NotNil(t, deps.Pushed)
	assert.NotNil(t, deps.Bus)
	assert.NotNil(t, deps.Limiter)
	assert.Nil(t, deps.Locks)
	assert.Nil(t, deps.Escrow, "no chain backend unless asked for")
	assert.Nil(t, deps.Receipts)
	assert.Nil(t, deps.Kafka)
	assert.Empty(t, deps.Checks)
	assert.NotNil(t, deps.publishers())
}

func TestWireSimulatedEscrow(t *testing.T) {
	cfg := devConfig(t)
	cfg.Escrow.Simulate = true

	deps, cleanup, err := Wire(context.Background(), cfg, quiet)
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, deps.Escrow)

	ctx := context.Background()
	id := domain.RoundID("2025-03-14")
	_, err = deps.Escrow.OpenRound(ctx, id, domain.Price(500_00000000))
	require.NoError(t, err)

	_, err = deps.Escrow.BetFor(ctx, deps.Escrow.Settler(), domain.SideUp, domain.Units(5))
	require.NoError(t, err)
	pool, err := deps.Escrow.CurrentPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Units(5), pool.TotalUp)
}

func TestBuildCore(t *testing.T) {
	cfg := devConfig(t)
	a := New(cfg, quiet)
	deps, cleanup, err := Wire(context.Background(), cfg, quiet)
	require.NoError(t, err)
	defer cleanup()

	core, err := a.buildCore(deps)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", core.Calendar.Location().String())
	assert.Equal(t, "SPY", core.Prices.Symbol())
	paused, err := core.Rounds.Paused(context.Background())
	require.NoError(t, err)
	assert.False(t, paused)

	acct, err := core.Accounts.Register(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.Units(10_000), acct.Balance)

	cfg.Market.Timezone = "Nowhere/Special"
	_, err = New(cfg, quiet).buildCore(deps)
	assert.Error(t, err)
}

func TestRoundRulesFollowMarketConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Market.FeeBps = 250
	cfg.Market.EnforceHours = false

	rules := RoundRules(cfg.Market)
	assert.Equal(t, domain.Units(10), rules.MinBet)
	assert.Equal(t, domain.Units(1000), rules.MaxBet)
	assert.Equal(t, int64(250), rules.FeeBps)
	assert.Equal(t, 6*time.Hour, rules.MinSettleDelay)
	assert.Equal(t, domain.Units(1000), rules.BankruptcyFloor)
	assert.False(t, rules.EnforceHours)
}
