package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updown/internal/domain"
)

// newTestClient connects to UPDOWN_TEST_REDIS_ADDR under a throwaway prefix.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("UPDOWN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("UPDOWN_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, KeyPrefix: "updown-test-" + uuid.NewString()[:8] + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeyNamespacing(t *testing.T) {
	c := &Client{prefix: "updown:"}
	assert.Equal(t, "updown:lock:settle:2025-03-14", c.Key("lock", "settle:2025-03-14"))
}

func TestLockExclusive(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager(newTestClient(t))

	release, err := lm.Acquire(ctx, "settle:2025-03-14", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "settle:2025-03-14", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	release()
	release()
	again, err := lm.Acquire(ctx, "settle:2025-03-14", time.Minute)
	require.NoError(t, err)
	again()
}

func TestPriceCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	pc := NewPriceCache(newTestClient(t), time.Hour)

	_, _, err := pc.GetPrice(ctx, "^GSPC")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	at := time.Date(2025, 3, 14, 20, 29, 0, 0, time.UTC)
	require.NoError(t, pc.SetPrice(ctx, "^GSPC", 562_345_000000, at))
	p, ts, err := pc.GetPrice(ctx, "^GSPC")
	require.NoError(t, err)
	assert.Equal(t, domain.Price(562_345_000000), p)
	assert.True(t, ts.Equal(at))
}

func TestRateLimiterWindow(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(newTestClient(t))

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBusStream(t *testing.T) {
	ctx := context.Background()
	sb := NewSignalBus(newTestClient(t))

	msgs, err := sb.StreamRead(ctx, "rounds", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(ctx, "rounds", []byte(`{"type":"round_opened"}`)))
	msgs, err = sb.StreamRead(ctx, "rounds", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"type":"round_opened"}`, string(msgs[0].Payload))
}
