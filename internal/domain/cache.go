package domain

import (
	"context"
	"time"
)

// PriceCache keeps the last operator-pushed price per symbol. Settlement
// falls back to it when the quote feed has nothing.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price Price, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (Price, time.Time, error)
}

// RateLimiter admits at most limit calls per key within window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out exclusive leases. Acquire returns ErrLockHeld when
// another holder owns key; unlock is safe to call after the TTL expired.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one replayable round event. ID orders messages within a
// stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus relays round events between instances. Publish and Subscribe
// are fire-and-forget; the stream side lets a reconnecting client catch up.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
