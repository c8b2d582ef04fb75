package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/updown/internal/domain"
)

type pricePoint struct {
	price domain.Price
	ts    time.Time
}

// PriceCache implements domain.PriceCache in memory.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

var _ domain.PriceCache = (*PriceCache)(nil)

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: map[string]pricePoint{}}
}

func (c *PriceCache) SetPrice(_ context.Context, symbol string, price domain.Price, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = pricePoint{price, ts}
	return nil
}

func (c *PriceCache) GetPrice(_ context.Context, symbol string) (domain.Price, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p.price, p.ts, nil
}
