package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/updown/internal/domain"
)

// sweepAt is the bucket count above which idle buckets are dropped.
const sweepAt = 1024

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter implements domain.RateLimiter with one token bucket per key.
// The bucket refills limit tokens per window and holds at most limit.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: map[string]*bucket{}, now: time.Now}
}

func (l *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	now := l.now()
	id := fmt.Sprintf("%s|%d|%s", key, limit, window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) > sweepAt {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > window {
				delete(l.buckets, k)
			}
		}
	}
	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
		l.buckets[id] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1), nil
}
