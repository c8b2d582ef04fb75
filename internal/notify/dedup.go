package notify

import (
	"sync"
	"time"
)

// Dedup remembers alert keys so a retry storm does not page the operator
// once per attempt. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // key -> last delivered
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup considers a key a duplicate if it was seen within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether key was seen within the window. A fresh or
// expired key is recorded and false is returned. Expired entries are swept
// on every call, so the map is bounded by the alerts of one window.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}

// Forget drops key so the next alert for it is delivered. Used when every
// sender failed.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}
