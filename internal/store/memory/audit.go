package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/updown/internal/domain"
)

// AuditLog implements domain.AuditStore in memory.
type AuditLog struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

var _ domain.AuditStore = (*AuditLog)(nil)

func NewAuditLog() *AuditLog { return &AuditLog{} }

func (a *AuditLog) Log(_ context.Context, event string, roundID domain.RoundID, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		RoundID:   roundID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns matching entries newest first.
func (a *AuditLog) List(_ context.Context, roundID domain.RoundID, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if roundID != "" && e.RoundID != roundID {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts), nil
}
