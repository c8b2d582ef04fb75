package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updown/internal/domain"
)

// AuditStore implements domain.AuditStore. Detail is stored as JSONB.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Log(ctx context.Context, event string, roundID domain.RoundID, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, round_id, detail) VALUES ($1, $2, $3)`,
		event, roundID, raw); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first; an empty roundID lists every round.
func (s *AuditStore) List(ctx context.Context, roundID domain.RoundID, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	q := `SELECT id, event, round_id, detail, created_at FROM audit_log WHERE ($1 = '' OR round_id = $1)`
	q, args := applyOpts(q, "created_at", "created_at DESC, id DESC", opts, string(roundID))
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return collect(rows, func(row pgx.Row) (domain.AuditEntry, error) {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.Event, &e.RoundID, &raw, &e.CreatedAt); err != nil {
			return domain.AuditEntry{}, err
		}
		if raw != nil {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return domain.AuditEntry{}, err
			}
		}
		return e, nil
	})
}
