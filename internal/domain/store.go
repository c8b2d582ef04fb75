package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Ledger is the persistent record of rounds and wagers. Reads outside a
// transaction see committed state only; every write goes through InTx so
// that a wager placement or a settlement sweep commits as one unit.
type Ledger interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetRound(ctx context.Context, id RoundID) (Round, error)
	// FindOpenRound returns the single round in status open, or ErrNotFound.
	FindOpenRound(ctx context.Context) (Round, error)
	ListRounds(ctx context.Context, opts ListOpts) ([]Round, error)

	GetWager(ctx context.Context, roundID RoundID, participant string) (Wager, error)
	ListWagers(ctx context.Context, roundID RoundID) ([]Wager, error)
	ListWagersByParticipant(ctx context.Context, participant string, opts ListOpts) ([]Wager, error)

	// Paused reports the market-wide wagering suspension flag.
	Paused(ctx context.Context) (bool, error)
}

// LedgerTx is the write surface available inside Ledger.InTx. Lock methods
// hold the row until the transaction ends.
type LedgerTx interface {
	FindOpenRound(ctx context.Context) (Round, error)
	LockRound(ctx context.Context, id RoundID) (Round, error)
	// InsertRound fails with ErrRoundExists for a reused id and
	// ErrPreviousOpen while another round is open.
	InsertRound(ctx context.Context, r Round) error
	UpdateRound(ctx context.Context, r Round) error

	// InsertWager fails with ErrAlreadyBet on a second wager by the same
	// participant in the same round.
	InsertWager(ctx context.Context, w Wager) error
	ListWagers(ctx context.Context, roundID RoundID) ([]Wager, error)
	UpdateWager(ctx context.Context, w Wager) error

	LockAccount(ctx context.Context, id string) (Account, error)
	UpdateAccount(ctx context.Context, a Account) error
	// ResetBankrupt raises every balance <= 0 to floor and returns the
	// number of accounts touched.
	ResetBankrupt(ctx context.Context, floor Amount) (int64, error)

	// Paused reads the suspension flag and holds it against a concurrent
	// SetPaused until the transaction ends.
	Paused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
}

// AccountStore persists participants outside of the wagering transaction.
type AccountStore interface {
	Create(ctx context.Context, a Account) error
	GetByID(ctx context.Context, id string) (Account, error)
	GetByAPIKey(ctx context.Context, key string) (Account, error)
	Leaderboard(ctx context.Context, limit int) ([]Account, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	RoundID   RoundID        `json:"round_id,omitempty"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, roundID RoundID, detail map[string]any) error
	List(ctx context.Context, roundID RoundID, opts ListOpts) ([]AuditEntry, error)
}
