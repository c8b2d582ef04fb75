package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updown/internal/domain"
)

const roundCols = `id, status, open_price, close_price, outcome, total_up, total_down,
	up_count, down_count, fee, fee_claimed, opened_at, settled_at, open_tx, settle_tx`

const wagerCols = `id, round_id, participant_id, placed_by, side, amount, result, payout,
	claimed, placed_at, settled_at`

// Ledger implements domain.Ledger. Writes run in a single pgx transaction
// and take row locks with SELECT ... FOR UPDATE.
type Ledger struct {
	pool *pgxpool.Pool
}

var (
	_ domain.Ledger   = (*Ledger)(nil)
	_ domain.LedgerTx = (*ledgerTx)(nil)
)

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// InTx runs fn in a transaction that commits only when fn returns nil.
func (l *Ledger) InTx(ctx context.Context, fn func(domain.LedgerTx) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ledgerTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (l *Ledger) GetRound(ctx context.Context, id domain.RoundID) (domain.Round, error) {
	return getRound(ctx, l.pool, `SELECT `+roundCols+` FROM rounds WHERE id = $1`, id)
}

func (l *Ledger) FindOpenRound(ctx context.Context) (domain.Round, error) {
	return getRound(ctx, l.pool, `SELECT `+roundCols+` FROM rounds WHERE status = 'open'`)
}

func (l *Ledger) ListRounds(ctx context.Context, opts domain.ListOpts) ([]domain.Round, error) {
	q := `SELECT ` + roundCols + ` FROM rounds WHERE 1=1`
	q, args := applyOpts(q, "opened_at", "id DESC", opts)
	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds: %w", err)
	}
	return collect(rows, scanRound)
}

func (l *Ledger) GetWager(ctx context.Context, roundID domain.RoundID, participant string) (domain.Wager, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+wagerCols+` FROM wagers WHERE round_id = $1 AND participant_id = $2`,
		roundID, participant)
	w, err := scanWager(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Wager{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Wager{}, fmt.Errorf("postgres: get wager %s/%s: %w", roundID, participant, err)
	}
	return w, nil
}

func (l *Ledger) ListWagers(ctx context.Context, roundID domain.RoundID) ([]domain.Wager, error) {
	return listWagers(ctx, l.pool, roundID, "")
}

func (l *Ledger) ListWagersByParticipant(ctx context.Context, participant string, opts domain.ListOpts) ([]domain.Wager, error) {
	q := `SELECT ` + wagerCols + ` FROM wagers WHERE participant_id = $1`
	q, args := applyOpts(q, "placed_at", "round_id DESC", opts, participant)
	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wagers of %s: %w", participant, err)
	}
	return collect(rows, scanWager)
}

func (l *Ledger) Paused(ctx context.Context) (bool, error) {
	return readPaused(ctx, l.pool, "")
}

// ledgerTx is the write surface handed to InTx callbacks.
type ledgerTx struct {
	q querier
}

func (t *ledgerTx) FindOpenRound(ctx context.Context) (domain.Round, error) {
	return getRound(ctx, t.q, `SELECT `+roundCols+` FROM rounds WHERE status = 'open' FOR UPDATE`)
}

func (t *ledgerTx) LockRound(ctx context.Context, id domain.RoundID) (domain.Round, error) {
	return getRound(ctx, t.q, `SELECT `+roundCols+` FROM rounds WHERE id = $1 FOR UPDATE`, id)
}

func (t *ledgerTx) InsertRound(ctx context.Context, r domain.Round) error {
	var exists bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM rounds WHERE id = $1)`, r.ID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check round %s: %w", r.ID, err)
	}
	if exists {
		return domain.ErrRoundExists
	}
	if r.Status == domain.RoundOpen {
		if _, err := t.FindOpenRound(ctx); err == nil {
			return domain.ErrPreviousOpen
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}

	_, err := t.q.Exec(ctx, `INSERT INTO rounds (`+roundCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		roundArgs(r)...)
	if name, ok := uniqueViolation(err); ok {
		// Lost a race with a concurrent insert.
		if name == "rounds_single_open_idx" {
			return domain.ErrPreviousOpen
		}
		return domain.ErrRoundExists
	}
	if err != nil {
		return fmt.Errorf("postgres: insert round %s: %w", r.ID, err)
	}
	return nil
}

func (t *ledgerTx) UpdateRound(ctx context.Context, r domain.Round) error {
	tag, err := t.q.Exec(ctx, `UPDATE rounds SET
			status = $2, open_price = $3, close_price = $4, outcome = $5,
			total_up = $6, total_down = $7, up_count = $8, down_count = $9,
			fee = $10, fee_claimed = $11, opened_at = $12, settled_at = $13,
			open_tx = $14, settle_tx = $15
		WHERE id = $1`, roundArgs(r)...)
	if err != nil {
		return fmt.Errorf("postgres: update round %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) InsertWager(ctx context.Context, w domain.Wager) error {
	_, err := t.q.Exec(ctx, `INSERT INTO wagers (`+wagerCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID, w.RoundID, w.Participant, w.PlacedBy, string(w.Side), int64(w.Amount),
		string(w.Result), int64(w.Payout), w.Claimed, w.PlacedAt, w.SettledAt)
	if name, ok := uniqueViolation(err); ok && name == "wagers_round_participant_key" {
		return domain.ErrAlreadyBet
	}
	if err != nil {
		return fmt.Errorf("postgres: insert wager %s: %w", w.ID, err)
	}
	return nil
}

func (t *ledgerTx) ListWagers(ctx context.Context, roundID domain.RoundID) ([]domain.Wager, error) {
	return listWagers(ctx, t.q, roundID, " FOR UPDATE")
}

func (t *ledgerTx) UpdateWager(ctx context.Context, w domain.Wager) error {
	tag, err := t.q.Exec(ctx, `UPDATE wagers SET result = $3, payout = $4, claimed = $5, settled_at = $6
		WHERE round_id = $1 AND participant_id = $2`,
		w.RoundID, w.Participant, string(w.Result), int64(w.Payout), w.Claimed, w.SettledAt)
	if err != nil {
		return fmt.Errorf("postgres: update wager %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) LockAccount(ctx context.Context, id string) (domain.Account, error) {
	return getAccount(ctx, t.q, `SELECT `+accountCols+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
}

func (t *ledgerTx) UpdateAccount(ctx context.Context, a domain.Account) error {
	tag, err := t.q.Exec(ctx, `UPDATE accounts SET
			balance = $2, total_bets = $3, total_wins = $4, total_losses = $5,
			total_profit = $6, current_streak = $7, best_streak = $8, last_bet_at = $9
		WHERE id = $1`,
		a.ID, int64(a.Balance), a.TotalBets, a.TotalWins, a.TotalLosses,
		int64(a.TotalProfit), a.CurrentStreak, a.BestStreak, a.LastBetAt)
	if err != nil {
		return fmt.Errorf("postgres: update account %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) ResetBankrupt(ctx context.Context, floor domain.Amount) (int64, error) {
	tag, err := t.q.Exec(ctx, `UPDATE accounts SET balance = $1 WHERE balance <= 0`, int64(floor))
	if err != nil {
		return 0, fmt.Errorf("postgres: reset bankrupt: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *ledgerTx) Paused(ctx context.Context) (bool, error) {
	return readPaused(ctx, t.q, " FOR SHARE")
}

func (t *ledgerTx) SetPaused(ctx context.Context, paused bool) error {
	_, err := t.q.Exec(ctx, `INSERT INTO market_settings (id, paused, updated_at) VALUES (TRUE, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET paused = EXCLUDED.paused, updated_at = EXCLUDED.updated_at`, paused)
	if err != nil {
		return fmt.Errorf("postgres: set paused: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Row helpers
// ---------------------------------------------------------------------------

// readPaused treats a missing settings row as not paused.
func readPaused(ctx context.Context, q querier, lock string) (bool, error) {
	var paused bool
	err := q.QueryRow(ctx, `SELECT paused FROM market_settings WHERE id`+lock).Scan(&paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: read paused: %w", err)
	}
	return paused, nil
}

func roundArgs(r domain.Round) []any {
	var closePx *int64
	if r.ClosePrice != nil {
		v := int64(*r.ClosePrice)
		closePx = &v
	}
	return []any{
		r.ID, string(r.Status), int64(r.OpenPrice), closePx, string(r.Outcome),
		int64(r.TotalUp), int64(r.TotalDown), r.UpCount, r.DownCount,
		int64(r.Fee), r.FeeClaimed, r.OpenedAt, r.SettledAt, r.OpenTx, r.SettleTx,
	}
}

func getRound(ctx context.Context, q querier, sql string, args ...any) (domain.Round, error) {
	r, err := scanRound(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Round{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Round{}, fmt.Errorf("postgres: get round: %w", err)
	}
	return r, nil
}

func scanRound(row pgx.Row) (domain.Round, error) {
	var (
		r                     domain.Round
		status, outcome       string
		openPx, up, down, fee int64
		closePx               *int64
	)
	err := row.Scan(&r.ID, &status, &openPx, &closePx, &outcome, &up, &down,
		&r.UpCount, &r.DownCount, &fee, &r.FeeClaimed, &r.OpenedAt, &r.SettledAt,
		&r.OpenTx, &r.SettleTx)
	if err != nil {
		return domain.Round{}, err
	}
	r.Status = domain.RoundStatus(status)
	r.Outcome = domain.Outcome(outcome)
	r.OpenPrice = domain.Price(openPx)
	if closePx != nil {
		p := domain.Price(*closePx)
		r.ClosePrice = &p
	}
	r.TotalUp, r.TotalDown, r.Fee = domain.Amount(up), domain.Amount(down), domain.Amount(fee)
	return r, nil
}

func listWagers(ctx context.Context, q querier, roundID domain.RoundID, lock string) ([]domain.Wager, error) {
	rows, err := q.Query(ctx,
		`SELECT `+wagerCols+` FROM wagers WHERE round_id = $1 ORDER BY placed_at, id`+lock, roundID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wagers %s: %w", roundID, err)
	}
	return collect(rows, scanWager)
}

func scanWager(row pgx.Row) (domain.Wager, error) {
	var (
		w              domain.Wager
		side, result   string
		amount, payout int64
	)
	err := row.Scan(&w.ID, &w.RoundID, &w.Participant, &w.PlacedBy, &side, &amount,
		&result, &payout, &w.Claimed, &w.PlacedAt, &w.SettledAt)
	if err != nil {
		return domain.Wager{}, err
	}
	w.Side = domain.Side(side)
	w.Result = domain.WagerResult(result)
	w.Amount, w.Payout = domain.Amount(amount), domain.Amount(payout)
	return w, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return out, nil
}

// applyOpts appends time filters, ordering and pagination to q. Any
// positional args already referenced by q are passed in args.
func applyOpts(q, timeCol, order string, opts domain.ListOpts, args ...any) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		q += fmt.Sprintf(" AND %s >= $%d", timeCol, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		q += fmt.Sprintf(" AND %s <= $%d", timeCol, len(args))
	}
	q += " ORDER BY " + order
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return q, args
}
