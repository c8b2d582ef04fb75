package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updown/internal/domain"
)

const accountCols = `id, name, api_key, balance, total_bets, total_wins, total_losses,
	total_profit, current_streak, best_streak, created_at, last_bet_at`

// AccountStore implements domain.AccountStore.
type AccountStore struct {
	pool *pgxpool.Pool
}

var _ domain.AccountStore = (*AccountStore)(nil)

func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Create inserts a; a duplicate id, name or key yields domain.ErrAlreadyExists.
func (s *AccountStore) Create(ctx context.Context, a domain.Account) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO accounts (`+accountCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Name, a.APIKey, int64(a.Balance), a.TotalBets, a.TotalWins, a.TotalLosses,
		int64(a.TotalProfit), a.CurrentStreak, a.BestStreak, a.CreatedAt, a.LastBetAt)
	if _, ok := uniqueViolation(err); ok {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("postgres: create account %s: %w", a.Name, err)
	}
	return nil
}

func (s *AccountStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	return getAccount(ctx, s.pool, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id)
}

func (s *AccountStore) GetByAPIKey(ctx context.Context, key string) (domain.Account, error) {
	return getAccount(ctx, s.pool, `SELECT `+accountCols+` FROM accounts WHERE api_key = $1`, key)
}

// Leaderboard ranks by balance, ties broken by name.
func (s *AccountStore) Leaderboard(ctx context.Context, limit int) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountCols+` FROM accounts ORDER BY balance DESC, name LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: leaderboard: %w", err)
	}
	return collect(rows, scanAccount)
}

func getAccount(ctx context.Context, q querier, sql string, args ...any) (domain.Account, error) {
	a, err := scanAccount(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: get account: %w", err)
	}
	return a, nil
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		a               domain.Account
		balance, profit int64
	)
	err := row.Scan(&a.ID, &a.Name, &a.APIKey, &balance, &a.TotalBets, &a.TotalWins,
		&a.TotalLosses, &profit, &a.CurrentStreak, &a.BestStreak, &a.CreatedAt, &a.LastBetAt)
	if err != nil {
		return domain.Account{}, err
	}
	a.Balance, a.TotalProfit = domain.Amount(balance), domain.Amount(profit)
	return a, nil
}
