package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/updown/internal/domain"
)

// AccountService registers and authenticates participants.
type AccountService struct {
	accounts        domain.AccountStore
	startingBalance domain.Amount
	logger          *slog.Logger
	now             func() time.Time
}

// NewAccountService creates an AccountService. New accounts start with
// startingBalance credits.
func NewAccountService(accounts domain.AccountStore, startingBalance domain.Amount, logger *slog.Logger) *AccountService {
	return &AccountService{
		accounts:        accounts,
		startingBalance: startingBalance,
		logger:          logger,
		now:             time.Now,
	}
}

// Register creates an account and returns it with its API key populated.
func (s *AccountService) Register(ctx context.Context, name string) (domain.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Account{}, &domain.Error{Kind: domain.KindValidation, Code: "invalid_name", Message: "Name is required"}
	}
	acct := domain.Account{
		ID:        uuid.NewString(),
		Name:      name,
		APIKey:    "ud_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Balance:   s.startingBalance,
		CreatedAt: s.now().UTC(),
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		return domain.Account{}, fmt.Errorf("account_service: register %q: %w", name, err)
	}
	s.logger.InfoContext(ctx, "account_service: account registered",
		slog.String("account_id", acct.ID),
		slog.String("name", name),
	)
	return acct, nil
}

// Authenticate resolves an API key to its account.
func (s *AccountService) Authenticate(ctx context.Context, apiKey string) (domain.Account, error) {
	if apiKey == "" {
		return domain.Account{}, domain.ErrUnauthorized
	}
	acct, err := s.accounts.GetByAPIKey(ctx, apiKey)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Account{}, domain.ErrUnauthorized
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("account_service: authenticate: %w", err)
	}
	return acct, nil
}

// Get returns an account by id.
func (s *AccountService) Get(ctx context.Context, id string) (domain.Account, error) {
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account_service: get %s: %w", id, err)
	}
	return acct, nil
}

// Leaderboard returns the top accounts by balance.
func (s *AccountService) Leaderboard(ctx context.Context, limit int) ([]domain.Account, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	accts, err := s.accounts.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("account_service: leaderboard: %w", err)
	}
	return accts, nil
}
