package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/server/middleware"
)

// Wagering is the agent-facing side of the round service.
type Wagering interface {
	PlaceWager(ctx context.Context, participant string, side domain.Side, amount domain.Amount) (domain.Wager, error)
	TodayWager(ctx context.Context, participant string) (domain.Wager, error)
	History(ctx context.Context, participant string, opts domain.ListOpts) ([]domain.Wager, error)
}

// Balances reads an account after a wager.
type Balances interface {
	Get(ctx context.Context, id string) (domain.Account, error)
}

// BetHandler serves an agent's own wagers.
type BetHandler struct {
	rounds   Wagering
	accounts Balances
	logger   *slog.Logger
}

func NewBetHandler(rounds Wagering, accounts Balances, logger *slog.Logger) *BetHandler {
	return &BetHandler{rounds: rounds, accounts: accounts, logger: logger}
}

type betRequest struct {
	Direction string        `json:"direction" validate:"required,oneof=UP DOWN up down"`
	Amount    domain.Amount `json:"amount" validate:"gt=0"`
}

// PlaceBet stakes on today's round from the caller's balance.
// POST /api/bets {"direction":"UP","amount":100}
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.AccountFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	var req betRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	side, err := domain.ParseSide(req.Direction)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	wager, err := h.rounds.PlaceWager(r.Context(), acct.ID, side, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	resp := map[string]any{"bet": wager}
	if updated, err := h.accounts.Get(r.Context(), acct.ID); err == nil {
		resp["remaining_balance"] = updated.Balance
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Today returns the caller's wager in today's round, or null.
// GET /api/bets/today
func (h *BetHandler) Today(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.AccountFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	wager, err := h.rounds.TodayWager(r.Context(), acct.ID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"bet": nil})
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bet": wager})
}

// History returns the caller's wagers newest first.
// GET /api/bets/history?limit=50&offset=0
func (h *BetHandler) History(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.AccountFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	opts := parseListOpts(r)
	bets, err := h.rounds.History(r.Context(), acct.ID, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if bets == nil {
		bets = []domain.Wager{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets, "count": len(bets), "offset": opts.Offset})
}
