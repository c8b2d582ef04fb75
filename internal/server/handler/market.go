package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/service"
)

// MarketView is what the market endpoint needs.
type MarketView interface {
	CurrentPool(ctx context.Context) (domain.PoolSnapshot, error)
	GetRound(ctx context.Context, id domain.RoundID) (domain.Round, error)
	Paused(ctx context.Context) (bool, error)
}

// Calendar reports the session phase.
type Calendar interface {
	State() service.MarketState
	TodayRoundID() domain.RoundID
}

// Quoter returns the live quote.
type Quoter interface {
	Quote(ctx context.Context) (domain.Quote, error)
	Symbol() string
}

// MarketHandler serves the combined market status.
type MarketHandler struct {
	rounds   MarketView
	calendar Calendar
	quotes   Quoter
	logger   *slog.Logger
}

func NewMarketHandler(rounds MarketView, calendar Calendar, quotes Quoter, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{rounds: rounds, calendar: calendar, quotes: quotes, logger: logger}
}

type marketResponse struct {
	Symbol string               `json:"symbol"`
	Market service.MarketState  `json:"market"`
	Paused bool                 `json:"paused"`
	Round  *domain.Round        `json:"round"`
	Pool   *domain.PoolSnapshot `json:"pool"`
	Quote  *domain.Quote        `json:"quote,omitempty"`
}

// GetMarket returns session state, today's round, the live pool and the
// latest quote. A quote failure leaves the field empty.
// GET /api/market
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paused, err := h.rounds.Paused(ctx)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	resp := marketResponse{
		Symbol: h.quotes.Symbol(),
		Market: h.calendar.State(),
		Paused: paused,
	}

	if round, err := h.rounds.GetRound(ctx, h.calendar.TodayRoundID()); err == nil {
		resp.Round = &round
	} else if !errors.Is(err, domain.ErrNotFound) {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if pool, err := h.rounds.CurrentPool(ctx); err == nil {
		resp.Pool = &pool
	} else if !errors.Is(err, domain.ErrNoActiveRound) {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if q, err := h.quotes.Quote(ctx); err == nil {
		resp.Quote = &q
	} else {
		h.logger.DebugContext(ctx, "handler: quote unavailable", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, resp)
}
