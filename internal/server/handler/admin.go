package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/service"
)

// RoundAdmin is the operator side of the round service.
type RoundAdmin interface {
	OpenRound(ctx context.Context, id domain.RoundID, openPrice domain.Price) (domain.Round, error)
	OpenDailyRound(ctx context.Context) (domain.Round, error)
	Settle(ctx context.Context, id domain.RoundID, closePrice domain.Price) (service.SettlementResult, error)
	SettleFromFeed(ctx context.Context, id domain.RoundID) (service.SettlementResult, error)
	EmergencyRefund(ctx context.Context, id domain.RoundID) (service.SettlementResult, error)
	ClaimFee(ctx context.Context, id domain.RoundID) (domain.Amount, error)
	PlaceWagerFor(ctx context.Context, payer, beneficiary string, side domain.Side, amount domain.Amount) (domain.Wager, error)
	SetPaused(ctx context.Context, paused bool) error
	Paused(ctx context.Context) (bool, error)
}

// PricePusher records operator prices.
type PricePusher interface {
	PushPrice(ctx context.Context, p domain.Price, at time.Time) error
}

// AdminHandler serves the X-Admin-Key protected operator routes.
type AdminHandler struct {
	rounds RoundAdmin
	prices PricePusher
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler. audit may be nil.
func NewAdminHandler(rounds RoundAdmin, prices PricePusher, audit domain.AuditStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{rounds: rounds, prices: prices, audit: audit, logger: logger}
}

type openRoundRequest struct {
	RoundID   string       `json:"round_id" validate:"omitempty,len=10|len=8"`
	OpenPrice domain.Price `json:"open_price" validate:"gte=0"`
}

// OpenRound opens a round. With no open_price the feed's session open is
// used for today's round.
// POST /api/admin/rounds {"round_id":"2025-03-14","open_price":562.81}
func (h *AdminHandler) OpenRound(w http.ResponseWriter, r *http.Request) {
	var req openRoundRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	var (
		round domain.Round
		err   error
	)
	if req.OpenPrice == 0 {
		if req.RoundID != "" {
			writeDomainError(w, r, h.logger, badRequest("open_price is required with round_id"))
			return
		}
		round, err = h.rounds.OpenDailyRound(r.Context())
	} else {
		var id domain.RoundID
		if id, err = domain.ParseRoundID(req.RoundID); err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		round, err = h.rounds.OpenRound(r.Context(), id, req.OpenPrice)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"round": round})
}

type settleRequest struct {
	ClosePrice domain.Price `json:"close_price" validate:"gte=0"`
}

// Settle resolves a round. Without close_price the live feed (or the
// pushed price) is used.
// POST /api/admin/rounds/{id}/settle {"close_price":565.10}
func (h *AdminHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id, err := roundParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	var req settleRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
	}

	var res service.SettlementResult
	if req.ClosePrice > 0 {
		res, err = h.rounds.Settle(r.Context(), id, req.ClosePrice)
	} else {
		res, err = h.rounds.SettleFromFeed(r.Context(), id)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Refund cancels a round and returns every stake.
// POST /api/admin/rounds/{id}/refund
func (h *AdminHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := roundParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	res, err := h.rounds.EmergencyRefund(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ClaimFee collects the house fee of a settled round.
// POST /api/admin/rounds/{id}/claim-fee
func (h *AdminHandler) ClaimFee(w http.ResponseWriter, r *http.Request) {
	id, err := roundParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	fee, err := h.rounds.ClaimFee(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"round_id": id, "fee": fee})
}

type betForRequest struct {
	Payer       string        `json:"payer" validate:"required"`
	Participant string        `json:"participant" validate:"required"`
	Direction   string        `json:"direction" validate:"required,oneof=UP DOWN up down"`
	Amount      domain.Amount `json:"amount" validate:"gt=0"`
}

// BetFor places a wager for participant, debiting payer.
// POST /api/admin/bets
func (h *AdminHandler) BetFor(w http.ResponseWriter, r *http.Request) {
	var req betForRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	side, err := domain.ParseSide(req.Direction)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	wager, err := h.rounds.PlaceWagerFor(r.Context(), req.Payer, req.Participant, side, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bet": wager})
}

type priceRequest struct {
	Price     domain.Price `json:"price" validate:"gt=0"`
	Timestamp *time.Time   `json:"timestamp"`
}

// PushPrice records an operator price used as the settlement fallback.
// POST /api/admin/price {"price":565.10}
func (h *AdminHandler) PushPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	var at time.Time
	if req.Timestamp != nil {
		at = *req.Timestamp
	}
	if err := h.prices.PushPrice(r.Context(), req.Price, at); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"price": req.Price})
}

type pausedRequest struct {
	Paused *bool `json:"paused" validate:"required"`
}

// SetPaused suspends or resumes wagering.
// POST /api/admin/paused {"paused":true}
func (h *AdminHandler) SetPaused(w http.ResponseWriter, r *http.Request) {
	var req pausedRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := h.rounds.SetPaused(r.Context(), *req.Paused); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	paused, err := h.rounds.Paused(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": paused})
}

// Audit lists audit entries, optionally for one round.
// GET /api/admin/audit?round_id=2025-03-14
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []domain.AuditEntry{}})
		return
	}
	var id domain.RoundID
	if v := r.URL.Query().Get("round_id"); v != "" {
		parsed, err := domain.ParseRoundID(v)
		if err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		id = parsed
	}
	entries, err := h.audit.List(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
