package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/server/middleware"
)

// RoundReader is the read side of the round service.
type RoundReader interface {
	GetRound(ctx context.Context, id domain.RoundID) (domain.Round, error)
	ListRounds(ctx context.Context, opts domain.ListOpts) ([]domain.Round, error)
	ListWagers(ctx context.Context, id domain.RoundID) ([]domain.Wager, error)
	PayoutOf(ctx context.Context, id domain.RoundID, participant string) (domain.Amount, error)
}

// RoundHandler serves round history and per-round payouts.
type RoundHandler struct {
	rounds   RoundReader
	receipts domain.ReceiptReader
	logger   *slog.Logger
}

// NewRoundHandler creates a RoundHandler. receipts may be nil when no
// archive is configured.
func NewRoundHandler(rounds RoundReader, receipts domain.ReceiptReader, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{rounds: rounds, receipts: receipts, logger: logger}
}

// ListRounds returns rounds newest first.
// GET /api/rounds?limit=50&offset=0
func (h *RoundHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	rounds, err := h.rounds.ListRounds(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if rounds == nil {
		rounds = []domain.Round{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rounds": rounds, "offset": opts.Offset})
}

// GetRound returns a round and its wagers.
// GET /api/rounds/{id}
func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	id, err := roundParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	round, err := h.rounds.GetRound(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	wagers, err := h.rounds.ListWagers(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if wagers == nil {
		wagers = []domain.Wager{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"round": round, "wagers": wagers})
}

// Payout returns the caller's payout for a resolved round.
// GET /api/rounds/{id}/payout
func (h *RoundHandler) Payout(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.AccountFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	id, err := roundParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	payout, err := h.rounds.PayoutOf(r.Context(), id, acct.ID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"round_id": id, "payout": payout})
}

// Receipts lists the archived settlement receipts.
// GET /api/receipts
func (h *RoundHandler) Receipts(w http.ResponseWriter, r *http.Request) {
	if h.receipts == nil {
		writeError(w, http.StatusNotFound, "receipt archive not configured")
		return
	}
	infos, err := h.receipts.ListReceipts(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// Receipt returns the archived settlement receipt.
// GET /api/rounds/{id}/receipt
func (h *RoundHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	if h.receipts == nil {
		writeError(w, http.StatusNotFound, "receipt archive not configured")
		return
	}
	id, err := roundParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	receipt, err := h.receipts.LoadReceipt(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
