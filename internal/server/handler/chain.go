package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/updown/internal/chain"
	"github.com/alanyoungcy/updown/internal/domain"
)

// Escrow is the on-chain escrow as seen through the settler's client.
type Escrow interface {
	Settler() common.Address
	CurrentPool(ctx context.Context) (chain.Pool, error)
	Paused(ctx context.Context) (bool, error)
	AgentBet(ctx context.Context, id domain.RoundID, agent common.Address) (chain.AgentBet, error)
	PayoutOf(ctx context.Context, id domain.RoundID, agent common.Address) (domain.Amount, error)
	ClaimBatch(ctx context.Context, id domain.RoundID, agents []common.Address) (string, error)
	ClaimFee(ctx context.Context, id domain.RoundID) (string, error)
	BetFor(ctx context.Context, agent common.Address, side domain.Side, amount domain.Amount) (string, error)
}

// ChainHandler exposes escrow reads and the settler's pull-side operations.
type ChainHandler struct {
	escrow Escrow
	logger *slog.Logger
}

func NewChainHandler(escrow Escrow, logger *slog.Logger) *ChainHandler {
	return &ChainHandler{escrow: escrow, logger: logger}
}

// Pool returns the escrow's live pool.
// GET /api/chain/pool
func (h *ChainHandler) Pool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.escrow.CurrentPool(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	paused, err := h.escrow.Paused(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"round_id":     pool.RoundID,
		"total_up":     pool.TotalUp,
		"total_down":   pool.TotalDown,
		"total_agents": pool.TotalAgents,
		"paused":       paused,
		"settler":      h.escrow.Settler().Hex(),
	})
}

// AgentBet returns an address's wager and, once settled, its payout.
// GET /api/chain/rounds/{id}/bets/{address}
func (h *ChainHandler) AgentBet(w http.ResponseWriter, r *http.Request) {
	id, err := roundParam(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	addr := r.PathValue("address")
	if !common.IsHexAddress(addr) {
		writeDomainError(w, r, h.logger, badRequest("invalid address"))
		return
	}
	agent := common.HexToAddress(addr)

	bet, err := h.escrow.AgentBet(r.Context(), id, agent)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	resp := map[string]any{
		"round_id": id,
		"agent":    agent.Hex(),
		"is_up":    bet.IsUp,
		"amount":   bet.Amount,
		"claimed":  bet.Claimed,
	}
	if payout, err := h.escrow.PayoutOf(r.Context(), id, agent); err == nil {
		resp["payout"] = payout
	}
	writeJSON(w, http.StatusOK, resp)
}

type claimBatchRequest struct {
	RoundID string   `json:"round_id" validate:"required"`
	Agents  []string `json:"agents" validate:"required,min=1,max=200,dive,eth_addr"`
}

// ClaimBatch pays out a list of agents in one transaction.
// POST /api/admin/chain/claim-batch
func (h *ChainHandler) ClaimBatch(w http.ResponseWriter, r *http.Request) {
	var req claimBatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	id, err := domain.ParseRoundID(req.RoundID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	agents := make([]common.Address, len(req.Agents))
	for i, a := range req.Agents {
		agents[i] = common.HexToAddress(a)
	}
	tx, err := h.escrow.ClaimBatch(r.Context(), id, agents)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"round_id": id, "tx": tx})
}

type roundRequest struct {
	RoundID string `json:"round_id" validate:"required"`
}

// ClaimFee sends the round's fee to the fee recipient.
// POST /api/admin/chain/claim-fee
func (h *ChainHandler) ClaimFee(w http.ResponseWriter, r *http.Request) {
	var req roundRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	id, err := domain.ParseRoundID(req.RoundID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	tx, err := h.escrow.ClaimFee(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"round_id": id, "tx": tx})
}

type chainBetRequest struct {
	Agent     string        `json:"agent" validate:"required,eth_addr"`
	Direction string        `json:"direction" validate:"required,oneof=UP DOWN up down"`
	Amount    domain.Amount `json:"amount" validate:"gt=0"`
}

// BetFor stakes settler-held USDC for an agent.
// POST /api/admin/chain/bets
func (h *ChainHandler) BetFor(w http.ResponseWriter, r *http.Request) {
	var req chainBetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	side, err := domain.ParseSide(req.Direction)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	tx, err := h.escrow.BetFor(r.Context(), common.HexToAddress(req.Agent), side, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": req.Agent, "tx": tx})
}
