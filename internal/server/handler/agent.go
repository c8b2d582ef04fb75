package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/server/middleware"
)

// Accounts is the account service as seen by the agent endpoints.
type Accounts interface {
	Register(ctx context.Context, name string) (domain.Account, error)
	Get(ctx context.Context, id string) (domain.Account, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.Account, error)
}

// AgentHandler serves registration, profile and leaderboard.
type AgentHandler struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewAgentHandler(accounts Accounts, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{accounts: accounts, logger: logger}
}

type registerRequest struct {
	Name string `json:"name" validate:"required,min=2,max=32,printascii"`
}

// Register creates an agent. The API key is only ever returned here.
// POST /api/agents {"name":"..."}
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	acct, err := h.accounts.Register(r.Context(), req.Name)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"agent":   acct,
		"api_key": acct.APIKey,
	})
}

// Me returns the caller's account with fresh statistics.
// GET /api/agents/me
func (h *AgentHandler) Me(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.AccountFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	fresh, err := h.accounts.Get(r.Context(), acct.ID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": fresh})
}

// Leaderboard ranks agents by balance.
// GET /api/leaderboard?limit=50
func (h *AgentHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	accts, err := h.accounts.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	type row struct {
		Rank int `json:"rank"`
		domain.Account
	}
	rows := make([]row, len(accts))
	for i, a := range accts {
		rows[i] = row{Rank: i + 1, Account: a}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": rows})
}
