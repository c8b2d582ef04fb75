package chain

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/escrow"
)

// Simulated drives the in-process escrow model through the same call
// surface as Client. Transaction hashes are synthetic.
type Simulated struct {
	escrow  *escrow.Escrow
	settler common.Address
	nonce   atomic.Uint64
}

var _ domain.ChainMirror = (*Simulated)(nil)

// NewSimulated acts as the escrow's current settler.
func NewSimulated(e *escrow.Escrow) *Simulated {
	return &Simulated{escrow: e, settler: e.Settler()}
}

func (s *Simulated) Settler() common.Address { return s.settler }

func (s *Simulated) OpenRound(_ context.Context, id domain.RoundID, openPrice domain.Price) (string, error) {
	if err := s.escrow.OpenRound(s.settler, id.Numeric(), openPrice); err != nil {
		return "", fmt.Errorf("chain: openRound %s: %w", id, err)
	}
	return s.txHash("openRound", string(id)), nil
}

func (s *Simulated) Settle(_ context.Context, id domain.RoundID, closePrice domain.Price) (string, error) {
	if err := s.escrow.Settle(s.settler, id.Numeric(), closePrice); err != nil {
		return "", fmt.Errorf("chain: settle %s: %w", id, err)
	}
	return s.txHash("settle", string(id)), nil
}

func (s *Simulated) ClaimBatch(_ context.Context, id domain.RoundID, agents []common.Address) (string, error) {
	if _, err := s.escrow.ClaimBatch(id.Numeric(), agents); err != nil {
		return "", fmt.Errorf("chain: claimBatch %s: %w", id, err)
	}
	return s.txHash("claimBatch", string(id)), nil
}

func (s *Simulated) ClaimFee(_ context.Context, id domain.RoundID) (string, error) {
	if _, err := s.escrow.ClaimFee(id.Numeric()); err != nil {
		return "", fmt.Errorf("chain: claimFee %s: %w", id, err)
	}
	return s.txHash("claimFee", string(id)), nil
}

func (s *Simulated) BetFor(_ context.Context, agent common.Address, side domain.Side, amount domain.Amount) (string, error) {
	if err := s.escrow.BetFor(s.settler, agent, side == domain.SideUp, amount); err != nil {
		return "", fmt.Errorf("chain: betFor %s: %w", agent.Hex(), err)
	}
	return s.txHash("betFor", agent.Hex()), nil
}

func (s *Simulated) CurrentPool(_ context.Context) (Pool, error) {
	p := s.escrow.GetCurrentPool()
	return Pool{
		RoundID:     p.RoundID,
		TotalUp:     p.TotalUp,
		TotalDown:   p.TotalDown,
		TotalAgents: int64(p.TotalAgents),
	}, nil
}

func (s *Simulated) AgentBet(_ context.Context, id domain.RoundID, agent common.Address) (AgentBet, error) {
	b := s.escrow.GetAgentBet(id.Numeric(), agent)
	return AgentBet{IsUp: b.IsUp, Amount: b.Amount, Claimed: b.Claimed}, nil
}

func (s *Simulated) PayoutOf(_ context.Context, id domain.RoundID, agent common.Address) (domain.Amount, error) {
	return s.escrow.PayoutOf(id.Numeric(), agent)
}

func (s *Simulated) Paused(_ context.Context) (bool, error) {
	return s.escrow.Paused(), nil
}

func (s *Simulated) txHash(method, ref string) string {
	n := s.nonce.Add(1)
	return ethcrypto.Keccak256Hash([]byte(fmt.Sprintf("%s:%s:%d", method, ref, n))).Hex()
}
