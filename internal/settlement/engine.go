// Package settlement computes parimutuel outcomes and payouts. It is pure:
// both the off-chain ledger and the escrow contract model call it so that
// the two variants can never disagree on a payout.
package settlement

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/updown/internal/domain"
)

// BpsDenominator is the basis point scale used for fees and price bands.
const BpsDenominator = 10_000

// Pool is the pair of side totals at settlement time.
type Pool struct {
	Up   domain.Amount
	Down domain.Amount
}

// Total returns Up + Down.
func (p Pool) Total() domain.Amount { return p.Up + p.Down }

// Decision is the resolved state of a round: who won and how much is
// distributable to the winners.
type Decision struct {
	Outcome       domain.Outcome
	Winning       domain.Amount
	Losing        domain.Amount
	Fee           domain.Amount
	Distributable domain.Amount
}

// Direction classifies the price move alone.
func Direction(open, close domain.Price) domain.Outcome {
	switch {
	case close > open:
		return domain.OutcomeUp
	case close < open:
		return domain.OutcomeDown
	default:
		return domain.OutcomeTie
	}
}

// Decide resolves a round. A flat close takes precedence over a one-sided
// pool; both refund every stake and collect no fee.
func Decide(open, close domain.Price, pool Pool, feeBps int64) Decision {
	dir := Direction(open, close)
	if dir == domain.OutcomeTie {
		return Decision{Outcome: domain.OutcomeTie}
	}
	if pool.Up == 0 || pool.Down == 0 {
		return Decision{Outcome: domain.OutcomeCancelled}
	}

	d := Decision{Outcome: dir, Winning: pool.Up, Losing: pool.Down}
	if dir == domain.OutcomeDown {
		d.Winning, d.Losing = pool.Down, pool.Up
	}
	d.Fee = mulDiv(d.Losing, domain.Amount(feeBps), BpsDenominator)
	d.Distributable = d.Losing - d.Fee
	return d
}

// Refund is the decision for an administratively refunded round.
func Refund() Decision {
	return Decision{Outcome: domain.OutcomeRefunded}
}

// Payout returns what a wager of stake on side receives under d.
func (d Decision) Payout(side domain.Side, stake domain.Amount) (domain.Amount, domain.WagerResult) {
	if d.Outcome.RefundsAll() {
		return stake, domain.ResultPush
	}
	if !winningSide(d.Outcome, side) {
		return 0, domain.ResultLoss
	}
	return stake + mulDiv(stake, d.Distributable, d.Winning), domain.ResultWin
}

func winningSide(o domain.Outcome, side domain.Side) bool {
	return (o == domain.OutcomeUp && side == domain.SideUp) ||
		(o == domain.OutcomeDown && side == domain.SideDown)
}

// mulDiv returns a*b/den truncated toward zero. Operands are non-negative;
// the product is taken at 256 bits so it never overflows.
func mulDiv(a, b, den domain.Amount) domain.Amount {
	if den == 0 {
		return 0
	}
	x := uint256.NewInt(uint64(a))
	x.Mul(x, uint256.NewInt(uint64(b)))
	x.Div(x, uint256.NewInt(uint64(den)))
	return domain.Amount(x.Uint64())
}

// WithinBand reports whether close lies within bandBps of open, inclusive.
func WithinBand(open, close domain.Price, bandBps int64) bool {
	if open <= 0 {
		return false
	}
	diff := int64(close - open)
	if diff < 0 {
		diff = -diff
	}
	lhs := new(uint256.Int).Mul(uint256.NewInt(uint64(diff)), uint256.NewInt(BpsDenominator))
	rhs := new(uint256.Int).Mul(uint256.NewInt(uint64(open)), uint256.NewInt(uint64(bandBps)))
	return !lhs.Gt(rhs)
}
