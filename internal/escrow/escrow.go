// Package escrow models the pull-based on-chain market: stakes are held by
// the escrow address, settlement only records the outcome, and each
// participant (or anyone on their behalf) claims the payout afterwards.
// Method names, guards and revert reasons follow the deployed contract so
// that the model and the chain can be checked against the same cases.
package escrow

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/settlement"
)

// Config fixes the escrow's limits and identity.
type Config struct {
	Self           common.Address
	Owner          common.Address
	MinBet         domain.Amount
	MaxBet         domain.Amount
	FeeBps         int64
	PriceBandBps   int64
	MinSettleDelay time.Duration
}

// DefaultConfig returns the deployed contract's parameters.
func DefaultConfig(self, owner common.Address) Config {
	return Config{
		Self:           self,
		Owner:          owner,
		MinBet:         domain.Units(1),
		MaxBet:         domain.Units(50),
		FeeBps:         500,
		PriceBandBps:   1000,
		MinSettleDelay: 6 * time.Hour,
	}
}

type bet struct {
	isUp    bool
	amount  domain.Amount
	claimed bool
}

type round struct {
	id         uint64
	status     domain.RoundStatus
	openPrice  domain.Price
	closePrice domain.Price
	openedAt   time.Time
	totalUp    domain.Amount
	totalDown  domain.Amount
	upCount    int
	downCount  int
	decision   settlement.Decision
	feeClaimed bool
	bets       map[common.Address]*bet
}

// RoundView mirrors the contract's getRound return tuple.
type RoundView struct {
	TotalUp    domain.Amount
	TotalDown  domain.Amount
	UpCount    int
	DownCount  int
	OpenPrice  domain.Price
	ClosePrice domain.Price
	Settled    bool
	Outcome    domain.Outcome
	Fee        domain.Amount
}

// BetView mirrors getAgentBet.
type BetView struct {
	IsUp    bool
	Amount  domain.Amount
	Claimed bool
}

// PoolView mirrors getCurrentPool.
type PoolView struct {
	RoundID     uint64
	TotalUp     domain.Amount
	TotalDown   domain.Amount
	TotalAgents int
}

// Escrow is safe for concurrent use; every call is one atomic transition.
type Escrow struct {
	mu    sync.Mutex
	cfg   Config
	token Token
	now   func() time.Time

	owner        common.Address
	settler      common.Address
	feeRecipient common.Address
	paused       bool
	current      uint64
	rounds       map[uint64]*round
}

// New deploys an escrow. The owner starts as settler and fee recipient.
func New(cfg Config, token Token) *Escrow {
	return &Escrow{
		cfg:          cfg,
		token:        token,
		now:          time.Now,
		owner:        cfg.Owner,
		settler:      cfg.Owner,
		feeRecipient: cfg.Owner,
		rounds:       map[uint64]*round{},
	}
}

// WithClock replaces block time.
func (e *Escrow) WithClock(now func() time.Time) *Escrow {
	e.now = now
	return e
}

func (e *Escrow) onlyOwner(from common.Address) error {
	if from != e.owner {
		return domain.ErrNotOwner
	}
	return nil
}

func (e *Escrow) onlySettler(from common.Address) error {
	if from != e.settler {
		return domain.ErrNotSettler
	}
	return nil
}

// OpenRound starts round id. Only the settler may call it.
func (e *Escrow) OpenRound(from common.Address, id uint64, openPrice domain.Price) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.onlySettler(from); err != nil {
		return err
	}
	if id == 0 {
		return domain.ErrInvalidRoundID
	}
	if openPrice <= 0 {
		return domain.ErrInvalidPrice
	}
	if _, ok := e.rounds[id]; ok {
		return domain.ErrRoundExists
	}
	if cur, ok := e.rounds[e.current]; ok && !cur.status.Terminal() {
		return domain.ErrPreviousOpen
	}

	e.rounds[id] = &round{
		id:        id,
		status:    domain.RoundOpen,
		openPrice: openPrice,
		openedAt:  e.now(),
		bets:      map[common.Address]*bet{},
	}
	e.current = id
	return nil
}

// Bet stakes amount from the caller on the current round.
func (e *Escrow) Bet(from common.Address, isUp bool, amount domain.Amount) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bet(from, from, isUp, amount)
}

// BetFor stakes amount for agent, pulling funds from the settler.
func (e *Escrow) BetFor(from, agent common.Address, isUp bool, amount domain.Amount) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.onlySettler(from); err != nil {
		return err
	}
	if agent == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	return e.bet(from, agent, isUp, amount)
}

func (e *Escrow) bet(payer, agent common.Address, isUp bool, amount domain.Amount) error {
	if e.paused {
		return domain.ErrPaused
	}
	r, ok := e.rounds[e.current]
	if !ok {
		return domain.ErrNoActiveRound
	}
	if r.status != domain.RoundOpen {
		return domain.ErrRoundNotOpen
	}
	if amount < e.cfg.MinBet {
		return domain.ErrBelowMinBet
	}
	if amount > e.cfg.MaxBet {
		return domain.ErrAboveMaxBet
	}
	if _, ok := r.bets[agent]; ok {
		return domain.ErrAlreadyBet
	}
	if err := e.token.TransferFrom(e.cfg.Self, payer, e.cfg.Self, amount); err != nil {
		return err
	}

	r.bets[agent] = &bet{isUp: isUp, amount: amount}
	if isUp {
		r.totalUp += amount
		r.upCount++
	} else {
		r.totalDown += amount
		r.downCount++
	}
	return nil
}

// Settle records the outcome of round id at closePrice. Funds do not move.
func (e *Escrow) Settle(from common.Address, id uint64, closePrice domain.Price) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.onlySettler(from); err != nil {
		return err
	}
	r, ok := e.rounds[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.status.Terminal() {
		return domain.ErrAlreadySettled
	}
	if e.now().Sub(r.openedAt) < e.cfg.MinSettleDelay {
		return domain.ErrTooEarly
	}
	if !settlement.WithinBand(r.openPrice, closePrice, e.cfg.PriceBandBps) {
		return domain.ErrPriceBounds
	}

	r.closePrice = closePrice
	r.decision = settlement.Decide(r.openPrice, closePrice, settlement.Pool{Up: r.totalUp, Down: r.totalDown}, e.cfg.FeeBps)
	r.status = domain.RoundSettled
	return nil
}

// EmergencyRefund lets every participant of round id claim back their
// stake. Only the owner may call it.
func (e *Escrow) EmergencyRefund(from common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.onlyOwner(from); err != nil {
		return err
	}
	r, ok := e.rounds[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.status.Terminal() {
		return domain.ErrAlreadySettled
	}
	r.decision = settlement.Refund()
	r.status = domain.RoundRefunded
	return nil
}

// Claim pays agent's entitlement for round id. Anyone may trigger it; funds
// always go to agent.
func (e *Escrow) Claim(id uint64, agent common.Address) (domain.Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if !r.status.Terminal() {
		return 0, domain.ErrNotSettled
	}
	b, ok := r.bets[agent]
	if !ok {
		return 0, domain.ErrNothingToClaim
	}
	if b.claimed {
		return 0, domain.ErrAlreadyClaimed
	}
	return e.pay(r, agent, b)
}

// ClaimBatch claims for each agent in turn. Agents without a wager or
// already claimed are skipped; no entry is ever paid twice. It returns the
// total transferred.
func (e *Escrow) ClaimBatch(id uint64, agents []common.Address) (domain.Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if !r.status.Terminal() {
		return 0, domain.ErrNotSettled
	}
	var total domain.Amount
	for _, agent := range agents {
		b, ok := r.bets[agent]
		if !ok || b.claimed {
			continue
		}
		paid, err := e.pay(r, agent, b)
		if err != nil {
			return total, err
		}
		total += paid
	}
	return total, nil
}

// pay marks the bet claimed before transferring and restores the flag if
// the transfer fails.
func (e *Escrow) pay(r *round, agent common.Address, b *bet) (domain.Amount, error) {
	b.claimed = true
	payout := e.payoutOf(r, b)
	if payout == 0 {
		return 0, nil
	}
	if err := e.token.Transfer(e.cfg.Self, agent, payout); err != nil {
		b.claimed = false
		return 0, err
	}
	return payout, nil
}

// ClaimFee sends the fee of a normally settled round to the fee recipient.
func (e *Escrow) ClaimFee(id uint64) (domain.Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if !r.status.Terminal() {
		return 0, domain.ErrNotSettled
	}
	if r.decision.Outcome.RefundsAll() {
		return 0, domain.ErrNoFeeOnRefund
	}
	if r.feeClaimed {
		return 0, domain.ErrFeeClaimed
	}
	r.feeClaimed = true
	if r.decision.Fee > 0 {
		if err := e.token.Transfer(e.cfg.Self, e.feeRecipient, r.decision.Fee); err != nil {
			r.feeClaimed = false
			return 0, err
		}
	}
	return r.decision.Fee, nil
}

// PayoutOf returns what Claim would transfer to agent now, without state
// changes. It is zero for agents without a wager and after claiming.
func (e *Escrow) PayoutOf(id uint64, agent common.Address) (domain.Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if !r.status.Terminal() {
		return 0, domain.ErrNotSettled
	}
	b, ok := r.bets[agent]
	if !ok || b.claimed {
		return 0, nil
	}
	return e.payoutOf(r, b), nil
}

func (e *Escrow) payoutOf(r *round, b *bet) domain.Amount {
	side := domain.SideDown
	if b.isUp {
		side = domain.SideUp
	}
	p, _ := r.decision.Payout(side, b.amount)
	return p
}

// GetCurrentPool returns the most recently opened round's totals.
func (e *Escrow) GetCurrentPool() PoolView {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds[e.current]
	if !ok {
		return PoolView{}
	}
	return PoolView{RoundID: r.id, TotalUp: r.totalUp, TotalDown: r.totalDown, TotalAgents: r.upCount + r.downCount}
}

// GetRound returns round id's public state.
func (e *Escrow) GetRound(id uint64) (RoundView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds[id]
	if !ok {
		return RoundView{}, domain.ErrNotFound
	}
	return RoundView{
		TotalUp:    r.totalUp,
		TotalDown:  r.totalDown,
		UpCount:    r.upCount,
		DownCount:  r.downCount,
		OpenPrice:  r.openPrice,
		ClosePrice: r.closePrice,
		Settled:    r.status.Terminal(),
		Outcome:    r.decision.Outcome,
		Fee:        r.decision.Fee,
	}, nil
}

// GetAgentBet returns agent's wager in round id; the zero view if none.
func (e *Escrow) GetAgentBet(id uint64, agent common.Address) BetView {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds[id]
	if !ok {
		return BetView{}
	}
	b, ok := r.bets[agent]
	if !ok {
		return BetView{}
	}
	return BetView{IsUp: b.isUp, Amount: b.amount, Claimed: b.claimed}
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func (e *Escrow) SetSettler(from, settler common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.onlyOwner(from); err != nil {
		return err
	}
	if settler == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	e.settler = settler
	return nil
}

func (e *Escrow) SetFeeRecipient(from, recipient common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.onlyOwner(from); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	e.feeRecipient = recipient
	return nil
}

func (e *Escrow) SetPaused(from common.Address, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.onlyOwner(from); err != nil {
		return err
	}
	e.paused = paused
	return nil
}

// RescueTokens returns tokens sent to the escrow by mistake. The stake
// token itself can never be withdrawn this way.
func (e *Escrow) RescueTokens(from common.Address, token Token, amount domain.Amount) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.onlyOwner(from); err != nil {
		return err
	}
	if token.Address() == e.token.Address() {
		return domain.ErrRescueUSDC
	}
	return token.Transfer(e.cfg.Self, e.owner, amount)
}

func (e *Escrow) Owner() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

func (e *Escrow) Settler() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settler
}

func (e *Escrow) FeeRecipient() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feeRecipient
}

func (e *Escrow) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}
