package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/metrics"
	"github.com/alanyoungcy/updown/internal/settlement"
)

// RoundRules are the wagering limits and settlement guardrails.
type RoundRules struct {
	MinBet          domain.Amount
	MaxBet          domain.Amount
	FeeBps          int64
	PriceBandBps    int64         // 0 disables the sanity band
	MinSettleDelay  time.Duration // 0 disables the elapsed-time guard
	BankruptcyFloor domain.Amount
	EnforceHours    bool
	SettleLockTTL   time.Duration
}

// DefaultRoundRules are the credit-ledger defaults.
func DefaultRoundRules() RoundRules {
	return RoundRules{
		MinBet:          domain.Units(10),
		MaxBet:          domain.Units(1000),
		FeeBps:          500,
		PriceBandBps:    1000,
		MinSettleDelay:  6 * time.Hour,
		BankruptcyFloor: domain.Units(1000),
		EnforceHours:    true,
		SettleLockTTL:   time.Minute,
	}
}

// SettlementResult summarises a completed sweep.
type SettlementResult struct {
	Round    domain.Round   `json:"round"`
	Wagers   []domain.Wager `json:"wagers"`
	Winners  int            `json:"winners"`
	Losers   int            `json:"losers"`
	Pushes   int            `json:"pushes"`
	Bankrupt int64          `json:"bankrupt_resets"`
}

// RoundService owns the off-chain round lifecycle. Payouts are pushed to
// participant balances inside the settlement transaction.
type RoundService struct {
	ledger   domain.Ledger
	calendar *MarketCalendar
	prices   *PriceService
	rules    RoundRules
	logger   *slog.Logger

	chain   domain.ChainMirror
	events  domain.EventPublisher
	archive domain.ReceiptArchiver
	audit   domain.AuditStore
	locks   domain.LockManager
	metrics *metrics.Metrics

	now func() time.Time
}

// NewRoundService creates a RoundService with its required dependencies.
// Side channels are attached with the With* methods.
func NewRoundService(
	ledger domain.Ledger,
	calendar *MarketCalendar,
	prices *PriceService,
	rules RoundRules,
	logger *slog.Logger,
) *RoundService {
	return &RoundService{
		ledger:   ledger,
		calendar: calendar,
		prices:   prices,
		rules:    rules,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *RoundService) WithChainMirror(m domain.ChainMirror) *RoundService {
	s.chain = m
	return s
}

func (s *RoundService) WithEvents(p domain.EventPublisher) *RoundService {
	s.events = p
	return s
}

func (s *RoundService) WithArchive(a domain.ReceiptArchiver) *RoundService {
	s.archive = a
	return s
}

func (s *RoundService) WithAudit(a domain.AuditStore) *RoundService {
	s.audit = a
	return s
}

// WithLocks serialises settlement of a round across instances.
func (s *RoundService) WithLocks(l domain.LockManager) *RoundService {
	s.locks = l
	return s
}

func (s *RoundService) WithMetrics(m *metrics.Metrics) *RoundService {
	s.metrics = m
	return s
}

// WithClock replaces the wall clock used for timestamps and guardrails.
func (s *RoundService) WithClock(now func() time.Time) *RoundService {
	s.now = now
	return s
}

// Rules returns the configured limits.
func (s *RoundService) Rules() RoundRules { return s.rules }

// SetPaused toggles administrative suspension of wagering. The flag lives in
// the ledger, so every instance sharing it sees the change and it survives
// restarts.
func (s *RoundService) SetPaused(ctx context.Context, paused bool) error {
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.SetPaused(ctx, paused)
	})
	if err != nil {
		return fmt.Errorf("round_service: set paused: %w", err)
	}
	s.auditLog(ctx, "set_paused", "", map[string]any{"paused": paused})
	s.logger.InfoContext(ctx, "round_service: paused flag changed", slog.Bool("paused", paused))
	return nil
}

// Paused reports whether wagering is suspended.
func (s *RoundService) Paused(ctx context.Context) (bool, error) {
	paused, err := s.ledger.Paused(ctx)
	if err != nil {
		return false, fmt.Errorf("round_service: paused: %w", err)
	}
	return paused, nil
}

// ---------------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------------

// OpenRound creates round id at openPrice. It fails while another round is
// open and for any id that was used before.
func (s *RoundService) OpenRound(ctx context.Context, id domain.RoundID, openPrice domain.Price) (domain.Round, error) {
	if !id.Valid() {
		return domain.Round{}, domain.ErrInvalidRoundID
	}
	if openPrice <= 0 {
		return domain.Round{}, domain.ErrInvalidPrice
	}

	round := domain.Round{
		ID:        id,
		Status:    domain.RoundOpen,
		OpenPrice: openPrice,
		OpenedAt:  s.now().UTC(),
	}
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.LockRound(ctx, id); err == nil {
			return domain.ErrRoundExists
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if _, err := tx.FindOpenRound(ctx); err == nil {
			return domain.ErrPreviousOpen
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return tx.InsertRound(ctx, round)
	})
	if err != nil {
		return domain.Round{}, fmt.Errorf("round_service: open %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "round_service: round opened",
		slog.String("round_id", string(id)),
		slog.String("open_price", openPrice.String()),
	)
	s.auditLog(ctx, "round_opened", id, map[string]any{"open_price": openPrice.String()})
	s.publish(ctx, domain.EventRoundOpened, round, nil)

	if s.chain != nil {
		if hash, err := s.chain.OpenRound(ctx, id, openPrice); err != nil {
			s.sideChannelFailed(ctx, "chain", id, err)
		} else if hash != "" {
			round.OpenTx = hash
			s.recordTx(ctx, id, func(r *domain.Round) { r.OpenTx = hash })
		}
	}
	return round, nil
}

// OpenDailyRound opens today's round using the feed's session open. It is a
// no-op returning the existing round when today's round was already created.
func (s *RoundService) OpenDailyRound(ctx context.Context) (domain.Round, error) {
	id := s.calendar.TodayRoundID()
	if existing, err := s.ledger.GetRound(ctx, id); err == nil {
		s.logger.InfoContext(ctx, "round_service: round already exists", slog.String("round_id", string(id)))
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Round{}, fmt.Errorf("round_service: lookup %s: %w", id, err)
	}

	openPrice, err := s.prices.OpeningPrice(ctx)
	if err != nil {
		return domain.Round{}, fmt.Errorf("round_service: opening price: %w", err)
	}
	return s.OpenRound(ctx, id, openPrice)
}

// ---------------------------------------------------------------------------
// Wagers
// ---------------------------------------------------------------------------

// PlaceWager stakes amount from participant's own balance on side.
func (s *RoundService) PlaceWager(ctx context.Context, participant string, side domain.Side, amount domain.Amount) (domain.Wager, error) {
	return s.place(ctx, participant, participant, side, amount)
}

// PlaceWagerFor stakes amount on behalf of beneficiary, debiting payer.
// The wager belongs to beneficiary and its payout is credited to them.
func (s *RoundService) PlaceWagerFor(ctx context.Context, payer, beneficiary string, side domain.Side, amount domain.Amount) (domain.Wager, error) {
	return s.place(ctx, payer, beneficiary, side, amount)
}

func (s *RoundService) place(ctx context.Context, payer, beneficiary string, side domain.Side, amount domain.Amount) (domain.Wager, error) {
	w, err := s.placeTx(ctx, payer, beneficiary, side, amount)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			s.metrics.WagerRejected(de.Code)
		}
		return domain.Wager{}, fmt.Errorf("round_service: place wager: %w", err)
	}

	s.metrics.WagerPlaced(string(side), w.Amount.Decimal().InexactFloat64())
	s.logger.InfoContext(ctx, "round_service: wager placed",
		slog.String("round_id", string(w.RoundID)),
		slog.String("participant", beneficiary),
		slog.String("placed_by", payer),
		slog.String("side", string(side)),
		slog.String("amount", amount.String()),
	)
	s.auditLog(ctx, "wager_placed", w.RoundID, map[string]any{
		"participant": beneficiary,
		"placed_by":   payer,
		"side":        string(side),
		"amount":      amount.String(),
	})
	if round, err := s.ledger.GetRound(ctx, w.RoundID); err == nil {
		s.publish(ctx, domain.EventWagerPlaced, round, &w)
	}
	return w, nil
}

func (s *RoundService) placeTx(ctx context.Context, payer, beneficiary string, side domain.Side, amount domain.Amount) (domain.Wager, error) {
	if side != domain.SideUp && side != domain.SideDown {
		return domain.Wager{}, domain.ErrInvalidSide
	}
	if s.rules.EnforceHours && !s.calendar.BettingOpen() {
		return domain.Wager{}, domain.ErrBettingClosed
	}
	if amount < s.rules.MinBet {
		return domain.Wager{}, domain.ErrBelowMinBet
	}
	if amount > s.rules.MaxBet {
		return domain.Wager{}, domain.ErrAboveMaxBet
	}

	now := s.now().UTC()
	var placed domain.Wager
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		if paused, err := tx.Paused(ctx); err != nil {
			return err
		} else if paused {
			return domain.ErrPaused
		}
		round, err := tx.FindOpenRound(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoActiveRound
		}
		if err != nil {
			return err
		}

		payerAcct, err := tx.LockAccount(ctx, payer)
		if err != nil {
			return fmt.Errorf("payer %s: %w", payer, err)
		}
		benAcct := payerAcct
		if beneficiary != payer {
			if benAcct, err = tx.LockAccount(ctx, beneficiary); err != nil {
				return fmt.Errorf("beneficiary %s: %w", beneficiary, err)
			}
		}
		placed = domain.Wager{
			ID:          uuid.NewString(),
			RoundID:     round.ID,
			Participant: beneficiary,
			Side:        side,
			Amount:      amount,
			Result:      domain.ResultUnresolved,
			PlacedAt:    now,
		}
		if beneficiary != payer {
			placed.PlacedBy = payer
		}
		if err := tx.InsertWager(ctx, placed); err != nil {
			return err
		}
		if payerAcct.Balance < amount {
			return domain.ErrInsufficient
		}

		round.Stake(side, amount)
		if err := tx.UpdateRound(ctx, round); err != nil {
			return err
		}

		payerAcct.Balance -= amount
		if beneficiary == payer {
			payerAcct.TotalBets++
			payerAcct.LastBetAt = &now
			return tx.UpdateAccount(ctx, payerAcct)
		}
		if err := tx.UpdateAccount(ctx, payerAcct); err != nil {
			return err
		}
		benAcct.TotalBets++
		benAcct.LastBetAt = &now
		return tx.UpdateAccount(ctx, benAcct)
	})
	return placed, err
}

// ---------------------------------------------------------------------------
// Settlement
// ---------------------------------------------------------------------------

// Settle resolves round id at closePrice and credits every participant in
// the same transaction, then raises any balance at or below zero to the
// bankruptcy floor.
func (s *RoundService) Settle(ctx context.Context, id domain.RoundID, closePrice domain.Price) (SettlementResult, error) {
	if !id.Valid() {
		return SettlementResult{}, domain.ErrInvalidRoundID
	}
	if closePrice <= 0 {
		return SettlementResult{}, domain.ErrInvalidPrice
	}
	return s.sweep(ctx, id, func(r domain.Round) (settlement.Decision, error) {
		if r.Status.Terminal() {
			return settlement.Decision{}, domain.ErrAlreadySettled
		}
		if s.rules.MinSettleDelay > 0 && s.now().Sub(r.OpenedAt) < s.rules.MinSettleDelay {
			return settlement.Decision{}, domain.ErrTooEarly
		}
		if s.rules.PriceBandBps > 0 && !settlement.WithinBand(r.OpenPrice, closePrice, s.rules.PriceBandBps) {
			return settlement.Decision{}, domain.ErrPriceBounds
		}
		return settlement.Decide(r.OpenPrice, closePrice, settlement.Pool{Up: r.TotalUp, Down: r.TotalDown}, s.rules.FeeBps), nil
	}, &closePrice)
}

// SettleFromFeed settles round id using the live quote, or the pushed price
// when the feed is unavailable.
func (s *RoundService) SettleFromFeed(ctx context.Context, id domain.RoundID) (SettlementResult, error) {
	closePrice, _, err := s.prices.ClosingPrice(ctx)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("round_service: closing price: %w", err)
	}
	return s.Settle(ctx, id, closePrice)
}

// EmergencyRefund marks round id refunded and returns every stake.
func (s *RoundService) EmergencyRefund(ctx context.Context, id domain.RoundID) (SettlementResult, error) {
	if !id.Valid() {
		return SettlementResult{}, domain.ErrInvalidRoundID
	}
	return s.sweep(ctx, id, func(r domain.Round) (settlement.Decision, error) {
		if r.Status.Terminal() {
			return settlement.Decision{}, domain.ErrAlreadySettled
		}
		return settlement.Refund(), nil
	}, nil)
}

type decideFunc func(domain.Round) (settlement.Decision, error)

func (s *RoundService) sweep(ctx context.Context, id domain.RoundID, decide decideFunc, closePrice *domain.Price) (SettlementResult, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "settle:"+string(id), s.rules.SettleLockTTL)
		if err != nil {
			return SettlementResult{}, fmt.Errorf("round_service: settle lock %s: %w", id, err)
		}
		defer unlock()
	}

	now := s.now().UTC()
	var res SettlementResult
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		res = SettlementResult{}
		round, err := tx.LockRound(ctx, id)
		if err != nil {
			return err
		}
		d, err := decide(round)
		if err != nil {
			return err
		}

		round.Outcome = d.Outcome
		round.Fee = d.Fee
		round.ClosePrice = closePrice
		round.SettledAt = &now
		round.Status = domain.RoundSettled
		if d.Outcome == domain.OutcomeRefunded {
			round.Status = domain.RoundRefunded
		}

		wagers, err := tx.ListWagers(ctx, id)
		if err != nil {
			return err
		}
		for i := range wagers {
			w := &wagers[i]
			w.Payout, w.Result = d.Payout(w.Side, w.Amount)
			w.Claimed = true
			w.SettledAt = &now
			if err := tx.UpdateWager(ctx, *w); err != nil {
				return err
			}

			acct, err := tx.LockAccount(ctx, w.Participant)
			if err != nil {
				return fmt.Errorf("account %s: %w", w.Participant, err)
			}
			acct.Balance += w.Payout
			acct.Record(*w)
			if err := tx.UpdateAccount(ctx, acct); err != nil {
				return err
			}

			switch w.Result {
			case domain.ResultWin:
				res.Winners++
			case domain.ResultLoss:
				res.Losers++
			default:
				res.Pushes++
			}
		}

		if res.Bankrupt, err = tx.ResetBankrupt(ctx, s.rules.BankruptcyFloor); err != nil {
			return err
		}
		if err := tx.UpdateRound(ctx, round); err != nil {
			return err
		}
		res.Round = round
		res.Wagers = wagers
		return nil
	})
	if err != nil {
		return SettlementResult{}, fmt.Errorf("round_service: settle %s: %w", id, err)
	}

	s.afterSweep(ctx, &res)
	return res, nil
}

func (s *RoundService) afterSweep(ctx context.Context, res *SettlementResult) {
	r := res.Round
	var paid domain.Amount
	for _, w := range res.Wagers {
		paid += w.Payout
	}

	s.logger.InfoContext(ctx, "round_service: round resolved",
		slog.String("round_id", string(r.ID)),
		slog.String("outcome", string(r.Outcome)),
		slog.Int("winners", res.Winners),
		slog.Int("losers", res.Losers),
		slog.Int("pushes", res.Pushes),
		slog.String("fee", r.Fee.String()),
		slog.Int64("bankrupt_resets", res.Bankrupt),
	)
	s.metrics.RoundResolved(string(r.Outcome), paid.Decimal().InexactFloat64(), r.Fee.Decimal().InexactFloat64(), res.Bankrupt)

	detail := map[string]any{
		"outcome": string(r.Outcome),
		"fee":     r.Fee.String(),
		"paid":    paid.String(),
		"wagers":  len(res.Wagers),
	}
	if r.ClosePrice != nil {
		detail["close_price"] = r.ClosePrice.String()
	}

	evType := domain.EventRoundSettled
	if r.Status == domain.RoundRefunded {
		evType = domain.EventRoundRefunded
	}
	s.auditLog(ctx, evType, r.ID, detail)

	if s.chain != nil && r.ClosePrice != nil {
		if hash, err := s.chain.Settle(ctx, r.ID, *r.ClosePrice); err != nil {
			s.sideChannelFailed(ctx, "chain", r.ID, err)
		} else if hash != "" {
			res.Round.SettleTx = hash
			s.recordTx(ctx, r.ID, func(r *domain.Round) { r.SettleTx = hash })
		}
	}

	if s.archive != nil {
		receipt := domain.SettlementReceipt{
			Round:      res.Round,
			Wagers:     res.Wagers,
			Bankrupt:   res.Bankrupt,
			ArchivedAt: s.now().UTC(),
		}
		if path, err := s.archive.ArchiveReceipt(ctx, receipt); err != nil {
			s.sideChannelFailed(ctx, "archive", r.ID, err)
		} else {
			s.logger.DebugContext(ctx, "round_service: receipt archived", slog.String("path", path))
		}
	}

	s.publish(ctx, evType, res.Round, nil)
}

// ---------------------------------------------------------------------------
// Fee
// ---------------------------------------------------------------------------

// ClaimFee marks the fee of a normally settled round as collected and
// returns its amount. It succeeds once per round.
func (s *RoundService) ClaimFee(ctx context.Context, id domain.RoundID) (domain.Amount, error) {
	var fee domain.Amount
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		r, err := tx.LockRound(ctx, id)
		if err != nil {
			return err
		}
		if r.Status == domain.RoundOpen {
			return domain.ErrNotSettled
		}
		if r.Outcome.RefundsAll() {
			return domain.ErrNoFeeOnRefund
		}
		if r.FeeClaimed {
			return domain.ErrFeeClaimed
		}
		r.FeeClaimed = true
		fee = r.Fee
		return tx.UpdateRound(ctx, r)
	})
	if err != nil {
		return 0, fmt.Errorf("round_service: claim fee %s: %w", id, err)
	}

	s.auditLog(ctx, domain.EventFeeClaimed, id, map[string]any{"fee": fee.String()})
	if r, err := s.ledger.GetRound(ctx, id); err == nil {
		s.publish(ctx, domain.EventFeeClaimed, r, nil)
	}
	return fee, nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// PayoutOf returns what participant received (or will receive) for round
// id. It never mutates state.
func (s *RoundService) PayoutOf(ctx context.Context, id domain.RoundID, participant string) (domain.Amount, error) {
	r, err := s.ledger.GetRound(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("round_service: payout of %s: %w", id, err)
	}
	if r.Status == domain.RoundOpen {
		return 0, domain.ErrNotSettled
	}
	w, err := s.ledger.GetWager(ctx, id, participant)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, domain.ErrNothingToClaim
	}
	if err != nil {
		return 0, fmt.Errorf("round_service: payout of %s: %w", id, err)
	}
	return w.Payout, nil
}

// CurrentPool returns the live round's aggregates.
func (s *RoundService) CurrentPool(ctx context.Context) (domain.PoolSnapshot, error) {
	r, err := s.ledger.FindOpenRound(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PoolSnapshot{}, domain.ErrNoActiveRound
	}
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("round_service: current pool: %w", err)
	}
	return r.Snapshot(), nil
}

// GetRound returns a round by id.
func (s *RoundService) GetRound(ctx context.Context, id domain.RoundID) (domain.Round, error) {
	r, err := s.ledger.GetRound(ctx, id)
	if err != nil {
		return domain.Round{}, fmt.Errorf("round_service: get round %s: %w", id, err)
	}
	return r, nil
}

// ListRounds returns rounds newest first.
func (s *RoundService) ListRounds(ctx context.Context, opts domain.ListOpts) ([]domain.Round, error) {
	rounds, err := s.ledger.ListRounds(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("round_service: list rounds: %w", err)
	}
	return rounds, nil
}

// ListWagers returns every wager in round id.
func (s *RoundService) ListWagers(ctx context.Context, id domain.RoundID) ([]domain.Wager, error) {
	ws, err := s.ledger.ListWagers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("round_service: list wagers %s: %w", id, err)
	}
	return ws, nil
}

// GetWager returns participant's wager in round id.
func (s *RoundService) GetWager(ctx context.Context, id domain.RoundID, participant string) (domain.Wager, error) {
	w, err := s.ledger.GetWager(ctx, id, participant)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("round_service: get wager %s/%s: %w", id, participant, err)
	}
	return w, nil
}

// TodayWager returns participant's wager in the current market day's round.
func (s *RoundService) TodayWager(ctx context.Context, participant string) (domain.Wager, error) {
	return s.GetWager(ctx, s.calendar.TodayRoundID(), participant)
}

// History returns participant's wagers newest first.
func (s *RoundService) History(ctx context.Context, participant string, opts domain.ListOpts) ([]domain.Wager, error) {
	ws, err := s.ledger.ListWagersByParticipant(ctx, participant, opts)
	if err != nil {
		return nil, fmt.Errorf("round_service: history %s: %w", participant, err)
	}
	return ws, nil
}

// ---------------------------------------------------------------------------
// Side channels
// ---------------------------------------------------------------------------

func (s *RoundService) recordTx(ctx context.Context, id domain.RoundID, set func(*domain.Round)) {
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		r, err := tx.LockRound(ctx, id)
		if err != nil {
			return err
		}
		set(&r)
		return tx.UpdateRound(ctx, r)
	})
	if err != nil {
		s.sideChannelFailed(ctx, "ledger_tx_hash", id, err)
	}
}

func (s *RoundService) publish(ctx context.Context, typ string, r domain.Round, w *domain.Wager) {
	if s.events == nil {
		return
	}
	ev := domain.Event{
		Type:      typ,
		RoundID:   r.ID,
		Pool:      r.Snapshot(),
		Outcome:   r.Outcome,
		Wager:     w,
		Timestamp: s.now().UTC(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.sideChannelFailed(ctx, "events", r.ID, err)
	}
}

func (s *RoundService) auditLog(ctx context.Context, event string, id domain.RoundID, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, id, detail); err != nil {
		s.sideChannelFailed(ctx, "audit", id, err)
	}
}

func (s *RoundService) sideChannelFailed(ctx context.Context, channel string, id domain.RoundID, err error) {
	s.metrics.SideChannelError(channel)
	s.logger.WarnContext(ctx, "round_service: side channel failed",
		slog.String("channel", channel),
		slog.String("round_id", string(id)),
		slog.String("error", err.Error()),
	)
}
