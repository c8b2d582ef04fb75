package domain

import (
	"context"
	"time"
)

// Quote is a point-in-time reading of the underlying index.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         Price     `json:"price"`
	Open          Price     `json:"open"`
	PreviousClose Price     `json:"previous_close"`
	MarketState   string    `json:"market_state"`
	Timestamp     time.Time `json:"timestamp"`
}

// QuoteSupplier fetches live quotes from an external feed.
type QuoteSupplier interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}

// ChainMirror replays round transitions onto the escrow contract. Calls are
// best effort: a failure never blocks the off-chain ledger.
type ChainMirror interface {
	OpenRound(ctx context.Context, id RoundID, openPrice Price) (txHash string, err error)
	Settle(ctx context.Context, id RoundID, closePrice Price) (txHash string, err error)
}

// Event kinds published after a committed transition.
const (
	EventRoundOpened   = "round_opened"
	EventWagerPlaced   = "wager_placed"
	EventRoundSettled  = "round_settled"
	EventRoundRefunded = "round_refunded"
	EventFeeClaimed    = "fee_claimed"
	EventSettleFailed  = "settle_failed"
)

// Event is the payload pushed to subscribers of round activity.
type Event struct {
	Type      string       `json:"type"`
	RoundID   RoundID      `json:"round_id"`
	Pool      PoolSnapshot `json:"pool"`
	Outcome   Outcome      `json:"outcome,omitempty"`
	Wager     *Wager       `json:"wager,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// EventPublisher fans out events to external subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}
