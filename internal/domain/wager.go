package domain

import "time"

// WagerResult is the per-wager resolution.
type WagerResult string

const (
	ResultUnresolved WagerResult = "unresolved"
	ResultWin        WagerResult = "win"
	ResultLoss       WagerResult = "loss"
	ResultPush       WagerResult = "push"
)

// Wager is one participant's stake on one side of one round. Amount and Side
// never change after placement.
type Wager struct {
	ID          string      `json:"id"`
	RoundID     RoundID     `json:"round_id"`
	Participant string      `json:"participant"`
	PlacedBy    string      `json:"placed_by,omitempty"`
	Side        Side        `json:"side"`
	Amount      Amount      `json:"amount"`
	Result      WagerResult `json:"result"`
	Payout      Amount      `json:"payout"`
	Claimed     bool        `json:"claimed"`
	PlacedAt    time.Time   `json:"placed_at"`
	SettledAt   *time.Time  `json:"settled_at,omitempty"`
}

// Profit is the net gain of a resolved wager.
func (w Wager) Profit() Amount { return w.Payout - w.Amount }

// Account is an off-chain participant holding a credit balance.
type Account struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	APIKey        string     `json:"-"`
	Balance       Amount     `json:"balance"`
	TotalBets     int        `json:"total_bets"`
	TotalWins     int        `json:"total_wins"`
	TotalLosses   int        `json:"total_losses"`
	TotalProfit   Amount     `json:"total_profit"`
	CurrentStreak int        `json:"current_streak"`
	BestStreak    int        `json:"best_streak"`
	CreatedAt     time.Time  `json:"created_at"`
	LastBetAt     *time.Time `json:"last_bet_at,omitempty"`
}

// Record folds a resolved wager into the account statistics. Pushes leave
// the streak untouched.
func (a *Account) Record(w Wager) {
	a.TotalProfit += w.Profit()
	switch w.Result {
	case ResultWin:
		a.TotalWins++
		a.CurrentStreak++
		if a.CurrentStreak > a.BestStreak {
			a.BestStreak = a.CurrentStreak
		}
	case ResultLoss:
		a.TotalLosses++
		a.CurrentStreak = 0
	}
}
