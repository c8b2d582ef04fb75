package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RoundID identifies one trading day as "YYYY-MM-DD" in the market timezone.
type RoundID string

const roundIDLayout = "2006-01-02"

// ParseRoundID accepts either "YYYY-MM-DD" or the numeric "YYYYMMDD" form
// used on chain.
func ParseRoundID(s string) (RoundID, error) {
	if len(s) == 8 {
		if _, err := strconv.Atoi(s); err == nil {
			s = s[:4] + "-" + s[4:6] + "-" + s[6:]
		}
	}
	if _, err := time.Parse(roundIDLayout, s); err != nil {
		return "", ErrInvalidRoundID
	}
	return RoundID(s), nil
}

// RoundIDFor returns the round id for the calendar date of t in loc.
func RoundIDFor(t time.Time, loc *time.Location) RoundID {
	return RoundID(t.In(loc).Format(roundIDLayout))
}

// Valid reports whether id is a well formed, non-zero date.
func (id RoundID) Valid() bool {
	_, err := time.Parse(roundIDLayout, string(id))
	return err == nil
}

// Numeric returns the YYYYMMDD form. The zero id maps to 0.
func (id RoundID) Numeric() uint64 {
	t, err := time.Parse(roundIDLayout, string(id))
	if err != nil {
		return 0
	}
	return uint64(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// RoundIDFromNumeric converts a YYYYMMDD integer back into a RoundID.
func RoundIDFromNumeric(n uint64) (RoundID, error) {
	if n == 0 {
		return "", ErrInvalidRoundID
	}
	return ParseRoundID(fmt.Sprintf("%08d", n))
}

// Side is the direction a wager backs.
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// ParseSide accepts "up"/"down" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "up":
		return SideUp, nil
	case "down":
		return SideDown, nil
	}
	return "", ErrInvalidSide
}

// Bool returns true for Up, matching the on-chain isUp flag.
func (s Side) Bool() bool { return s == SideUp }

// RoundStatus is the lifecycle state of a round.
type RoundStatus string

const (
	RoundOpen     RoundStatus = "open"
	RoundSettled  RoundStatus = "settled"
	RoundRefunded RoundStatus = "refunded"
)

// Terminal reports whether no further transition is possible.
func (s RoundStatus) Terminal() bool {
	return s == RoundSettled || s == RoundRefunded
}

// Outcome records how a round resolved.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeUp        Outcome = "up"
	OutcomeDown      Outcome = "down"
	OutcomeTie       Outcome = "tie"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeRefunded  Outcome = "refunded"
)

// RefundsAll reports whether every stake is returned unchanged.
func (o Outcome) RefundsAll() bool {
	return o == OutcomeTie || o == OutcomeCancelled || o == OutcomeRefunded
}

// Round is one daily market.
type Round struct {
	ID         RoundID     `json:"id"`
	Status     RoundStatus `json:"status"`
	OpenPrice  Price       `json:"open_price"`
	ClosePrice *Price      `json:"close_price,omitempty"`
	Outcome    Outcome     `json:"outcome,omitempty"`
	TotalUp    Amount      `json:"total_up"`
	TotalDown  Amount      `json:"total_down"`
	UpCount    int         `json:"up_count"`
	DownCount  int         `json:"down_count"`
	Fee        Amount      `json:"fee"`
	FeeClaimed bool        `json:"fee_claimed"`
	OpenedAt   time.Time   `json:"opened_at"`
	SettledAt  *time.Time  `json:"settled_at,omitempty"`
	OpenTx     string      `json:"open_tx,omitempty"`
	SettleTx   string      `json:"settle_tx,omitempty"`
}

// Participants returns the number of wagers in the round.
func (r Round) Participants() int { return r.UpCount + r.DownCount }

// Pool returns the total staked on both sides.
func (r Round) Pool() Amount { return r.TotalUp + r.TotalDown }

// Stake adds a wager to the round's side totals.
func (r *Round) Stake(side Side, amount Amount) {
	if side == SideUp {
		r.TotalUp += amount
		r.UpCount++
		return
	}
	r.TotalDown += amount
	r.DownCount++
}

// PoolSnapshot is the public view of the live round.
type PoolSnapshot struct {
	RoundID      RoundID `json:"round_id"`
	TotalUp      Amount  `json:"total_up"`
	TotalDown    Amount  `json:"total_down"`
	Participants int     `json:"participants"`
}

// Snapshot returns the pool view of r.
func (r Round) Snapshot() PoolSnapshot {
	return PoolSnapshot{
		RoundID:      r.ID,
		TotalUp:      r.TotalUp,
		TotalDown:    r.TotalDown,
		Participants: r.Participants(),
	}
}
