package service

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/updown/internal/domain"
)

// MarketPhase is the trading-session phase of the underlying market.
type MarketPhase string

const (
	PhasePreMarket MarketPhase = "pre-market"
	PhaseLive      MarketPhase = "live"
	PhaseSettling  MarketPhase = "settling"
	PhaseClosed    MarketPhase = "closed"
	PhaseWeekend   MarketPhase = "weekend"
)

// MarketState describes the current phase and the next scheduled change.
type MarketState struct {
	Phase         MarketPhase `json:"state"`
	NextEvent     string      `json:"next_event"`
	NextEventTime time.Time   `json:"next_event_time"`
}

// SessionHours are minute-of-day offsets in the market timezone.
type SessionHours struct {
	Open   int // 9:30 -> 570
	Close  int // 16:00 -> 960
	Settle int // 16:35 -> 995
}

// DefaultSessionHours is the regular US equity session.
var DefaultSessionHours = SessionHours{Open: 9*60 + 30, Close: 16 * 60, Settle: 16*60 + 35}

// MarketCalendar derives round ids and betting windows from wall-clock time.
type MarketCalendar struct {
	loc   *time.Location
	hours SessionHours
	now   func() time.Time
}

// NewMarketCalendar loads tz (for example "America/New_York").
func NewMarketCalendar(tz string, hours SessionHours) (*MarketCalendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("market_calendar: load timezone %q: %w", tz, err)
	}
	return &MarketCalendar{loc: loc, hours: hours, now: time.Now}, nil
}

// WithClock replaces the wall clock. Tests use it to pin time.
func (c *MarketCalendar) WithClock(now func() time.Time) *MarketCalendar {
	c.now = now
	return c
}

// Location returns the market timezone.
func (c *MarketCalendar) Location() *time.Location { return c.loc }

// Now returns the current time in the market timezone.
func (c *MarketCalendar) Now() time.Time { return c.now().In(c.loc) }

// TodayRoundID returns the round id for the current market date.
func (c *MarketCalendar) TodayRoundID() domain.RoundID {
	return domain.RoundIDFor(c.now(), c.loc)
}

// BettingOpen reports whether wagers are accepted right now.
func (c *MarketCalendar) BettingOpen() bool {
	return c.StateAt(c.now()).Phase == PhaseLive
}

// State returns the current market state.
func (c *MarketCalendar) State() MarketState { return c.StateAt(c.now()) }

// StateAt returns the market state at t.
func (c *MarketCalendar) StateAt(t time.Time) MarketState {
	et := t.In(c.loc)
	mins := et.Hour()*60 + et.Minute()

	switch et.Weekday() {
	case time.Saturday:
		return MarketState{PhaseWeekend, "Market opens", c.at(et, 2, c.hours.Open)}
	case time.Sunday:
		return MarketState{PhaseWeekend, "Market opens", c.at(et, 1, c.hours.Open)}
	}

	switch {
	case mins < c.hours.Open:
		return MarketState{PhasePreMarket, "Market opens", c.at(et, 0, c.hours.Open)}
	case mins < c.hours.Close:
		return MarketState{PhaseLive, "Market closes", c.at(et, 0, c.hours.Close)}
	case mins < c.hours.Settle:
		return MarketState{PhaseSettling, "Settlement complete", c.at(et, 0, c.hours.Settle)}
	}
	days := 1
	if et.Weekday() == time.Friday {
		days = 3
	}
	return MarketState{PhaseClosed, "Market opens", c.at(et, days, c.hours.Open)}
}

func (c *MarketCalendar) at(day time.Time, addDays, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+addDays, minute/60, minute%60, 0, 0, c.loc)
}
