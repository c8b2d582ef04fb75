package notify

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/updown/internal/domain"
)

// RoundAlerts turns round events into operator messages. It implements
// domain.EventPublisher so it can sit in the event fan-out next to the bus.
type RoundAlerts struct {
	n *Notifier
}

var _ domain.EventPublisher = (*RoundAlerts)(nil)

func NewRoundAlerts(n *Notifier) *RoundAlerts {
	return &RoundAlerts{n: n}
}

func (a *RoundAlerts) Publish(ctx context.Context, ev domain.Event) error {
	title, msg, ok := describe(ev)
	if !ok {
		return nil
	}
	return a.n.Notify(ctx, ev.Type, title, msg)
}

// SettleFailed alerts that scheduled settlement gave up on round id.
func (a *RoundAlerts) SettleFailed(ctx context.Context, id domain.RoundID, attempts int, cause error) error {
	return a.n.Notify(ctx, domain.EventSettleFailed,
		"Settlement failed "+string(id),
		fmt.Sprintf("Gave up after %d attempts: %v. Push a price and settle manually.", attempts, cause))
}

func describe(ev domain.Event) (title, msg string, ok bool) {
	p := ev.Pool
	switch ev.Type {
	case domain.EventRoundOpened:
		return "Round opened " + string(ev.RoundID), "Betting is live.", true
	case domain.EventRoundSettled:
		return "Round settled " + string(ev.RoundID),
			fmt.Sprintf("Outcome %s. Up %s / Down %s across %d wagers.", ev.Outcome, p.TotalUp, p.TotalDown, p.Participants), true
	case domain.EventRoundRefunded:
		return "Round refunded " + string(ev.RoundID),
			fmt.Sprintf("All %d wagers returned.", p.Participants), true
	case domain.EventFeeClaimed:
		return "Fee claimed " + string(ev.RoundID), "", true
	}
	return "", "", false
}
