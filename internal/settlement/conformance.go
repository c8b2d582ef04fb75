package settlement

import "github.com/alanyoungcy/updown/internal/domain"

// ScenarioWager is one stake in a worked example and its expected payout.
type ScenarioWager struct {
	Participant string
	Side        domain.Side
	Amount      domain.Amount
	Payout      domain.Amount
}

// Scenario is a worked example every settlement implementation must
// reproduce exactly. Refund selects the emergency refund path instead of a
// price settlement.
type Scenario struct {
	Name    string
	Open    domain.Price
	Close   domain.Price
	Refund  bool
	Wagers  []ScenarioWager
	Outcome domain.Outcome
	Fee     domain.Amount
}

func price(whole int64) domain.Price { return domain.Price(whole * 100_000_000) }

func halfUnits(n int64) domain.Amount { return domain.Amount(n * 500_000) }

// Scenarios is the conformance table shared by the off-chain ledger and the
// escrow contract tests.
var Scenarios = []Scenario{
	{
		Name:  "A even pool up wins",
		Open:  price(500),
		Close: price(505),
		Wagers: []ScenarioWager{
			{Participant: "alice", Side: domain.SideUp, Amount: domain.Units(10), Payout: halfUnits(39)},
			{Participant: "bob", Side: domain.SideDown, Amount: domain.Units(10), Payout: 0},
		},
		Outcome: domain.OutcomeUp,
		Fee:     halfUnits(1),
	},
	{
		Name:  "B two winners split pro rata",
		Open:  price(500),
		Close: price(505),
		Wagers: []ScenarioWager{
			{Participant: "alice", Side: domain.SideUp, Amount: domain.Units(10), Payout: halfUnits(39)},
			{Participant: "carol", Side: domain.SideUp, Amount: domain.Units(20), Payout: domain.Units(39)},
			{Participant: "bob", Side: domain.SideDown, Amount: domain.Units(30), Payout: 0},
		},
		Outcome: domain.OutcomeUp,
		Fee:     halfUnits(3),
	},
	{
		Name:  "C one sided pool refunds",
		Open:  price(500),
		Close: price(505),
		Wagers: []ScenarioWager{
			{Participant: "alice", Side: domain.SideUp, Amount: domain.Units(10), Payout: domain.Units(10)},
			{Participant: "carol", Side: domain.SideUp, Amount: domain.Units(20), Payout: domain.Units(20)},
		},
		Outcome: domain.OutcomeCancelled,
		Fee:     0,
	},
	{
		Name:  "D flat close refunds",
		Open:  price(500),
		Close: price(500),
		Wagers: []ScenarioWager{
			{Participant: "alice", Side: domain.SideUp, Amount: domain.Units(10), Payout: domain.Units(10)},
			{Participant: "bob", Side: domain.SideDown, Amount: domain.Units(20), Payout: domain.Units(20)},
		},
		Outcome: domain.OutcomeTie,
		Fee:     0,
	},
	{
		Name:   "E emergency refund",
		Open:   price(500),
		Refund: true,
		Wagers: []ScenarioWager{
			{Participant: "alice", Side: domain.SideUp, Amount: domain.Units(10), Payout: domain.Units(10)},
			{Participant: "bob", Side: domain.SideDown, Amount: domain.Units(20), Payout: domain.Units(20)},
		},
		Outcome: domain.OutcomeRefunded,
		Fee:     0,
	},
}

// Pool sums the scenario's stakes per side.
func (s Scenario) Pool() Pool {
	var p Pool
	for _, w := range s.Wagers {
		if w.Side == domain.SideUp {
			p.Up += w.Amount
		} else {
			p.Down += w.Amount
		}
	}
	return p
}
