package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/store/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeQuotes struct {
	quote domain.Quote
	err   error
}

func (f *fakeQuotes) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	if f.err != nil {
		return domain.Quote{}, f.err
	}
	q := f.quote
	q.Symbol = symbol
	return q, nil
}

type fakeChain struct {
	mu      sync.Mutex
	err     error
	opened  []domain.RoundID
	settled []domain.RoundID
}

func (f *fakeChain) OpenRound(_ context.Context, id domain.RoundID, _ domain.Price) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.opened = append(f.opened, id)
	return "0xopen" + string(id), nil
}

func (f *fakeChain) Settle(_ context.Context, id domain.RoundID, _ domain.Price) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.settled = append(f.settled, id)
	return "0xsettle" + string(id), nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeEvents) Publish(_ context.Context, ev domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

type fakeArchive struct {
	mu       sync.Mutex
	receipts []domain.SettlementReceipt
}

func (f *fakeArchive) ArchiveReceipt(_ context.Context, r domain.SettlementReceipt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, r)
	return "receipts/" + string(r.Round.ID) + ".json", nil
}

type failingLocks struct{}

func (failingLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

var errFeedDown = errors.New("feed down")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// 2025-03-14 is a Friday; 14:00 UTC is 10:00 in New York.
var liveMorning = time.Date(2025, 3, 14, 14, 0, 0, 0, time.UTC)

const testRound = domain.RoundID("2025-03-14")

type harness struct {
	clock    *fakeClock
	ledger   *memory.Ledger
	pushed   *memory.PriceCache
	quotes   *fakeQuotes
	prices   *PriceService
	calendar *MarketCalendar
	svc      *RoundService
	accounts *AccountService
	audit    *memory.AuditLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:  &fakeClock{t: liveMorning},
		ledger: memory.NewLedger(),
		pushed: memory.NewPriceCache(),
		quotes: &fakeQuotes{quote: domain.Quote{Price: openPx, Open: openPx, Timestamp: liveMorning}},
		audit:  memory.NewAuditLog(),
	}
	cal, err := NewMarketCalendar("America/New_York", DefaultSessionHours)
	require.NoError(t, err)
	h.calendar = cal.WithClock(h.clock.Now)
	h.prices = NewPriceService("SPY", h.quotes, h.pushed, discardLogger()).WithClock(h.clock.Now)
	h.svc = NewRoundService(h.ledger, h.calendar, h.prices, DefaultRoundRules(), discardLogger()).
		WithClock(h.clock.Now).
		WithAudit(h.audit)
	h.accounts = NewAccountService(h.ledger, domain.Units(10_000), discardLogger())
	return h
}

const openPx = domain.Price(500_00000000)

func (h *harness) account(t *testing.T, id string, balance domain.Amount) {
	t.Helper()
	require.NoError(t, h.ledger.Create(context.Background(), domain.Account{ID: id, Name: id, Balance: balance}))
}

func (h *harness) balance(t *testing.T, id string) domain.Amount {
	t.Helper()
	a, err := h.ledger.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	_, err := h.svc.OpenRound(context.Background(), testRound, openPx)
	require.NoError(t, err)
}
