// Package memory is an in-process implementation of the ledger and account
// stores. Transactions run under a single mutex against a copy of the state
// that replaces the original only on commit, so a failed callback leaves no
// partial writes behind. It backs tests and single-node dev runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/updown/internal/domain"
)

type wagerKey struct {
	round       domain.RoundID
	participant string
}

type state struct {
	rounds   map[domain.RoundID]domain.Round
	wagers   map[wagerKey]domain.Wager
	accounts map[string]domain.Account
	paused   bool
}

func (s *state) clone() *state {
	c := &state{
		rounds:   make(map[domain.RoundID]domain.Round, len(s.rounds)),
		wagers:   make(map[wagerKey]domain.Wager, len(s.wagers)),
		accounts: make(map[string]domain.Account, len(s.accounts)),
		paused:   s.paused,
	}
	for k, v := range s.rounds {
		c.rounds[k] = v
	}
	for k, v := range s.wagers {
		c.wagers[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	return c
}

// Ledger implements domain.Ledger and domain.AccountStore.
type Ledger struct {
	mu sync.Mutex
	st *state
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{st: &state{
		rounds:   map[domain.RoundID]domain.Round{},
		wagers:   map[wagerKey]domain.Wager{},
		accounts: map[string]domain.Account{},
	}}
}

var (
	_ domain.Ledger       = (*Ledger)(nil)
	_ domain.AccountStore = (*Ledger)(nil)
	_ domain.LedgerTx     = (*tx)(nil)
)

// InTx runs fn against a private copy of the state and publishes it only
// when fn returns nil.
func (l *Ledger) InTx(ctx context.Context, fn func(domain.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{st: l.st.clone()}
	if err := fn(t); err != nil {
		return err
	}
	l.st = t.st
	return nil
}

func (l *Ledger) read() *state {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st
}

func (l *Ledger) GetRound(_ context.Context, id domain.RoundID) (domain.Round, error) {
	r, ok := l.read().rounds[id]
	if !ok {
		return domain.Round{}, domain.ErrNotFound
	}
	return r, nil
}

func (l *Ledger) FindOpenRound(_ context.Context) (domain.Round, error) {
	return findOpen(l.read())
}

func (l *Ledger) ListRounds(_ context.Context, opts domain.ListOpts) ([]domain.Round, error) {
	st := l.read()
	out := make([]domain.Round, 0, len(st.rounds))
	for _, r := range st.rounds {
		if opts.Since != nil && r.OpenedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && r.OpenedAt.After(*opts.Until) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, opts), nil
}

func (l *Ledger) GetWager(_ context.Context, roundID domain.RoundID, participant string) (domain.Wager, error) {
	w, ok := l.read().wagers[wagerKey{roundID, participant}]
	if !ok {
		return domain.Wager{}, domain.ErrNotFound
	}
	return w, nil
}

func (l *Ledger) ListWagers(_ context.Context, roundID domain.RoundID) ([]domain.Wager, error) {
	return wagersOf(l.read(), roundID), nil
}

func (l *Ledger) ListWagersByParticipant(_ context.Context, participant string, opts domain.ListOpts) ([]domain.Wager, error) {
	st := l.read()
	var out []domain.Wager
	for k, w := range st.wagers {
		if k.participant == participant {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundID > out[j].RoundID })
	return paginate(out, opts), nil
}

func (l *Ledger) Paused(_ context.Context) (bool, error) {
	return l.read().paused, nil
}

// Create registers a new account.
func (l *Ledger) Create(_ context.Context, a domain.Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.st.accounts[a.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, existing := range l.st.accounts {
		if existing.Name == a.Name || (a.APIKey != "" && existing.APIKey == a.APIKey) {
			return domain.ErrAlreadyExists
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	st := l.st.clone()
	st.accounts[a.ID] = a
	l.st = st
	return nil
}

func (l *Ledger) GetByID(_ context.Context, id string) (domain.Account, error) {
	a, ok := l.read().accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

func (l *Ledger) GetByAPIKey(_ context.Context, key string) (domain.Account, error) {
	for _, a := range l.read().accounts {
		if key != "" && a.APIKey == key {
			return a, nil
		}
	}
	return domain.Account{}, domain.ErrNotFound
}

func (l *Ledger) Leaderboard(_ context.Context, limit int) ([]domain.Account, error) {
	st := l.read()
	out := make([]domain.Account, 0, len(st.accounts))
	for _, a := range st.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Balance != out[j].Balance {
			return out[i].Balance > out[j].Balance
		}
		return out[i].Name < out[j].Name
	})
	return paginate(out, domain.ListOpts{Limit: limit}), nil
}

type tx struct {
	st *state
}

func (t *tx) FindOpenRound(_ context.Context) (domain.Round, error) {
	return findOpen(t.st)
}

func (t *tx) LockRound(_ context.Context, id domain.RoundID) (domain.Round, error) {
	r, ok := t.st.rounds[id]
	if !ok {
		return domain.Round{}, domain.ErrNotFound
	}
	return r, nil
}

func (t *tx) InsertRound(_ context.Context, r domain.Round) error {
	if _, ok := t.st.rounds[r.ID]; ok {
		return domain.ErrRoundExists
	}
	if r.Status == domain.RoundOpen {
		if _, err := findOpen(t.st); err == nil {
			return domain.ErrPreviousOpen
		}
	}
	t.st.rounds[r.ID] = r
	return nil
}

func (t *tx) UpdateRound(_ context.Context, r domain.Round) error {
	if _, ok := t.st.rounds[r.ID]; !ok {
		return domain.ErrNotFound
	}
	t.st.rounds[r.ID] = r
	return nil
}

func (t *tx) InsertWager(_ context.Context, w domain.Wager) error {
	k := wagerKey{w.RoundID, w.Participant}
	if _, ok := t.st.wagers[k]; ok {
		return domain.ErrAlreadyBet
	}
	t.st.wagers[k] = w
	return nil
}

func (t *tx) ListWagers(_ context.Context, roundID domain.RoundID) ([]domain.Wager, error) {
	return wagersOf(t.st, roundID), nil
}

func (t *tx) UpdateWager(_ context.Context, w domain.Wager) error {
	k := wagerKey{w.RoundID, w.Participant}
	if _, ok := t.st.wagers[k]; !ok {
		return domain.ErrNotFound
	}
	t.st.wagers[k] = w
	return nil
}

func (t *tx) LockAccount(_ context.Context, id string) (domain.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

func (t *tx) UpdateAccount(_ context.Context, a domain.Account) error {
	if _, ok := t.st.accounts[a.ID]; !ok {
		return domain.ErrNotFound
	}
	t.st.accounts[a.ID] = a
	return nil
}

func (t *tx) ResetBankrupt(_ context.Context, floor domain.Amount) (int64, error) {
	var n int64
	for id, a := range t.st.accounts {
		if a.Balance <= 0 {
			a.Balance = floor
			t.st.accounts[id] = a
			n++
		}
	}
	return n, nil
}

func (t *tx) Paused(_ context.Context) (bool, error) {
	return t.st.paused, nil
}

func (t *tx) SetPaused(_ context.Context, paused bool) error {
	t.st.paused = paused
	return nil
}

func findOpen(st *state) (domain.Round, error) {
	for _, r := range st.rounds {
		if r.Status == domain.RoundOpen {
			return r, nil
		}
	}
	return domain.Round{}, domain.ErrNotFound
}

func wagersOf(st *state, roundID domain.RoundID) []domain.Wager {
	var out []domain.Wager
	for k, w := range st.wagers {
		if k.round == roundID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].PlacedAt.Before(out[j].PlacedAt)
		}
		return out[i].Participant < out[j].Participant
	})
	return out
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
