package escrow

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/updown/internal/domain"
)

// Token is the subset of ERC-20 the escrow needs. The spender argument is
// the account moving funds on someone else's behalf.
type Token interface {
	Address() common.Address
	BalanceOf(owner common.Address) domain.Amount
	Transfer(from, to common.Address, amount domain.Amount) error
	TransferFrom(spender, from, to common.Address, amount domain.Amount) error
}

var (
	ErrInsufficientBalance   = errors.New("ERC20: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("ERC20: insufficient allowance")
)

// MemToken is an in-memory ERC-20 with allowances.
type MemToken struct {
	mu         sync.Mutex
	addr       common.Address
	balances   map[common.Address]domain.Amount
	allowances map[common.Address]map[common.Address]domain.Amount
}

var _ Token = (*MemToken)(nil)

func NewMemToken(addr common.Address) *MemToken {
	return &MemToken{
		addr:       addr,
		balances:   map[common.Address]domain.Amount{},
		allowances: map[common.Address]map[common.Address]domain.Amount{},
	}
}

func (t *MemToken) Address() common.Address { return t.addr }

// Mint credits amount to to.
func (t *MemToken) Mint(to common.Address, amount domain.Amount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] += amount
}

// Approve sets spender's allowance over owner's balance.
func (t *MemToken) Approve(owner, spender common.Address, amount domain.Amount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = map[common.Address]domain.Amount{}
	}
	t.allowances[owner][spender] = amount
}

func (t *MemToken) BalanceOf(owner common.Address) domain.Amount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[owner]
}

func (t *MemToken) Transfer(from, to common.Address, amount domain.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *MemToken) TransferFrom(spender, from, to common.Address, amount domain.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[from][spender] < amount {
		return ErrInsufficientAllowance
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][spender] -= amount
	return nil
}

func (t *MemToken) move(from, to common.Address, amount domain.Amount) error {
	if t.balances[from] < amount {
		return ErrInsufficientBalance
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}
