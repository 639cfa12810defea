// Package ledger implements the custodial asset: a fungible balance ledger
// with transfer, transfer-from and approve semantics.
package ledger

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/xtrntr/parimutuel/internal/models"
)

// Ledger is an in-memory fungible token ledger
type Ledger struct {
	mu         sync.RWMutex
	balances   map[models.Identity]int64
	allowances map[models.Identity]map[models.Identity]int64
	supply     int64
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		balances:   make(map[models.Identity]int64),
		allowances: make(map[models.Identity]map[models.Identity]int64),
	}
}

// Mint credits newly issued units to an account
func (l *Ledger) Mint(ctx context.Context, to models.Identity, amount int64) error {
	if amount <= 0 {
		return models.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.supply > maxSupply-amount {
		return models.ErrOverflow
	}
	l.balances[to] += amount
	l.supply += amount
	return nil
}

// Transfer moves amount from the caller's own balance to recipient
func (l *Ledger) Transfer(ctx context.Context, from, to models.Identity, amount int64) error {
	if amount < 0 {
		return models.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.move(from, to, amount)
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming spender's allowance
func (l *Ledger) TransferFrom(ctx context.Context, spender, owner, to models.Identity, amount int64) error {
	if amount < 0 {
		return models.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowances[owner][spender]
	if allowed < amount {
		return errors.Wrapf(models.ErrInsufficientAllow, "%s allows %s %d, need %d", owner, spender, allowed, amount)
	}
	if err := l.move(owner, to, amount); err != nil {
		return err
	}
	l.allowances[owner][spender] = allowed - amount
	return nil
}

// Approve sets the amount spender may move out of owner's balance
func (l *Ledger) Approve(ctx context.Context, owner, spender models.Identity, amount int64) error {
	if amount < 0 {
		return models.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[models.Identity]int64)
	}
	l.allowances[owner][spender] = amount
	return nil
}

// BalanceOf returns the balance of an account
func (l *Ledger) BalanceOf(account models.Identity) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

// Allowance returns how much spender may still move out of owner's balance
func (l *Ledger) Allowance(owner, spender models.Identity) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowances[owner][spender]
}

// TotalSupply returns the sum of all balances
func (l *Ledger) TotalSupply() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply
}

const maxSupply = int64(1<<63 - 1)

// move must be called with mu held
func (l *Ledger) move(from, to models.Identity, amount int64) error {
	if amount == 0 {
		return nil
	}
	have := l.balances[from]
	if have < amount {
		return errors.Wrapf(models.ErrInsufficientBalance, "%s holds %d, need %d", from, have, amount)
	}
	l.balances[from] = have - amount
	l.balances[to] += amount
	return nil
}
