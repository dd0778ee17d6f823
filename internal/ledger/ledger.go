// Package ledger is an in-memory value-transfer host. Accounts are
// addresses; value attached to calls enters through Collect and leaves
// through Send.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// Ledger tracks balances per address. Recipients can be blocked so that
// every transfer to them fails.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	blocked  map[common.Address]bool
}

var _ domain.Payer = (*Ledger)(nil)

func New() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]*big.Int),
		blocked:  make(map[common.Address]bool),
	}
}

// Collect credits to with value supplied by an external account.
func (l *Ledger) Collect(_ context.Context, _, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(to, amount)
	return nil
}

// Send moves amount from from to to.
func (l *Ledger) Send(_ context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.blocked[to] {
		return fmt.Errorf("ledger: recipient %s rejects transfers: %w", to.Hex(), domain.ErrTransferFailed)
	}
	bal := l.balanceOf(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: %s holds %s, sending %s: %w", from.Hex(), bal, amount, domain.ErrTransferFailed)
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return nil
}

// Credit sets up a balance directly, used when restoring persisted pools.
func (l *Ledger) Credit(addr common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(addr, amount)
}

// BalanceOf returns a copy of addr's balance.
func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceOf(addr))
}

// Block makes every transfer to addr fail until Unblock.
func (l *Ledger) Block(addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocked[addr] = true
}

func (l *Ledger) Unblock(addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.blocked, addr)
}

func (l *Ledger) balanceOf(addr common.Address) *big.Int {
	b, ok := l.balances[addr]
	if !ok {
		b = new(big.Int)
		l.balances[addr] = b
	}
	return b
}

func (l *Ledger) credit(addr common.Address, amount *big.Int) {
	b := l.balanceOf(addr)
	b.Add(b, amount)
}
