package memory

import (
	"context"
	"fmt"
	"sync"

	"upkeep-dispatcher/internal/domain"
)

// Ledger is an in-memory domain.Treasury. Balances held by the dispatcher are
// keyed by token; transfers are credited to per-account balances.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]uint64
	accounts map[string]map[string]uint64
	// failTransfers makes every Transfer fail, for exercising error paths.
	failTransfers bool
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]uint64),
		accounts: make(map[string]map[string]uint64),
	}
}

var _ domain.Treasury = (*Ledger)(nil)

// Deposit credits the dispatcher's balance of token.
func (l *Ledger) Deposit(token string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[token] += amount
}

// FailTransfers toggles transfer failure injection.
func (l *Ledger) FailTransfers(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failTransfers = fail
}

func (l *Ledger) Balance(_ context.Context, token string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[token], nil
}

// AccountBalance returns what account has received of token.
func (l *Ledger) AccountBalance(account, token string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[account][token]
}

func (l *Ledger) Transfer(_ context.Context, token, to string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failTransfers {
		return fmt.Errorf("%w: transfers disabled", domain.ErrTransferFailed)
	}
	if l.balances[token] < amount {
		return fmt.Errorf("%w: have %d, need %d", domain.ErrInsufficientBalance, l.balances[token], amount)
	}
	l.balances[token] -= amount
	if l.accounts[to] == nil {
		l.accounts[to] = make(map[string]uint64)
	}
	l.accounts[to][token] += amount
	return nil
}
