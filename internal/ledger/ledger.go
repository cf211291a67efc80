// Package ledger defines the asset ledger the exchange settles against and
// an in-memory implementation of it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// Ledger moves balances of named assets between accounts. Transfer moves
// funds out of the exchange's custody account.
type Ledger interface {
	BalanceOf(ctx context.Context, asset, account string) (int64, error)
	Transfer(ctx context.Context, asset, to string, amount int64) error
	TransferFrom(ctx context.Context, asset, from, to string, amount int64) error
}

// Memory is a thread-safe in-memory ledger.
type Memory struct {
	custody  string
	mu       sync.Mutex
	balances map[string]map[string]int64 // asset → account → balance
}

// NewMemory creates an empty ledger whose custody account is custody.
func NewMemory(custody string) *Memory {
	return &Memory{
		custody:  custody,
		balances: make(map[string]map[string]int64),
	}
}

// Custody returns the name of the exchange's custody account.
func (m *Memory) Custody() string {
	return m.custody
}

// Deposit credits amount of asset to account out of thin air.
func (m *Memory) Deposit(asset, account string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account(asset)[account] += amount
}

// BalanceOf returns the account's balance of asset.
func (m *Memory) BalanceOf(_ context.Context, asset, account string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[asset][account], nil
}

// Transfer moves amount of asset from custody to the given account.
func (m *Memory) Transfer(ctx context.Context, asset, to string, amount int64) error {
	return m.TransferFrom(ctx, asset, m.custody, to, amount)
}

// TransferFrom moves amount of asset between two accounts.
func (m *Memory) TransferFrom(_ context.Context, asset, from, to string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("transfer %d %s: %w", amount, asset, ErrInvalidAmount)
	}
	if amount == 0 || from == to {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	accts := m.account(asset)
	if accts[from] < amount {
		return fmt.Errorf("transfer %d %s from %s: %w", amount, asset, from, ErrInsufficientFunds)
	}
	accts[from] -= amount
	accts[to] += amount
	return nil
}

func (m *Memory) account(asset string) map[string]int64 {
	a, ok := m.balances[asset]
	if !ok {
		a = make(map[string]int64)
		m.balances[asset] = a
	}
	return a
}
