package ledger

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is returned by Faulty when a transfer is made to fail.
var ErrInjected = errors.New("injected ledger failure")

// Transfer describes one attempted movement, for fault matching.
type Transfer struct {
	Asset  string
	From   string
	To     string
	Amount int64
}

// Faulty wraps a ledger and fails transfers matched by FailWhen. It also
// records every successful transfer. Used to exercise compensation paths.
type Faulty struct {
	*Memory
	FailWhen func(Transfer) bool

	mu  sync.Mutex
	log []Transfer
}

// NewFaulty wraps m.
func NewFaulty(m *Memory) *Faulty {
	return &Faulty{Memory: m}
}

func (f *Faulty) Transfer(ctx context.Context, asset, to string, amount int64) error {
	return f.TransferFrom(ctx, asset, f.Custody(), to, amount)
}

func (f *Faulty) TransferFrom(ctx context.Context, asset, from, to string, amount int64) error {
	tr := Transfer{Asset: asset, From: from, To: to, Amount: amount}
	if f.FailWhen != nil && f.FailWhen(tr) {
		return ErrInjected
	}
	if err := f.Memory.TransferFrom(ctx, asset, from, to, amount); err != nil {
		return err
	}
	f.mu.Lock()
	f.log = append(f.log, tr)
	f.mu.Unlock()
	return nil
}

// Transfers returns the successful transfers in order.
func (f *Faulty) Transfers() []Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transfer, len(f.log))
	copy(out, f.log)
	return out
}
