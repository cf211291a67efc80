package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_TransferFrom(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("custody")
	m.Deposit("payment", "alice", 1000)

	if err := m.TransferFrom(ctx, "payment", "alice", "bob", 400); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if got, _ := m.BalanceOf(ctx, "payment", "alice"); got != 600 {
		t.Errorf("alice = %d, want 600", got)
	}
	if got, _ := m.BalanceOf(ctx, "payment", "bob"); got != 400 {
		t.Errorf("bob = %d, want 400", got)
	}
}

func TestMemory_TransferFrom_Insufficient(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("custody")
	m.Deposit("payment", "alice", 10)

	err := m.TransferFrom(ctx, "payment", "alice", "bob", 11)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got, _ := m.BalanceOf(ctx, "payment", "alice"); got != 10 {
		t.Errorf("balance changed on failed transfer: %d", got)
	}
}

func TestMemory_NegativeAmount(t *testing.T) {
	m := NewMemory("custody")
	if err := m.TransferFrom(context.Background(), "payment", "a", "b", -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestMemory_TransferFromCustody(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("custody")
	m.Deposit("credit:VCS:2024", "custody", 50)
	if err := m.Transfer(ctx, "credit:VCS:2024", "alice", 50); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got, _ := m.BalanceOf(ctx, "credit:VCS:2024", "alice"); got != 50 {
		t.Errorf("alice = %d, want 50", got)
	}
}

func TestFaulty_FailsMatchedTransfers(t *testing.T) {
	ctx := context.Background()
	f := NewFaulty(NewMemory("custody"))
	f.Deposit("payment", "alice", 100)
	f.FailWhen = func(tr Transfer) bool { return tr.To == "fees" }

	if err := f.TransferFrom(ctx, "payment", "alice", "fees", 1); !errors.Is(err, ErrInjected) {
		t.Fatalf("expected ErrInjected, got %v", err)
	}
	if err := f.TransferFrom(ctx, "payment", "alice", "bob", 1); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if got := f.Transfers(); len(got) != 1 || got[0].To != "bob" {
		t.Errorf("Transfers() = %+v", got)
	}
}
