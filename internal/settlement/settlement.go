// Package settlement moves credits, payment and fees for matched trades
// against the ledger, all or nothing.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/ledger"
)

// Reconciler receives trades whose settlement failed.
type Reconciler interface {
	Report(t *domain.Trade)
}

type leg struct {
	name   string
	asset  string
	from   string
	to     string
	amount int64
}

// Coordinator settles trades synchronously at match time.
type Coordinator struct {
	ledger       ledger.Ledger
	feeRecipient string
	reconciler   Reconciler
	logger       *slog.Logger
	now          func() time.Time
}

// NewCoordinator creates a Coordinator paying fees to feeRecipient.
func NewCoordinator(l ledger.Ledger, feeRecipient string, rec Reconciler, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		ledger:       l,
		feeRecipient: feeRecipient,
		reconciler:   rec,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock replaces the time source used to stamp SettledAt.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Preflight checks that the seller holds the credits and the buyer holds
// the notional plus the buyer fee. The seller fee is withheld from the
// seller's proceeds, so the buyer's outlay covers it.
func (c *Coordinator) Preflight(ctx context.Context, t *domain.Trade) error {
	asset := t.Partition.CreditAsset()
	credits, err := c.ledger.BalanceOf(ctx, asset, t.Seller)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", t.Seller, err)
	}
	if credits < t.Quantity {
		return &domain.InsufficientBalanceError{
			Account: t.Seller, Asset: asset,
			Required: t.Quantity, Available: credits,
		}
	}

	required := t.Notional() + t.BuyerFee
	payment, err := c.ledger.BalanceOf(ctx, domain.PaymentAsset, t.Buyer)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", t.Buyer, err)
	}
	if payment < required {
		return &domain.InsufficientBalanceError{
			Account: t.Buyer, Asset: domain.PaymentAsset,
			Required: required, Available: payment,
		}
	}
	return nil
}

// Settle runs the pre-flight check and then every leg of the trade. If a
// leg fails, completed legs are reversed, the trade is marked failed and
// handed to the reconciler, and a *domain.SettlementError is returned.
// Order state is never rolled back here.
func (c *Coordinator) Settle(ctx context.Context, t *domain.Trade) error {
	if err := c.Preflight(ctx, t); err != nil {
		return c.fail(t, "preflight", err)
	}

	legs := c.legs(t)
	for i, l := range legs {
		if err := c.ledger.TransferFrom(ctx, l.asset, l.from, l.to, l.amount); err != nil {
			c.compensate(ctx, t, legs[:i])
			return c.fail(t, l.name, err)
		}
	}

	now := c.now()
	t.SettlementStatus = domain.SettlementSettled
	t.SettledAt = &now
	return nil
}

func (c *Coordinator) legs(t *domain.Trade) []leg {
	return []leg{
		{"credits", t.Partition.CreditAsset(), t.Seller, t.Buyer, t.Quantity},
		{"payment", domain.PaymentAsset, t.Buyer, t.Seller, t.Notional() - t.SellerFee},
		{"buyer_fee", domain.PaymentAsset, t.Buyer, c.feeRecipient, t.BuyerFee},
		{"seller_fee", domain.PaymentAsset, t.Buyer, c.feeRecipient, t.SellerFee},
	}
}

// compensate reverses done in reverse order. A reversal that fails is
// logged and left for reconciliation.
func (c *Coordinator) compensate(ctx context.Context, t *domain.Trade, done []leg) {
	for i := len(done) - 1; i >= 0; i-- {
		l := done[i]
		if err := c.ledger.TransferFrom(ctx, l.asset, l.to, l.from, l.amount); err != nil {
			c.logger.Error("settlement compensation failed",
				slog.String("trade_id", t.TradeID),
				slog.String("leg", l.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *Coordinator) fail(t *domain.Trade, legName string, err error) error {
	t.SettlementStatus = domain.SettlementFailed
	t.FailureReason = err.Error()

	c.logger.Error("settlement failed",
		slog.String("trade_id", t.TradeID),
		slog.String("leg", legName),
		slog.String("error", err.Error()),
	)
	if c.reconciler != nil {
		c.reconciler.Report(t)
	}
	return &domain.SettlementError{TradeID: t.TradeID, Leg: legName, Err: err}
}

// IsInsufficientBalance reports whether err carries a failed balance check
// and returns it.
func IsInsufficientBalance(err error) (*domain.InsufficientBalanceError, bool) {
	var ib *domain.InsufficientBalanceError
	ok := errors.As(err, &ib)
	return ib, ok
}
