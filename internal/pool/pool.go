// Package pool operates constant-ratio liquidity pools, one per partition.
// Providers deposit credits and payment for proportional shares and
// withdraw their share of both reserves. There is no swap.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/efreitasn/carbonexchange/internal/compliance"
	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/events"
	"github.com/efreitasn/carbonexchange/internal/ledger"
)

// Pool is one partition's reserves and positions. Its lock is the pool's
// serialization boundary, separate from the order book.
type Pool struct {
	partition domain.Partition

	mu             sync.Mutex
	creditReserve  uint64
	paymentReserve uint64
	totalShares    uint64
	positions      map[string]uint64 // provider → shares
}

func newPool(p domain.Partition) *Pool {
	return &Pool{partition: p, positions: make(map[string]uint64)}
}

// Manager routes liquidity operations to the partition's pool.
type Manager struct {
	ledger     ledger.Ledger
	custody    string
	compliance compliance.Checker
	publisher  events.Publisher
	logger     *slog.Logger

	mu    sync.RWMutex
	pools map[domain.Partition]*Pool
}

// NewManager creates a Manager holding reserves in custody.
func NewManager(l ledger.Ledger, custody string, c compliance.Checker, publisher events.Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Manager{
		ledger:     l,
		custody:    custody,
		compliance: c,
		publisher:  publisher,
		logger:     logger,
		pools:      make(map[domain.Partition]*Pool),
	}
}

func (m *Manager) getOrCreate(p domain.Partition) *Pool {
	m.mu.RLock()
	pl, ok := m.pools[p]
	m.mu.RUnlock()
	if ok {
		return pl
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pl, ok = m.pools[p]; ok {
		return pl
	}
	pl = newPool(p)
	m.pools[p] = pl
	return pl
}

// Add deposits both amounts into custody and issues shares to provider.
// The first deposit sets the pool's ratio.
func (m *Manager) Add(ctx context.Context, provider string, p domain.Partition, creditAmount, paymentAmount uint64) (uint64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if err := validAmount("credit_amount", creditAmount); err != nil {
		return 0, err
	}
	if err := validAmount("payment_amount", paymentAmount); err != nil {
		return 0, err
	}
	if err := compliance.Check(ctx, m.compliance, provider); err != nil {
		return 0, err
	}

	pl := m.getOrCreate(p)
	pl.mu.Lock()

	var shares uint64
	var err error
	if pl.totalShares == 0 {
		shares, err = initialShares(creditAmount, paymentAmount)
	} else {
		shares, err = proportionalShares(creditAmount, paymentAmount, pl.creditReserve, pl.paymentReserve, pl.totalShares)
	}
	if err == nil && shares == 0 {
		err = domain.ErrZeroLiquidity
	}
	if err == nil && (pl.creditReserve > math.MaxUint64-creditAmount ||
		pl.paymentReserve > math.MaxUint64-paymentAmount ||
		pl.totalShares > math.MaxUint64-shares) {
		err = ErrOverflow
	}
	if err != nil {
		pl.mu.Unlock()
		return 0, err
	}

	if err := m.deposit(ctx, provider, p, int64(creditAmount), int64(paymentAmount)); err != nil {
		pl.mu.Unlock()
		return 0, err
	}

	pl.creditReserve += creditAmount
	pl.paymentReserve += paymentAmount
	pl.totalShares += shares
	pl.positions[provider] += shares
	pl.mu.Unlock()

	m.logger.Info("liquidity added",
		slog.String("partition", p.String()),
		slog.String("provider", provider),
		slog.Uint64("shares", shares),
	)
	m.publisher.Publish(events.LiquidityAdded{
		Provider:      provider,
		CreditAmount:  creditAmount,
		PaymentAmount: paymentAmount,
		Shares:        shares,
	})
	return shares, nil
}

// deposit moves both legs into custody, returning the credits if the
// payment leg fails.
func (m *Manager) deposit(ctx context.Context, provider string, p domain.Partition, credit, payment int64) error {
	asset := p.CreditAsset()
	for _, need := range []struct {
		asset  string
		amount int64
	}{{asset, credit}, {domain.PaymentAsset, payment}} {
		available, err := m.ledger.BalanceOf(ctx, need.asset, provider)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", provider, err)
		}
		if available < need.amount {
			return &domain.InsufficientBalanceError{
				Account: provider, Asset: need.asset,
				Required: need.amount, Available: available,
			}
		}
	}

	if err := m.ledger.TransferFrom(ctx, asset, provider, m.custody, credit); err != nil {
		return fmt.Errorf("deposit credits: %w", err)
	}
	if err := m.ledger.TransferFrom(ctx, domain.PaymentAsset, provider, m.custody, payment); err != nil {
		if rerr := m.ledger.Transfer(ctx, asset, provider, credit); rerr != nil {
			m.logger.Error("returning deposited credits failed",
				slog.String("provider", provider),
				slog.String("error", rerr.Error()),
			)
		}
		return fmt.Errorf("deposit payment: %w", err)
	}
	return nil
}

// Remove burns shares and pays out the provider's proportion of both
// reserves. The position is deleted when it reaches zero.
func (m *Manager) Remove(ctx context.Context, provider string, p domain.Partition, shares uint64) (creditAmount, paymentAmount uint64, err error) {
	if shares == 0 {
		return 0, 0, &domain.ValidationError{Message: "shares must be positive"}
	}

	pl := m.getOrCreate(p)
	pl.mu.Lock()

	if pl.positions[provider] < shares {
		pl.mu.Unlock()
		return 0, 0, domain.ErrInsufficientShares
	}
	creditAmount, err = payout(pl.creditReserve, shares, pl.totalShares)
	if err == nil {
		paymentAmount, err = payout(pl.paymentReserve, shares, pl.totalShares)
	}
	if err != nil {
		pl.mu.Unlock()
		return 0, 0, err
	}

	if err := m.withdraw(ctx, provider, p, int64(creditAmount), int64(paymentAmount)); err != nil {
		pl.mu.Unlock()
		return 0, 0, err
	}

	pl.creditReserve -= creditAmount
	pl.paymentReserve -= paymentAmount
	pl.totalShares -= shares
	pl.positions[provider] -= shares
	if pl.positions[provider] == 0 {
		delete(pl.positions, provider)
	}
	pl.mu.Unlock()

	m.logger.Info("liquidity removed",
		slog.String("partition", p.String()),
		slog.String("provider", provider),
		slog.Uint64("shares", shares),
	)
	m.publisher.Publish(events.LiquidityRemoved{
		Provider:      provider,
		CreditAmount:  creditAmount,
		PaymentAmount: paymentAmount,
		Shares:        shares,
	})
	return creditAmount, paymentAmount, nil
}

func (m *Manager) withdraw(ctx context.Context, provider string, p domain.Partition, credit, payment int64) error {
	asset := p.CreditAsset()
	if err := m.ledger.Transfer(ctx, asset, provider, credit); err != nil {
		return fmt.Errorf("withdraw credits: %w", err)
	}
	if err := m.ledger.Transfer(ctx, domain.PaymentAsset, provider, payment); err != nil {
		if rerr := m.ledger.TransferFrom(ctx, asset, provider, m.custody, credit); rerr != nil {
			m.logger.Error("reclaiming withdrawn credits failed",
				slog.String("provider", provider),
				slog.String("error", rerr.Error()),
			)
		}
		return fmt.Errorf("withdraw payment: %w", err)
	}
	return nil
}

// Reserves returns the partition pool's reserves and share supply.
func (m *Manager) Reserves(p domain.Partition) domain.PoolReserves {
	m.mu.RLock()
	pl, ok := m.pools[p]
	m.mu.RUnlock()
	if !ok {
		return domain.PoolReserves{Partition: p}
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return domain.PoolReserves{
		Partition:      p,
		CreditReserve:  pl.creditReserve,
		PaymentReserve: pl.paymentReserve,
		TotalShares:    pl.totalShares,
		Providers:      len(pl.positions),
	}
}

// Position returns a provider's shares in the partition's pool.
func (m *Manager) Position(p domain.Partition, provider string) domain.LiquidityPosition {
	m.mu.RLock()
	pl, ok := m.pools[p]
	m.mu.RUnlock()
	if !ok {
		return domain.LiquidityPosition{Provider: provider}
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return domain.LiquidityPosition{Provider: provider, Shares: pl.positions[provider]}
}

func validAmount(field string, v uint64) error {
	if v == 0 || v > math.MaxInt64 {
		return &domain.ValidationError{Message: field + " must be between 1 and 2^63-1"}
	}
	return nil
}
