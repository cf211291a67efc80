// Package params holds the market parameters an administrator may tune at
// runtime: fee rates, order bounds and risk limits.
package params

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/carbonexchange/internal/access"
	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/fee"
)

// Administrative ceilings on fee rates, in basis points.
const (
	MaxTradingFeeBps = 100
	MaxAuctionFeeBps = 500
)

// Params is a consistent set of market parameters.
type Params struct {
	MakerFeeBps   int64
	TakerFeeBps   int64
	AuctionFeeBps int64

	MinOrderQuantity int64
	MaxOrderQuantity int64
	MaxOrderDuration time.Duration
	TickSize         int64 // cents

	MaxQuantityPerOrder int64
	DailyVolumeCap      int64
	DailyOrderCountCap  int64

	BreakerThreshold decimal.Decimal // fraction, 0.10 = 10%
	BreakerCooldown  time.Duration

	MaxAuctionDuration time.Duration
}

// Defaults returns the parameters a fresh market starts with.
func Defaults() Params {
	return Params{
		MakerFeeBps:         10,
		TakerFeeBps:         20,
		AuctionFeeBps:       50,
		MinOrderQuantity:    1,
		MaxOrderQuantity:    1_000_000,
		MaxOrderDuration:    30 * 24 * time.Hour,
		TickSize:            1,
		MaxQuantityPerOrder: 1_000_000,
		DailyVolumeCap:      10_000_000,
		DailyOrderCountCap:  1_000,
		BreakerThreshold:    decimal.NewFromFloat(0.10),
		BreakerCooldown:     5 * time.Minute,
		MaxAuctionDuration:  7 * 24 * time.Hour,
	}
}

// FeeRates returns the fee rates in effect.
func (p Params) FeeRates() fee.Rates {
	return fee.Rates{MakerBps: p.MakerFeeBps, TakerBps: p.TakerFeeBps, AuctionBps: p.AuctionFeeBps}
}

// Validate checks bounds and internal consistency.
func (p Params) Validate() error {
	if p.MakerFeeBps < 0 || p.MakerFeeBps > MaxTradingFeeBps {
		return fmt.Errorf("maker fee must be between 0 and %d bps", MaxTradingFeeBps)
	}
	if p.TakerFeeBps < 0 || p.TakerFeeBps > MaxTradingFeeBps {
		return fmt.Errorf("taker fee must be between 0 and %d bps", MaxTradingFeeBps)
	}
	if p.AuctionFeeBps < 0 || p.AuctionFeeBps > MaxAuctionFeeBps {
		return fmt.Errorf("auction fee must be between 0 and %d bps", MaxAuctionFeeBps)
	}
	if p.MinOrderQuantity < 1 {
		return fmt.Errorf("min order quantity must be >= 1")
	}
	if p.MaxOrderQuantity < p.MinOrderQuantity {
		return fmt.Errorf("max order quantity must be >= min order quantity")
	}
	if p.MaxOrderDuration <= 0 {
		return fmt.Errorf("max order duration must be positive")
	}
	if p.TickSize < 1 {
		return fmt.Errorf("tick size must be >= 1")
	}
	if p.MaxQuantityPerOrder < 1 || p.DailyVolumeCap < 1 || p.DailyOrderCountCap < 1 {
		return fmt.Errorf("risk caps must be positive")
	}
	if !p.BreakerThreshold.IsPositive() {
		return fmt.Errorf("breaker threshold must be positive")
	}
	if p.BreakerCooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive")
	}
	if p.MaxAuctionDuration <= 0 {
		return fmt.Errorf("max auction duration must be positive")
	}
	return nil
}

// Store serves the current parameters and applies role-gated updates.
type Store struct {
	mu     sync.RWMutex
	p      Params
	access access.Checker
}

// NewStore creates a store holding initial, which must be valid.
func NewStore(initial Params, checker access.Checker) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial params: %w", err)
	}
	return &Store{p: initial, access: checker}, nil
}

// Get returns a copy of the current parameters.
func (s *Store) Get() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

// Update applies fn to a copy of the parameters and installs the result if
// caller holds the admin role and the result validates.
func (s *Store) Update(caller string, fn func(*Params)) (Params, error) {
	if err := s.access.Require(caller, access.RoleAdmin, "update market params"); err != nil {
		return Params{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.p
	fn(&next)
	if err := next.Validate(); err != nil {
		return Params{}, &domain.ValidationError{Message: err.Error()}
	}
	s.p = next
	return next, nil
}
