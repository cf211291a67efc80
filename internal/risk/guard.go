// Package risk gates order admission with per-account daily limits and
// halts trade execution with a market-wide circuit breaker.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/events"
	"github.com/efreitasn/carbonexchange/internal/params"
)

// ParamsSource supplies the current risk limits.
type ParamsSource interface {
	Get() params.Params
}

type dailyUsage struct {
	day    string // YYYY-MM-DD, UTC
	volume int64
	count  int64
}

// BreakerStatus describes the circuit breaker at a point in time.
type BreakerStatus struct {
	Triggered   bool
	TriggeredAt time.Time
	ResumesAt   time.Time
}

// Guard holds all risk state behind its own lock, separate from any
// partition lock.
type Guard struct {
	params ParamsSource
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	usage       map[string]*dailyUsage
	lastPrice   map[domain.Partition]int64
	triggered   bool
	triggeredAt time.Time
}

// NewGuard creates a Guard reading limits from src.
func NewGuard(src ParamsSource, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		params:    src,
		logger:    logger,
		now:       time.Now,
		usage:     make(map[string]*dailyUsage),
		lastPrice: make(map[domain.Partition]int64),
	}
}

// SetClock replaces the time source.
func (g *Guard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// CheckOrder admits an order of qty for account against the single-order,
// daily volume and daily count limits, recording it on success. Counters
// reset when a new UTC calendar day is observed for the account.
func (g *Guard) CheckOrder(account string, qty int64) error {
	p := g.params.Get()

	g.mu.Lock()
	defer g.mu.Unlock()

	if qty > p.MaxQuantityPerOrder {
		return &domain.LimitExceededError{
			Account: account, Limit: domain.LimitSingleOrder,
			Requested: qty, Allowed: p.MaxQuantityPerOrder,
		}
	}

	day := g.now().UTC().Format(time.DateOnly)
	u, ok := g.usage[account]
	if !ok || u.day != day {
		u = &dailyUsage{day: day}
		g.usage[account] = u
	}
	if u.volume+qty > p.DailyVolumeCap {
		return &domain.LimitExceededError{
			Account: account, Limit: domain.LimitDailyVolume,
			Requested: u.volume + qty, Allowed: p.DailyVolumeCap,
		}
	}
	if u.count+1 > p.DailyOrderCountCap {
		return &domain.LimitExceededError{
			Account: account, Limit: domain.LimitDailyCount,
			Requested: u.count + 1, Allowed: p.DailyOrderCountCap,
		}
	}
	u.volume += qty
	u.count++
	return nil
}

// Halted returns ErrCircuitBreakerActive while the breaker is cooling down.
// Once the cooldown has elapsed the breaker resets here.
func (g *Guard) Halted() error {
	cooldown := g.params.Get().BreakerCooldown

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.haltedLocked(cooldown)
}

func (g *Guard) haltedLocked(cooldown time.Duration) error {
	if !g.triggered {
		return nil
	}
	if g.now().Before(g.triggeredAt.Add(cooldown)) {
		return domain.ErrCircuitBreakerActive
	}
	g.triggered = false
	g.logger.Info("circuit breaker reset", slog.Time("triggered_at", g.triggeredAt))
	return nil
}

// CheckTrade is consulted before every execution. It rejects while halted
// and trips the breaker when price deviates from the partition's last
// trade price by more than the configured threshold. The returned event is
// non-nil exactly when this call tripped the breaker.
func (g *Guard) CheckTrade(part domain.Partition, price int64) (*events.CircuitBreakerTriggered, error) {
	p := g.params.Get()

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.haltedLocked(p.BreakerCooldown); err != nil {
		return nil, err
	}
	last, ok := g.lastPrice[part]
	if !ok || last <= 0 {
		return nil, nil
	}
	dev := Deviation(price, last)
	if !dev.GreaterThan(p.BreakerThreshold) {
		return nil, nil
	}
	g.triggered = true
	g.triggeredAt = g.now()
	g.logger.Warn("circuit breaker tripped",
		slog.String("partition", part.String()),
		slog.Int64("price", price),
		slog.Int64("last_price", last),
		slog.String("deviation", dev.String()),
	)
	return &events.CircuitBreakerTriggered{
		Partition: part.String(),
		Price:     price,
		Deviation: dev.StringFixed(4),
	}, domain.ErrCircuitBreakerActive
}

// RecordTrade stores price as the partition's reference price.
func (g *Guard) RecordTrade(part domain.Partition, price int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastPrice[part] = price
}

// LastPrice returns the partition's reference price.
func (g *Guard) LastPrice(part domain.Partition) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.lastPrice[part]
	return p, ok
}

// Status reports the breaker state without resetting it.
func (g *Guard) Status() BreakerStatus {
	cooldown := g.params.Get().BreakerCooldown
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.triggered {
		return BreakerStatus{}
	}
	return BreakerStatus{
		Triggered:   true,
		TriggeredAt: g.triggeredAt,
		ResumesAt:   g.triggeredAt.Add(cooldown),
	}
}

// Deviation is |price − last| / last.
func Deviation(price, last int64) decimal.Decimal {
	diff := decimal.NewFromInt(price - last).Abs()
	return diff.Div(decimal.NewFromInt(last))
}
