package events

import (
	"log/slog"
	"sync"
)

// Subscriber receives every published event. It must not block.
type Subscriber func(Event)

// Publisher is what engine components depend on.
type Publisher interface {
	Publish(evs ...Event)
}

// Bus delivers events to subscribers in subscription order.
type Bus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// NewBus creates a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for all future events.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Publish delivers evs to every subscriber, in order.
func (b *Bus) Publish(evs ...Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, ev := range evs {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(...Event) {}

// LogSink returns a subscriber that logs each event.
func LogSink(logger *slog.Logger) Subscriber {
	return func(ev Event) {
		switch e := ev.(type) {
		case SettlementFailed:
			logger.Error("settlement failed, reconciliation required",
				slog.String("trade_id", e.TradeID),
				slog.String("reason", e.Reason),
			)
		case CircuitBreakerTriggered:
			logger.Warn("circuit breaker triggered",
				slog.String("partition", e.Partition),
				slog.Int64("price", e.Price),
				slog.String("deviation", e.Deviation),
			)
		default:
			logger.Info("event", slog.String("name", ev.Name()), slog.Any("payload", ev))
		}
	}
}
