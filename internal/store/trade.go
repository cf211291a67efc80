package store

import (
	"sync"

	"github.com/efreitasn/carbonexchange/internal/domain"
)

// TradeStore is a thread-safe in-memory store for trades, indexed by ID
// and by partition in execution order.
type TradeStore struct {
	mu          sync.RWMutex
	byID        map[string]*domain.Trade
	byPartition map[domain.Partition][]*domain.Trade
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		byID:        make(map[string]*domain.Trade),
		byPartition: make(map[domain.Partition][]*domain.Trade),
	}
}

// Append records a trade.
func (s *TradeStore) Append(t *domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[t.TradeID] = t
	s.byPartition[t.Partition] = append(s.byPartition[t.Partition], t)
}

// Get returns a trade by ID, or false if unknown.
func (s *TradeStore) Get(id string) (*domain.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	return t, ok
}

// ByPartition returns up to limit of the partition's most recent trades,
// oldest first. limit <= 0 returns all of them.
func (s *TradeStore) ByPartition(p domain.Partition, limit int) []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.byPartition[p]
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	result := make([]*domain.Trade, len(trades))
	copy(result, trades)
	return result
}

// ReconciliationQueue holds trades whose settlement failed after their
// orders were already updated. Operators drain it out of band.
type ReconciliationQueue struct {
	mu     sync.Mutex
	trades []*domain.Trade
}

// NewReconciliationQueue creates an empty queue.
func NewReconciliationQueue() *ReconciliationQueue {
	return &ReconciliationQueue{}
}

// Report enqueues a failed trade.
func (q *ReconciliationQueue) Report(t *domain.Trade) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.trades = append(q.trades, t)
}

// Pending returns the trades awaiting reconciliation.
func (q *ReconciliationQueue) Pending() []*domain.Trade {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*domain.Trade, len(q.trades))
	copy(out, q.trades)
	return out
}

// Resolve removes a trade from the queue. It reports whether it was present.
func (q *ReconciliationQueue) Resolve(tradeID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.trades {
		if t.TradeID == tradeID {
			q.trades = append(q.trades[:i], q.trades[i+1:]...)
			return true
		}
	}
	return false
}
