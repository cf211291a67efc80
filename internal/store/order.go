package store

import (
	"sync"

	"github.com/efreitasn/carbonexchange/internal/domain"
)

// OrderFilter narrows an account's orders on fields fixed at submission.
// Zero fields match everything.
type OrderFilter struct {
	Partition *domain.Partition
	Side      domain.OrderSide
}

func (f OrderFilter) matches(o *domain.Order) bool {
	if f.Partition != nil && o.Partition != *f.Partition {
		return false
	}
	return f.Side == "" || o.Side == f.Side
}

// OrderStore indexes orders by ID and by owner. The orders themselves are
// owned by the matcher and mutated under their partition's lock, so the
// store only ever reads fields that never change after submission.
type OrderStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Order
	byOwner map[string][]*domain.Order // submission order
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		byID:    make(map[string]*domain.Order),
		byOwner: make(map[string][]*domain.Order),
	}
}

// Create registers a freshly submitted order.
func (s *OrderStore) Create(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[o.OrderID] = o
	s.byOwner[o.Owner] = append(s.byOwner[o.Owner], o)
}

// Get returns the live order with the given ID, or domain.ErrOrderNotFound.
func (s *OrderStore) Get(id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

// ListByAccount returns the account's live orders matching f, newest
// first.
func (s *OrderStore) ListByAccount(account string, f OrderFilter) []*domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byOwner[account]
	out := make([]*domain.Order, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if f.matches(all[i]) {
			out = append(out, all[i])
		}
	}
	return out
}

// Paginate returns the 1-based page of items and the total item count.
func Paginate[T any](items []T, page, limit int) ([]T, int) {
	total := len(items)
	start := (page - 1) * limit
	if page < 1 || limit < 1 || start >= total {
		return []T{}, total
	}
	return items[start:min(start+limit, total)], total
}
