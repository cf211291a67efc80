package engine

import (
	"context"
	"sort"
	"time"

	"github.com/efreitasn/carbonexchange/internal/domain"
)

// expiryQueue tracks a partition's live orders with an expiry, sorted by
// expires_at ascending. It is swept by the next operation on the partition
// and by RunSweeper.
type expiryQueue struct {
	orders []*domain.Order
}

func newExpiryQueue() *expiryQueue {
	return &expiryQueue{orders: make([]*domain.Order, 0)}
}

// add inserts an order keeping expires_at order. Orders without an
// expiry are ignored.
func (q *expiryQueue) add(o *domain.Order) {
	if o.ExpiresAt == nil {
		return
	}
	expiresAt := *o.ExpiresAt
	idx := sort.Search(len(q.orders), func(i int) bool {
		return q.orders[i].ExpiresAt.After(expiresAt)
	})
	q.orders = append(q.orders, nil)
	copy(q.orders[idx+1:], q.orders[idx:])
	q.orders[idx] = o
}

func (q *expiryQueue) remove(orderID string) {
	for i, o := range q.orders {
		if o.OrderID == orderID {
			q.orders = append(q.orders[:i], q.orders[i+1:]...)
			return
		}
	}
}

// popDue removes and returns every order whose expiry is at or before now.
func (q *expiryQueue) popDue(now time.Time) []*domain.Order {
	cutoff := 0
	for cutoff < len(q.orders) && q.orders[cutoff].Expired(now) {
		cutoff++
	}
	if cutoff == 0 {
		return nil
	}
	due := make([]*domain.Order, cutoff)
	copy(due, q.orders[:cutoff])
	q.orders = q.orders[cutoff:]
	return due
}

func (q *expiryQueue) len() int {
	return len(q.orders)
}

// RunSweeper expires due orders across all partitions every interval until
// ctx is done. Operations on a partition still sweep it lazily; the ticker
// only bounds how late an order.expired event can be for an idle market.
func (m *Matcher) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range m.books.Partitions() {
				m.Sweep(p)
			}
		}
	}
}
