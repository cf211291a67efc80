package engine

import (
	"github.com/google/btree"

	"github.com/efreitasn/carbonexchange/internal/domain"
)

type stopEntry struct {
	Trigger int64
	Seq     uint64
	OrderID string
	Order   *domain.Order
}

// Buy stops fire when the last price rises to their trigger, so the lowest
// trigger comes first. Sell stops fire on the way down, highest first.
func buyStopLess(a, b stopEntry) bool {
	if a.Trigger != b.Trigger {
		return a.Trigger < b.Trigger
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.OrderID < b.OrderID
}

func sellStopLess(a, b stopEntry) bool {
	if a.Trigger != b.Trigger {
		return a.Trigger > b.Trigger
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.OrderID < b.OrderID
}

// stopQueue holds stop and stop-limit orders waiting for their trigger.
type stopQueue struct {
	buys  *btree.BTreeG[stopEntry]
	sells *btree.BTreeG[stopEntry]
	index map[string]stopEntry
}

func newStopQueue() *stopQueue {
	const degree = 16
	return &stopQueue{
		buys:  btree.NewG[stopEntry](degree, buyStopLess),
		sells: btree.NewG[stopEntry](degree, sellStopLess),
		index: make(map[string]stopEntry),
	}
}

func (q *stopQueue) add(o *domain.Order) {
	e := stopEntry{Trigger: o.StopPrice, Seq: o.Seq, OrderID: o.OrderID, Order: o}
	if o.Side == domain.OrderSideBuy {
		q.buys.ReplaceOrInsert(e)
	} else {
		q.sells.ReplaceOrInsert(e)
	}
	q.index[o.OrderID] = e
}

func (q *stopQueue) remove(orderID string) bool {
	e, ok := q.index[orderID]
	if !ok {
		return false
	}
	delete(q.index, orderID)
	if e.Order.Side == domain.OrderSideBuy {
		q.buys.Delete(e)
	} else {
		q.sells.Delete(e)
	}
	return true
}

func (q *stopQueue) len() int {
	return len(q.index)
}

// shouldTrigger reports whether a stop on side with the given trigger
// fires at last.
func shouldTrigger(side domain.OrderSide, trigger, last int64) bool {
	if side == domain.OrderSideBuy {
		return last >= trigger
	}
	return last <= trigger
}

// popTriggered removes and returns every stop that fires at last, buys
// before sells, each in trigger then sequence order.
func (q *stopQueue) popTriggered(last int64) []*domain.Order {
	var fired []stopEntry
	collect := func(side domain.OrderSide) func(stopEntry) bool {
		return func(e stopEntry) bool {
			if !shouldTrigger(side, e.Trigger, last) {
				return false
			}
			fired = append(fired, e)
			return true
		}
	}
	q.buys.Ascend(collect(domain.OrderSideBuy))
	q.sells.Ascend(collect(domain.OrderSideSell))

	out := make([]*domain.Order, 0, len(fired))
	for _, e := range fired {
		q.remove(e.OrderID)
		out = append(out, e.Order)
	}
	return out
}
