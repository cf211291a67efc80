package engine

import (
	"time"

	"github.com/google/btree"

	"github.com/efreitasn/carbonexchange/internal/domain"
)

const statsWindow = 24 * time.Hour

type tick struct {
	at       time.Time
	price    int64
	quantity int64
}

// marketStats keeps the trades of the last 24 hours for a partition.
type marketStats struct {
	ticks     []tick
	lastPrice int64
	hasLast   bool
	updatedAt time.Time
}

func newMarketStats() *marketStats {
	return &marketStats{}
}

func (s *marketStats) record(at time.Time, price, qty int64) {
	s.ticks = append(s.ticks, tick{at: at, price: price, quantity: qty})
	s.lastPrice = price
	s.hasLast = true
	s.updatedAt = at
}

func (s *marketStats) prune(now time.Time) {
	cutoff := now.Add(-statsWindow)
	i := 0
	for i < len(s.ticks) && !s.ticks[i].at.After(cutoff) {
		i++
	}
	s.ticks = s.ticks[i:]
}

// volume returns the traded quantity inside the window ending at now.
func (s *marketStats) volume(now time.Time) int64 {
	s.prune(now)
	var v int64
	for _, t := range s.ticks {
		v += t.quantity
	}
	return v
}

// snapshot derives the partition's market data from the recorded trades
// and the current top of book.
func (ob *OrderBook) snapshot(now time.Time) domain.MarketSnapshot {
	s := ob.stats
	s.prune(now)

	snap := domain.MarketSnapshot{
		Partition: ob.partition,
		LastPrice: s.lastPrice,
		UpdatedAt: s.updatedAt,
	}
	for i, t := range s.ticks {
		if i == 0 || t.price > snap.High24h {
			snap.High24h = t.price
		}
		if i == 0 || t.price < snap.Low24h {
			snap.Low24h = t.price
		}
		snap.Volume24h += t.quantity
	}
	if e, ok := ob.BestBid(); ok {
		snap.BestBid = e.Price
		snap.BestBidSize = levelSize(ob.bids, e.Price)
	}
	if e, ok := ob.BestAsk(); ok {
		snap.BestAsk = e.Price
		snap.BestAskSize = levelSize(ob.asks, e.Price)
	}
	return snap
}

// levelSize sums the visible quantity at the best level of tree.
func levelSize(tree *btree.BTreeG[OrderBookEntry], price int64) int64 {
	var size int64
	tree.Ascend(func(e OrderBookEntry) bool {
		if e.Price != price {
			return false
		}
		size += e.Order.AvailableQuantity()
		return true
	})
	return size
}
