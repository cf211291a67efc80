package engine

import (
	"sync"

	"github.com/google/btree"

	"github.com/efreitasn/carbonexchange/internal/domain"
)

// OrderBookEntry represents a single order resting on the book.
type OrderBookEntry struct {
	Price   int64
	Seq     uint64
	OrderID string
	Order   *domain.Order
}

// PriceLevel represents an aggregated price level in the order book.
// TotalQuantity counts only visible quantity.
type PriceLevel struct {
	Price         int64
	TotalQuantity int64
	OrderCount    int
}

// bidLess orders the bid side by price descending, then sequence
// ascending, then order_id. Min() returns the best bid.
func bidLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.OrderID < b.OrderID
}

// askLess orders the ask side by price ascending, then sequence
// ascending, then order_id. Min() returns the best ask.
func askLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.OrderID < b.OrderID
}

// OrderBook holds everything the matcher owns for one partition: the
// resting bids and asks, the untriggered stop orders, the expiry queue
// and the trade statistics. mu is the partition's single-writer lock.
type OrderBook struct {
	partition domain.Partition
	mu        sync.Mutex
	bids      *btree.BTreeG[OrderBookEntry]
	asks      *btree.BTreeG[OrderBookEntry]
	index     map[string]OrderBookEntry // order_id → entry

	stops  *stopQueue
	expiry *expiryQueue
	stats  *marketStats
}

// NewOrderBook creates an empty book for the partition.
func NewOrderBook(p domain.Partition) *OrderBook {
	const degree = 32
	return &OrderBook{
		partition: p,
		bids:      btree.NewG[OrderBookEntry](degree, bidLess),
		asks:      btree.NewG[OrderBookEntry](degree, askLess),
		index:     make(map[string]OrderBookEntry),
		stops:     newStopQueue(),
		expiry:    newExpiryQueue(),
		stats:     newMarketStats(),
	}
}

// Partition returns the book's partition key.
func (ob *OrderBook) Partition() domain.Partition {
	return ob.partition
}

// Insert rests an order on its side of the book, keyed by its current
// price and sequence.
func (ob *OrderBook) Insert(o *domain.Order) {
	entry := OrderBookEntry{Price: o.Price, Seq: o.Seq, OrderID: o.OrderID, Order: o}
	if o.Side == domain.OrderSideBuy {
		ob.bids.ReplaceOrInsert(entry)
	} else {
		ob.asks.ReplaceOrInsert(entry)
	}
	ob.index[o.OrderID] = entry
}

// Remove deletes an order from the book by order ID. Removing an absent
// order is a no-op. It reports whether the order was on the book.
func (ob *OrderBook) Remove(orderID string) bool {
	entry, ok := ob.index[orderID]
	if !ok {
		return false
	}
	delete(ob.index, orderID)
	if entry.Order.Side == domain.OrderSideBuy {
		ob.bids.Delete(entry)
	} else {
		ob.asks.Delete(entry)
	}
	return true
}

// Contains reports whether the order rests on the book.
func (ob *OrderBook) Contains(orderID string) bool {
	_, ok := ob.index[orderID]
	return ok
}

// BestBid returns the highest-priority bid (highest price, earliest seq).
func (ob *OrderBook) BestBid() (OrderBookEntry, bool) {
	return ob.bids.Min()
}

// BestAsk returns the highest-priority ask (lowest price, earliest seq).
func (ob *OrderBook) BestAsk() (OrderBookEntry, bool) {
	return ob.asks.Min()
}

// Depth returns up to n aggregated price levels per side.
func (ob *OrderBook) Depth(n int) (bids, asks []PriceLevel) {
	return topLevels(ob.bids, n), topLevels(ob.asks, n)
}

// topLevels iterates the B-tree in order and aggregates entries into
// at most n price levels.
func topLevels(tree *btree.BTreeG[OrderBookEntry], n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, n)
	tree.Ascend(func(entry OrderBookEntry) bool {
		visible := entry.Order.AvailableQuantity()
		if len(levels) > 0 && levels[len(levels)-1].Price == entry.Price {
			levels[len(levels)-1].TotalQuantity += visible
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{
			Price:         entry.Price,
			TotalQuantity: visible,
			OrderCount:    1,
		})
		return true
	})
	return levels
}

// walkOpposite iterates the side an incoming order on side would match
// against, best first. The callback returns false to stop.
func (ob *OrderBook) walkOpposite(side domain.OrderSide, fn func(OrderBookEntry) bool) {
	if side == domain.OrderSideBuy {
		ob.asks.Ascend(fn)
	} else {
		ob.bids.Ascend(fn)
	}
}

// BidCount returns the number of individual bid orders on the book.
func (ob *OrderBook) BidCount() int {
	return ob.bids.Len()
}

// AskCount returns the number of individual ask orders on the book.
func (ob *OrderBook) AskCount() int {
	return ob.asks.Len()
}

// BookManager is a thread-safe map of partition → OrderBook.
type BookManager struct {
	mu    sync.RWMutex
	books map[domain.Partition]*OrderBook
}

// NewBookManager creates a new BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[domain.Partition]*OrderBook),
	}
}

// GetOrCreate returns the order book for the partition, creating one if
// it doesn't already exist.
func (bm *BookManager) GetOrCreate(p domain.Partition) *OrderBook {
	bm.mu.RLock()
	book, ok := bm.books[p]
	bm.mu.RUnlock()
	if ok {
		return book
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	if book, ok = bm.books[p]; ok {
		return book
	}
	book = NewOrderBook(p)
	bm.books[p] = book
	return book
}

// Get returns the partition's book if one exists.
func (bm *BookManager) Get(p domain.Partition) (*OrderBook, bool) {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	book, ok := bm.books[p]
	return book, ok
}

// Partitions lists every partition with a book.
func (bm *BookManager) Partitions() []domain.Partition {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	out := make([]domain.Partition, 0, len(bm.books))
	for p := range bm.books {
		out = append(out, p)
	}
	return out
}
