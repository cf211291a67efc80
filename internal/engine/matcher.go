package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/efreitasn/carbonexchange/internal/access"
	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/events"
	"github.com/efreitasn/carbonexchange/internal/fee"
	"github.com/efreitasn/carbonexchange/internal/idgen"
	"github.com/efreitasn/carbonexchange/internal/params"
	"github.com/efreitasn/carbonexchange/internal/store"
)

// Settler checks and settles a matched trade against the ledger.
type Settler interface {
	Preflight(ctx context.Context, t *domain.Trade) error
	Settle(ctx context.Context, t *domain.Trade) error
}

// TradeGuard is consulted before each execution and told about each
// executed price.
type TradeGuard interface {
	CheckTrade(p domain.Partition, price int64) (*events.CircuitBreakerTriggered, error)
	RecordTrade(p domain.Partition, price int64)
}

// ParamsSource supplies the current fee rates.
type ParamsSource interface {
	Get() params.Params
}

// SubmitResult is the outcome of one submission: the trades it produced,
// including trades of stop orders it triggered, and whether the circuit
// breaker halted matching part way. Orders in it are snapshots taken
// before the partition lock was released.
type SubmitResult struct {
	Order     *domain.Order
	Trades    []*domain.Trade
	Triggered []*domain.Order
	Halted    bool
}

// QuotePriceLevel represents a single price level in a quote simulation.
type QuotePriceLevel struct {
	Price    int64
	Quantity int64
}

// QuoteResult holds the result of a market order simulation.
type QuoteResult struct {
	QuantityAvailable int64
	FullyFillable     bool
	EstimatedAvgPrice *int64 // nil when no liquidity
	EstimatedTotal    *int64 // nil when no liquidity
	PriceLevels       []QuotePriceLevel
}

// Matcher implements price-time priority matching per partition. All
// state of a partition is mutated under its book's lock; events are
// published after the lock is released.
type Matcher struct {
	books     *BookManager
	orders    *store.OrderStore
	trades    *store.TradeStore
	settler   Settler
	guard     TradeGuard
	params    ParamsSource
	access    access.Checker
	publisher events.Publisher
	logger    *slog.Logger

	orderSeq *idgen.Sequence
	tradeSeq *idgen.Sequence
	now      func() time.Time
}

// NewMatcher creates a new Matcher with the given dependencies.
func NewMatcher(
	books *BookManager,
	orders *store.OrderStore,
	trades *store.TradeStore,
	settler Settler,
	guard TradeGuard,
	params ParamsSource,
	checker access.Checker,
	publisher events.Publisher,
	logger *slog.Logger,
) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Matcher{
		books:     books,
		orders:    orders,
		trades:    trades,
		settler:   settler,
		guard:     guard,
		params:    params,
		access:    checker,
		publisher: publisher,
		logger:    logger,
		orderSeq:  idgen.New("ord"),
		tradeSeq:  idgen.New("trd"),
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (m *Matcher) SetClock(now func() time.Time) {
	m.now = now
}

// Submit admits a validated order into its partition. The matcher assigns
// OrderID, Seq, CreatedAt and manages all status transitions. Stop orders
// whose trigger has not been reached wait in the partition's trigger queue.
//
// The partition lock is held for the whole pass, including settlement.
func (m *Matcher) Submit(ctx context.Context, o *domain.Order) *SubmitResult {
	book := m.books.GetOrCreate(o.Partition)
	rates := m.params.Get().FeeRates()

	var evs []events.Event
	book.mu.Lock()
	now := m.now()
	m.sweepExpired(book, now, &evs)

	seq, id := m.orderSeq.NextID()
	o.OrderID = id
	o.Seq = seq
	o.CreatedAt = now
	o.FilledQuantity = 0
	o.Status = domain.OrderStatusActive
	o.Triggered = false
	o.Trades = []*domain.Trade{}
	if o.Iceberg {
		o.VisibleQuantity = min(o.DisplayQuantity, o.Quantity)
	}
	m.orders.Create(o)
	evs = append(evs, events.OrderPlaced{
		OrderID:  o.OrderID,
		Trader:   o.Owner,
		Kind:     o.Kind,
		Side:     o.Side,
		Quantity: o.Quantity,
		Price:    o.Price,
	})

	res := &SubmitResult{Order: o, Trades: []*domain.Trade{}}
	if o.IsStop() {
		last := book.stats.lastPrice
		if !book.stats.hasLast || !shouldTrigger(o.Side, o.StopPrice, last) {
			book.stops.add(o)
			book.expiry.add(o)
			res.detach()
			book.mu.Unlock()
			m.publisher.Publish(evs...)
			return res
		}
		m.trigger(o, last, res, &evs)
	}

	queue := []*domain.Order{o}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if res.Halted {
			m.finalize(book, cur, false, now, &evs)
			continue
		}
		queue = append(queue, m.match(ctx, book, cur, rates, now, res, &evs)...)
	}
	res.detach()
	book.mu.Unlock()

	m.publisher.Publish(evs...)
	return res
}

// detach replaces the live orders in r with snapshots. Callers must hold
// the partition lock.
func (r *SubmitResult) detach() {
	r.Order = r.Order.Snapshot()
	for i, o := range r.Triggered {
		r.Triggered[i] = o.Snapshot()
	}
}

// match runs the incoming order against the opposite side in book order
// until it is filled, no acceptable counter order remains, its remaining
// quantity drops below its own minimum fill, or the breaker halts
// trading. It returns the stop orders fired by its trades.
func (m *Matcher) match(
	ctx context.Context,
	book *OrderBook,
	o *domain.Order,
	rates fee.Rates,
	now time.Time,
	res *SubmitResult,
	evs *[]events.Event,
) []*domain.Order {
	var fired []*domain.Order
	unfunded := false

	for o.RemainingQuantity() > 0 && o.RemainingQuantity() >= o.MinFillQuantity {
		o.RefillSlice()

		entry, ok := nextCandidate(book, o)
		if !ok {
			break
		}
		resting := entry.Order
		qty := min(o.AvailableQuantity(), resting.AvailableQuantity())
		trade := newTrade(book.partition, o, resting, qty, rates, now)

		if err := m.settler.Preflight(ctx, trade); err != nil {
			var ib *domain.InsufficientBalanceError
			if errors.As(err, &ib) && ib.Account == resting.Owner && resting.Owner != o.Owner {
				m.dropUnfunded(book, resting, now, evs)
				continue
			}
			m.logger.Warn("incoming order cannot be funded",
				slog.String("order_id", o.OrderID),
				slog.String("error", err.Error()),
			)
			unfunded = true
			break
		}

		tripped, err := m.guard.CheckTrade(book.partition, trade.Price)
		if tripped != nil {
			*evs = append(*evs, *tripped)
		}
		if err != nil {
			res.Halted = true
			break
		}

		m.execute(ctx, book, o, resting, trade, now, res, evs)
		fired = append(fired, m.fireStops(book, trade.Price, res, evs)...)
	}

	m.finalize(book, o, unfunded, now, evs)
	return fired
}

// nextCandidate returns the first resting order, in priority order, that
// crosses o and whose fill satisfies both orders' minimum fill.
func nextCandidate(book *OrderBook, o *domain.Order) (OrderBookEntry, bool) {
	var found OrderBookEntry
	ok := false
	book.walkOpposite(o.Side, func(e OrderBookEntry) bool {
		if !o.Crosses(e.Price) {
			return false
		}
		qty := min(o.AvailableQuantity(), e.Order.AvailableQuantity())
		if !acceptsFill(o, qty) || !acceptsFill(e.Order, qty) {
			return true
		}
		found, ok = e, true
		return false
	})
	return found, ok
}

// acceptsFill reports whether a fill of qty satisfies o's minimum fill. A
// remainder smaller than the minimum may always be completed.
func acceptsFill(o *domain.Order, qty int64) bool {
	return qty >= min(o.MinFillQuantity, o.RemainingQuantity())
}

// newTrade prices a fill at the resting order's price.
func newTrade(p domain.Partition, taker, maker *domain.Order, qty int64, rates fee.Rates, now time.Time) *domain.Trade {
	buy, sell := taker, maker
	if taker.Side == domain.OrderSideSell {
		buy, sell = maker, taker
	}
	buyerFee, sellerFee := fee.ForTrade(qty, maker.Price, taker.Side, rates)
	return &domain.Trade{
		Partition:        p,
		BuyOrderID:       buy.OrderID,
		SellOrderID:      sell.OrderID,
		Buyer:            buy.Owner,
		Seller:           sell.Owner,
		TakerSide:        taker.Side,
		Quantity:         qty,
		Price:            maker.Price,
		BuyerFee:         buyerFee,
		SellerFee:        sellerFee,
		ExecutedAt:       now,
		SettlementDue:    now,
		SettlementStatus: domain.SettlementPending,
	}
}

// execute applies an accepted fill to both orders, records and settles the
// trade, and updates the book and market data.
func (m *Matcher) execute(
	ctx context.Context,
	book *OrderBook,
	taker, maker *domain.Order,
	trade *domain.Trade,
	now time.Time,
	res *SubmitResult,
	evs *[]events.Event,
) {
	_, trade.TradeID = m.tradeSeq.NextID()

	taker.ApplyFill(trade.Quantity)
	maker.ApplyFill(trade.Quantity)
	taker.Trades = append(taker.Trades, trade)
	maker.Trades = append(maker.Trades, trade)
	res.Trades = append(res.Trades, trade)

	if maker.RemainingQuantity() == 0 {
		book.Remove(maker.OrderID)
		book.expiry.remove(maker.OrderID)
	} else if maker.RefillSlice() {
		// A fresh iceberg slice queues behind orders already at its price.
		book.Remove(maker.OrderID)
		maker.Seq = m.orderSeq.Next()
		book.Insert(maker)
	}

	*evs = append(*evs, events.TradeExecuted{
		TradeID:     trade.TradeID,
		BuyOrderID:  trade.BuyOrderID,
		SellOrderID: trade.SellOrderID,
		Buyer:       trade.Buyer,
		Seller:      trade.Seller,
		Quantity:    trade.Quantity,
		Price:       trade.Price,
	})

	if err := m.settler.Settle(ctx, trade); err != nil {
		*evs = append(*evs, events.SettlementFailed{
			TradeID: trade.TradeID,
			Buyer:   trade.Buyer,
			Seller:  trade.Seller,
			Reason:  err.Error(),
		})
	}
	// Settled or failed, the trade is final from here on.
	m.trades.Append(trade)

	m.guard.RecordTrade(book.partition, trade.Price)
	book.stats.record(now, trade.Price, trade.Quantity)

	for _, o := range []*domain.Order{taker, maker} {
		*evs = append(*evs, events.OrderFilled{
			OrderID:           o.OrderID,
			Trader:            o.Owner,
			FilledQuantity:    o.FilledQuantity,
			RemainingQuantity: o.RemainingQuantity(),
		})
	}
	*evs = append(*evs, events.MarketDataUpdated{
		Partition: book.partition.String(),
		Price:     trade.Price,
		Volume:    book.stats.volume(now),
	})

	m.logger.Info("trade executed",
		slog.String("trade_id", trade.TradeID),
		slog.String("partition", book.partition.String()),
		slog.Int64("quantity", trade.Quantity),
		slog.Int64("price", trade.Price),
		slog.String("settlement", string(trade.SettlementStatus)),
	)
}

// fireStops releases every stop order whose trigger is reached at last.
func (m *Matcher) fireStops(book *OrderBook, last int64, res *SubmitResult, evs *[]events.Event) []*domain.Order {
	fired := book.stops.popTriggered(last)
	for _, o := range fired {
		book.expiry.remove(o.OrderID)
		m.trigger(o, last, res, evs)
	}
	return fired
}

func (m *Matcher) trigger(o *domain.Order, last int64, res *SubmitResult, evs *[]events.Event) {
	o.Triggered = true
	res.Triggered = append(res.Triggered, o)
	*evs = append(*evs, events.OrderTriggered{
		OrderID:   o.OrderID,
		Trader:    o.Owner,
		StopPrice: o.StopPrice,
		LastPrice: last,
	})
}

// finalize decides what happens to an order's remainder after matching.
// Market-priced orders are immediate-or-cancel; limit-priced orders rest.
// An order its owner cannot fund is rejected, or cancelled if it already
// traded.
func (m *Matcher) finalize(book *OrderBook, o *domain.Order, unfunded bool, now time.Time, evs *[]events.Event) {
	if o.RemainingQuantity() == 0 {
		return
	}
	if unfunded && o.FilledQuantity == 0 {
		o.SetStatus(domain.OrderStatusRejected)
		return
	}
	if unfunded || o.MatchesAtMarket() {
		m.cancelLocked(book, o, now, evs)
		return
	}
	o.RefillSlice()
	book.Insert(o)
	book.expiry.add(o)
}

// dropUnfunded cancels a resting order whose owner can no longer pay for
// or deliver it.
func (m *Matcher) dropUnfunded(book *OrderBook, o *domain.Order, now time.Time, evs *[]events.Event) {
	m.logger.Warn("cancelling unfunded resting order",
		slog.String("order_id", o.OrderID),
		slog.String("owner", o.Owner),
	)
	m.cancelLocked(book, o, now, evs)
}

func (m *Matcher) cancelLocked(book *OrderBook, o *domain.Order, now time.Time, evs *[]events.Event) {
	book.Remove(o.OrderID)
	book.stops.remove(o.OrderID)
	book.expiry.remove(o.OrderID)
	if !o.SetStatus(domain.OrderStatusCancelled) {
		return
	}
	o.CancelledAt = &now
	*evs = append(*evs, events.OrderCancelled{OrderID: o.OrderID, Trader: o.Owner})
}

// sweepExpired expires every live order of the partition whose expiry has
// passed.
func (m *Matcher) sweepExpired(book *OrderBook, now time.Time, evs *[]events.Event) {
	for _, o := range book.expiry.popDue(now) {
		book.Remove(o.OrderID)
		book.stops.remove(o.OrderID)
		if !o.SetStatus(domain.OrderStatusExpired) {
			continue
		}
		o.ExpiredAt = o.ExpiresAt
		*evs = append(*evs, events.OrderExpired{OrderID: o.OrderID, Trader: o.Owner})
	}
}

// Cancel cancels an active or partially filled order. Only the owner or
// an operator may cancel.
//
// Returns ErrOrderNotFound if the order does not exist and
// ErrOrderNotCancellable if it is already terminal.
func (m *Matcher) Cancel(caller, orderID string) (*domain.Order, error) {
	o, err := m.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if caller != o.Owner {
		if err := m.access.Require(caller, access.RoleOperator, "cancel order "+orderID); err != nil {
			return nil, err
		}
	}

	book := m.books.GetOrCreate(o.Partition)
	var evs []events.Event
	book.mu.Lock()
	now := m.now()
	m.sweepExpired(book, now, &evs)

	var view *domain.Order
	switch o.Status {
	case domain.OrderStatusActive, domain.OrderStatusPartiallyFilled:
		m.cancelLocked(book, o, now, &evs)
		view = o.Snapshot()
	default:
		err = domain.ErrOrderNotCancellable
	}
	book.mu.Unlock()

	m.publisher.Publish(evs...)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Get returns a snapshot of an order, expiring it first if its time has
// passed.
func (m *Matcher) Get(orderID string) (*domain.Order, error) {
	o, err := m.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	book := m.books.GetOrCreate(o.Partition)
	var evs []events.Event
	book.mu.Lock()
	m.sweepExpired(book, m.now(), &evs)
	view := o.Snapshot()
	book.mu.Unlock()
	m.publisher.Publish(evs...)
	return view, nil
}

// List returns snapshots of an account's orders matching f, newest first.
// A non-nil status keeps only orders currently in that status. Pagination
// is 1-based; the second result is the number of matches before paging.
func (m *Matcher) List(account string, f store.OrderFilter, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int) {
	live := m.orders.ListByAccount(account, f)

	byPartition := make(map[domain.Partition][]int)
	for i, o := range live {
		byPartition[o.Partition] = append(byPartition[o.Partition], i)
	}
	views := make([]*domain.Order, len(live))
	var evs []events.Event
	now := m.now()
	for p, idx := range byPartition {
		book := m.books.GetOrCreate(p)
		book.mu.Lock()
		m.sweepExpired(book, now, &evs)
		for _, i := range idx {
			views[i] = live[i].Snapshot()
		}
		book.mu.Unlock()
	}
	m.publisher.Publish(evs...)

	matched := views[:0]
	for _, o := range views {
		if status == nil || o.Status == *status {
			matched = append(matched, o)
		}
	}
	return store.Paginate(matched, page, limit)
}

// Sweep expires due orders of a partition.
func (m *Matcher) Sweep(p domain.Partition) {
	book, ok := m.books.Get(p)
	if !ok {
		return
	}
	var evs []events.Event
	book.mu.Lock()
	m.sweepExpired(book, m.now(), &evs)
	book.mu.Unlock()
	m.publisher.Publish(evs...)
}

// Depth returns up to n aggregated visible levels per side.
func (m *Matcher) Depth(p domain.Partition, n int) (bids, asks []PriceLevel) {
	book := m.books.GetOrCreate(p)
	var evs []events.Event
	book.mu.Lock()
	m.sweepExpired(book, m.now(), &evs)
	bids, asks = book.Depth(n)
	book.mu.Unlock()
	m.publisher.Publish(evs...)
	return bids, asks
}

// Snapshot returns the partition's market data.
func (m *Matcher) Snapshot(p domain.Partition) domain.MarketSnapshot {
	book := m.books.GetOrCreate(p)
	var evs []events.Event
	book.mu.Lock()
	now := m.now()
	m.sweepExpired(book, now, &evs)
	snap := book.snapshot(now)
	book.mu.Unlock()
	m.publisher.Publish(evs...)
	return snap
}

// Quote performs a read-only walk of the side a market order on side would
// consume, estimating its result without placing it. Hidden iceberg
// quantity counts as available. EstimatedTotal saturates one cent above
// domain.MaxNotional.
func (m *Matcher) Quote(p domain.Partition, side domain.OrderSide, quantity int64) *QuoteResult {
	book := m.books.GetOrCreate(p)

	book.mu.Lock()
	defer book.mu.Unlock()

	result := &QuoteResult{
		PriceLevels: make([]QuotePriceLevel, 0),
	}

	remaining := quantity
	var totalCost int64

	book.walkOpposite(side, func(entry OrderBookEntry) bool {
		if remaining <= 0 {
			return false
		}
		if entry.Order.Expired(m.now()) {
			return true
		}
		fillQty := min(entry.Order.RemainingQuantity(), remaining)
		totalCost = min(totalCost+entry.Price*fillQty, domain.MaxNotional+1)
		result.QuantityAvailable += fillQty
		remaining -= fillQty

		if n := len(result.PriceLevels); n > 0 && result.PriceLevels[n-1].Price == entry.Price {
			result.PriceLevels[n-1].Quantity += fillQty
		} else {
			result.PriceLevels = append(result.PriceLevels, QuotePriceLevel{
				Price:    entry.Price,
				Quantity: fillQty,
			})
		}
		return true
	})

	if result.QuantityAvailable > 0 {
		avgPrice := totalCost / result.QuantityAvailable
		result.EstimatedAvgPrice = &avgPrice
		result.EstimatedTotal = &totalCost
	}
	result.FullyFillable = result.QuantityAvailable >= quantity

	return result
}

// PendingStops returns the number of untriggered stop orders in p.
func (m *Matcher) PendingStops(p domain.Partition) int {
	book := m.books.GetOrCreate(p)
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.stops.len()
}
