package domain

import "time"

// OrderKind distinguishes how an order is priced and released into the book.
type OrderKind string

const (
	OrderKindMarket       OrderKind = "market"
	OrderKindLimit        OrderKind = "limit"
	OrderKindStop         OrderKind = "stop"
	OrderKindStopLimit    OrderKind = "stop_limit"
	OrderKindIcebergLimit OrderKind = "iceberg_limit"
)

// OrderSide indicates whether an order buys or sells credits.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side of the book.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusActive          OrderStatus = "active"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusRejected        OrderStatus = "rejected"
)

// orderTransitions lists the statuses reachable from each non-terminal status.
var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusActive: {
		OrderStatusPartiallyFilled: true,
		OrderStatusFilled:          true,
		OrderStatusCancelled:       true,
		OrderStatusExpired:         true,
		OrderStatusRejected:        true,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled: true,
		OrderStatusFilled:          true,
		OrderStatusCancelled:       true,
		OrderStatusExpired:         true,
	},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	return orderTransitions[from][to]
}

// Terminal reports whether no further transition is possible from s.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// Order is an instruction to buy or sell credits of a single partition.
type Order struct {
	OrderID   string
	Seq       uint64 // time priority within the book
	Owner     string
	Kind      OrderKind
	Side      OrderSide
	Partition Partition

	Quantity        int64
	Price           int64 // cents per credit, 0 for market and stop orders
	StopPrice       int64 // trigger price for stop and stop-limit orders
	FilledQuantity  int64
	MinFillQuantity int64

	Iceberg         bool
	DisplayQuantity int64 // peak size of each iceberg slice
	VisibleQuantity int64 // portion of the current slice still exposed

	Status      OrderStatus
	Triggered   bool
	CreatedAt   time.Time
	ExpiresAt   *time.Time // nil means good until cancelled
	CancelledAt *time.Time
	ExpiredAt   *time.Time
	Trades      []*Trade
}

// RemainingQuantity is the unfilled part of the order.
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// AvailableQuantity is the quantity the order exposes to a single match:
// the remaining quantity, capped by the visible slice for icebergs.
func (o *Order) AvailableQuantity() int64 {
	remaining := o.RemainingQuantity()
	if o.Iceberg && o.VisibleQuantity < remaining {
		return o.VisibleQuantity
	}
	return remaining
}

// IsStop reports whether the order waits on a trigger price.
func (o *Order) IsStop() bool {
	return o.Kind == OrderKindStop || o.Kind == OrderKindStopLimit
}

// MatchesAtMarket reports whether the order accepts any counter price.
// Triggered stop orders behave as market orders.
func (o *Order) MatchesAtMarket() bool {
	return o.Kind == OrderKindMarket || o.Kind == OrderKindStop
}

// Crosses reports whether a limit price is acceptable against a resting
// counter order priced at counterPrice.
func (o *Order) Crosses(counterPrice int64) bool {
	if o.MatchesAtMarket() {
		return true
	}
	if o.Side == OrderSideBuy {
		return o.Price >= counterPrice
	}
	return o.Price <= counterPrice
}

// Expired reports whether the order's expiry has passed at now.
func (o *Order) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}

// SetStatus moves the order to status if the transition is allowed.
// It returns false and leaves the order unchanged otherwise.
func (o *Order) SetStatus(status OrderStatus) bool {
	if !CanTransition(o.Status, status) {
		return false
	}
	o.Status = status
	return true
}

// ApplyFill records qty as filled and updates the status accordingly.
// An iceberg's visible slice shrinks by the same amount.
func (o *Order) ApplyFill(qty int64) {
	o.FilledQuantity += qty
	if o.Iceberg {
		o.VisibleQuantity -= qty
	}
	if o.FilledQuantity == o.Quantity {
		o.SetStatus(OrderStatusFilled)
	} else {
		o.SetStatus(OrderStatusPartiallyFilled)
	}
}

// RefillSlice exposes the next iceberg slice once the current one is
// exhausted, or once it has shrunk below the order's own minimum fill and
// could no longer trade. It reports whether a new slice was exposed.
func (o *Order) RefillSlice() bool {
	if !o.Iceberg || o.RemainingQuantity() == 0 {
		return false
	}
	if o.VisibleQuantity > 0 && o.VisibleQuantity >= min(o.MinFillQuantity, o.RemainingQuantity()) {
		return false
	}
	o.VisibleQuantity = min(o.DisplayQuantity, o.RemainingQuantity())
	return true
}

// Snapshot returns a copy of o that later fills do not affect. Executed
// trades are never modified, so only the slice holding them is copied.
func (o *Order) Snapshot() *Order {
	c := *o
	c.Trades = make([]*Trade, len(o.Trades))
	copy(c.Trades, o.Trades)
	return &c
}

// AveragePrice computes the volume-weighted average execution price
// using integer arithmetic. Returns (0, false) when nothing was filled.
func (o *Order) AveragePrice() (int64, bool) {
	if len(o.Trades) == 0 || o.FilledQuantity == 0 {
		return 0, false
	}
	var total int64
	for _, t := range o.Trades {
		total += t.Price * t.Quantity
	}
	return total / o.FilledQuantity, true
}
