package domain

import "time"

// SettlementStatus tracks the ledger outcome of a trade.
type SettlementStatus string

const (
	SettlementPending SettlementStatus = "pending"
	SettlementSettled SettlementStatus = "settled"
	SettlementFailed  SettlementStatus = "failed"
)

// Trade represents a matched execution between a buy and a sell order.
// Only the settlement fields change after creation.
type Trade struct {
	TradeID     string
	Partition   Partition
	BuyOrderID  string
	SellOrderID string
	Buyer       string
	Seller      string
	TakerSide   OrderSide
	Quantity    int64
	Price       int64 // cents per credit
	BuyerFee    int64
	SellerFee   int64
	ExecutedAt  time.Time

	// Settlement runs synchronously at match time, so SettlementDue is
	// always ExecutedAt.
	SettlementDue    time.Time
	SettlementStatus SettlementStatus
	SettledAt        *time.Time
	FailureReason    string
}

// Notional is quantity × price in cents.
func (t *Trade) Notional() int64 {
	return t.Quantity * t.Price
}
