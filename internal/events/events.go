// Package events defines the notifications the exchange core emits and a
// synchronous bus that fans them out to subscribers.
package events

import "github.com/efreitasn/carbonexchange/internal/domain"

// Event names.
const (
	NameOrderPlaced             = "order.placed"
	NameOrderCancelled          = "order.cancelled"
	NameOrderExpired            = "order.expired"
	NameOrderTriggered          = "order.triggered"
	NameOrderFilled             = "order.filled"
	NameTradeExecuted           = "trade.executed"
	NameSettlementFailed        = "settlement.failed"
	NameAuctionCreated          = "auction.created"
	NameBidPlaced               = "auction.bid_placed"
	NameAuctionEnded            = "auction.ended"
	NameAuctionCancelled        = "auction.cancelled"
	NameLiquidityAdded          = "liquidity.added"
	NameLiquidityRemoved        = "liquidity.removed"
	NameCircuitBreakerTriggered = "circuit_breaker.triggered"
	NameMarketDataUpdated       = "market_data.updated"
)

// Names lists every event name, for subscription validation.
var Names = []string{
	NameOrderPlaced, NameOrderCancelled, NameOrderExpired, NameOrderTriggered,
	NameOrderFilled, NameTradeExecuted, NameSettlementFailed,
	NameAuctionCreated, NameBidPlaced, NameAuctionEnded, NameAuctionCancelled,
	NameLiquidityAdded, NameLiquidityRemoved,
	NameCircuitBreakerTriggered, NameMarketDataUpdated,
}

// Event is anything published on the bus.
type Event interface {
	Name() string
}

// AccountScoped events concern specific accounts, which lets webhook
// delivery route them.
type AccountScoped interface {
	Accounts() []string
}

type OrderPlaced struct {
	OrderID  string           `json:"order_id"`
	Trader   string           `json:"trader"`
	Kind     domain.OrderKind `json:"kind"`
	Side     domain.OrderSide `json:"side"`
	Quantity int64            `json:"quantity"`
	Price    int64            `json:"price"`
}

func (OrderPlaced) Name() string         { return NameOrderPlaced }
func (e OrderPlaced) Accounts() []string { return []string{e.Trader} }

type OrderCancelled struct {
	OrderID string `json:"order_id"`
	Trader  string `json:"trader"`
}

func (OrderCancelled) Name() string         { return NameOrderCancelled }
func (e OrderCancelled) Accounts() []string { return []string{e.Trader} }

type OrderExpired struct {
	OrderID string `json:"order_id"`
	Trader  string `json:"trader"`
}

func (OrderExpired) Name() string         { return NameOrderExpired }
func (e OrderExpired) Accounts() []string { return []string{e.Trader} }

// OrderTriggered is emitted when a stop order is released into matching.
type OrderTriggered struct {
	OrderID   string `json:"order_id"`
	Trader    string `json:"trader"`
	StopPrice int64  `json:"stop_price"`
	LastPrice int64  `json:"last_price"`
}

func (OrderTriggered) Name() string         { return NameOrderTriggered }
func (e OrderTriggered) Accounts() []string { return []string{e.Trader} }

type OrderFilled struct {
	OrderID           string `json:"order_id"`
	Trader            string `json:"trader"`
	FilledQuantity    int64  `json:"filled_quantity"`
	RemainingQuantity int64  `json:"remaining_quantity"`
}

func (OrderFilled) Name() string         { return NameOrderFilled }
func (e OrderFilled) Accounts() []string { return []string{e.Trader} }

type TradeExecuted struct {
	TradeID     string `json:"trade_id"`
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	Quantity    int64  `json:"quantity"`
	Price       int64  `json:"price"`
}

func (TradeExecuted) Name() string         { return NameTradeExecuted }
func (e TradeExecuted) Accounts() []string { return []string{e.Buyer, e.Seller} }

// SettlementFailed asks an operator to reconcile a trade whose orders were
// updated but whose ledger legs were not applied.
type SettlementFailed struct {
	TradeID string `json:"trade_id"`
	Buyer   string `json:"buyer"`
	Seller  string `json:"seller"`
	Reason  string `json:"reason"`
}

func (SettlementFailed) Name() string         { return NameSettlementFailed }
func (e SettlementFailed) Accounts() []string { return []string{e.Buyer, e.Seller} }

type AuctionCreated struct {
	AuctionID    string `json:"auction_id"`
	Seller       string `json:"seller"`
	Quantity     int64  `json:"quantity"`
	ReservePrice int64  `json:"reserve_price"`
}

func (AuctionCreated) Name() string         { return NameAuctionCreated }
func (e AuctionCreated) Accounts() []string { return []string{e.Seller} }

type BidPlaced struct {
	AuctionID string `json:"auction_id"`
	Bidder    string `json:"bidder"`
	Amount    int64  `json:"amount"`
}

func (BidPlaced) Name() string         { return NameBidPlaced }
func (e BidPlaced) Accounts() []string { return []string{e.Bidder} }

// AuctionEnded carries an empty Winner when the lot returned to the seller.
type AuctionEnded struct {
	AuctionID  string `json:"auction_id"`
	Winner     string `json:"winner"`
	WinningBid int64  `json:"winning_bid"`
}

func (AuctionEnded) Name() string { return NameAuctionEnded }
func (e AuctionEnded) Accounts() []string {
	if e.Winner == "" {
		return nil
	}
	return []string{e.Winner}
}

type AuctionCancelled struct {
	AuctionID string `json:"auction_id"`
	Seller    string `json:"seller"`
}

func (AuctionCancelled) Name() string         { return NameAuctionCancelled }
func (e AuctionCancelled) Accounts() []string { return []string{e.Seller} }

type LiquidityAdded struct {
	Provider      string `json:"provider"`
	CreditAmount  uint64 `json:"credit_amount"`
	PaymentAmount uint64 `json:"payment_amount"`
	Shares        uint64 `json:"shares"`
}

func (LiquidityAdded) Name() string         { return NameLiquidityAdded }
func (e LiquidityAdded) Accounts() []string { return []string{e.Provider} }

type LiquidityRemoved struct {
	Provider      string `json:"provider"`
	CreditAmount  uint64 `json:"credit_amount"`
	PaymentAmount uint64 `json:"payment_amount"`
	Shares        uint64 `json:"shares"`
}

func (LiquidityRemoved) Name() string         { return NameLiquidityRemoved }
func (e LiquidityRemoved) Accounts() []string { return []string{e.Provider} }

// CircuitBreakerTriggered reports the rejected price and its deviation from
// the reference price as a decimal string.
type CircuitBreakerTriggered struct {
	Partition string `json:"partition"`
	Price     int64  `json:"price"`
	Deviation string `json:"deviation"`
}

func (CircuitBreakerTriggered) Name() string { return NameCircuitBreakerTriggered }

type MarketDataUpdated struct {
	Partition string `json:"partition"`
	Price     int64  `json:"price"`
	Volume    int64  `json:"volume"`
}

func (MarketDataUpdated) Name() string { return NameMarketDataUpdated }
