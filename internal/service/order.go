package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/carbonexchange/internal/access"
	"github.com/efreitasn/carbonexchange/internal/compliance"
	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/engine"
	"github.com/efreitasn/carbonexchange/internal/fee"
	"github.com/efreitasn/carbonexchange/internal/ledger"
	"github.com/efreitasn/carbonexchange/internal/params"
	"github.com/efreitasn/carbonexchange/internal/risk"
	"github.com/efreitasn/carbonexchange/internal/store"
)

// ValidOrderKinds is the set of accepted order kinds.
var ValidOrderKinds = map[domain.OrderKind]bool{
	domain.OrderKindMarket:       true,
	domain.OrderKindLimit:        true,
	domain.OrderKindStop:         true,
	domain.OrderKindStopLimit:    true,
	domain.OrderKindIcebergLimit: true,
}

// ValidOrderStatuses is the set of valid order status values for filtering.
var ValidOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusActive:          true,
	domain.OrderStatusPartiallyFilled: true,
	domain.OrderStatusFilled:          true,
	domain.OrderStatusCancelled:       true,
	domain.OrderStatusExpired:         true,
	domain.OrderStatusRejected:        true,
}

// MaxBookDepth bounds the number of levels returned per side.
const MaxBookDepth = 50

// SubmitOrderRequest holds the parameters for submitting an order.
// Prices are in dollars with at most two decimals.
type SubmitOrderRequest struct {
	Owner           string
	Kind            domain.OrderKind
	Side            domain.OrderSide
	CreditType      string
	VintageYear     int
	Quantity        int64
	Price           *float64
	StopPrice       *float64
	MinFillQuantity int64
	DisplayQuantity int64
	ExpiresAt       *time.Time
}

// ListOrdersRequest selects one page of an account's orders. Nil and
// zero filters match everything.
type ListOrdersRequest struct {
	Status    *domain.OrderStatus
	Partition *domain.Partition
	Side      domain.OrderSide
	Page      int
	Limit     int
}

// OrderService admits orders into the matcher and serves order and
// market data queries.
type OrderService struct {
	matcher    *engine.Matcher
	guard      *risk.Guard
	compliance compliance.Checker
	ledger     ledger.Ledger
	params     *params.Store
	trades     *store.TradeStore
	recon      *store.ReconciliationQueue
	access     access.Checker
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(
	matcher *engine.Matcher,
	guard *risk.Guard,
	c compliance.Checker,
	l ledger.Ledger,
	ps *params.Store,
	trades *store.TradeStore,
	recon *store.ReconciliationQueue,
	checker access.Checker,
	logger *slog.Logger,
) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		matcher:    matcher,
		guard:      guard,
		compliance: c,
		ledger:     l,
		params:     ps,
		trades:     trades,
		recon:      recon,
		access:     checker,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock replaces the time source used for expiry validation.
func (s *OrderService) SetClock(now func() time.Time) {
	s.now = now
}

// SubmitOrder validates and admits an order, then hands it to the matcher.
// Admission runs in order: request validation, circuit breaker, risk
// limits, compliance, balance pre-flight.
func (s *OrderService) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*engine.SubmitResult, error) {
	p := s.params.Get()

	order, err := s.buildOrder(req, p)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Halted(); err != nil {
		return nil, err
	}
	if err := s.guard.CheckOrder(order.Owner, order.Quantity); err != nil {
		return nil, err
	}
	if err := compliance.Check(ctx, s.compliance, order.Owner); err != nil {
		return nil, err
	}
	if err := s.checkBalance(ctx, order, p); err != nil {
		return nil, err
	}

	res := s.matcher.Submit(ctx, order)
	s.logger.Debug("order submitted",
		slog.String("order_id", res.Order.OrderID),
		slog.String("status", string(res.Order.Status)),
		slog.Int("trades", len(res.Trades)),
	)
	return res, nil
}

func (s *OrderService) buildOrder(req SubmitOrderRequest, p params.Params) (*domain.Order, error) {
	if req.Owner == "" {
		return nil, &domain.ValidationError{Message: "account is required"}
	}
	if !ValidOrderKinds[req.Kind] {
		return nil, &domain.ValidationError{
			Message: "kind must be one of: market, limit, stop, stop_limit, iceberg_limit",
		}
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return nil, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	part := domain.Partition{CreditType: req.CreditType, VintageYear: req.VintageYear}
	if err := part.Validate(); err != nil {
		return nil, err
	}
	if req.Quantity < p.MinOrderQuantity || req.Quantity > p.MaxOrderQuantity {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("quantity must be between %d and %d", p.MinOrderQuantity, p.MaxOrderQuantity),
		}
	}

	order := &domain.Order{
		Owner:           req.Owner,
		Kind:            req.Kind,
		Side:            req.Side,
		Partition:       part,
		Quantity:        req.Quantity,
		MinFillQuantity: req.MinFillQuantity,
	}

	limitPriced := req.Kind == domain.OrderKindLimit ||
		req.Kind == domain.OrderKindStopLimit ||
		req.Kind == domain.OrderKindIcebergLimit
	switch {
	case limitPriced && req.Price == nil:
		return nil, &domain.ValidationError{Message: fmt.Sprintf("%s orders require price", req.Kind)}
	case !limitPriced && req.Price != nil:
		return nil, &domain.ValidationError{Message: fmt.Sprintf("%s orders must not include price", req.Kind)}
	case limitPriced:
		price, err := priceCents("price", *req.Price, p.TickSize)
		if err != nil {
			return nil, err
		}
		order.Price = price
	}

	stopKind := req.Kind == domain.OrderKindStop || req.Kind == domain.OrderKindStopLimit
	switch {
	case stopKind && req.StopPrice == nil:
		return nil, &domain.ValidationError{Message: fmt.Sprintf("%s orders require stop_price", req.Kind)}
	case !stopKind && req.StopPrice != nil:
		return nil, &domain.ValidationError{Message: fmt.Sprintf("%s orders must not include stop_price", req.Kind)}
	case stopKind:
		stop, err := priceCents("stop_price", *req.StopPrice, p.TickSize)
		if err != nil {
			return nil, err
		}
		order.StopPrice = stop
	}
	if !domain.NotionalWithin(order.Quantity, max(order.Price, order.StopPrice)) {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("quantity × price must not exceed %s", formatCents(domain.MaxNotional)),
		}
	}

	if req.Kind == domain.OrderKindIcebergLimit {
		if req.DisplayQuantity <= 0 || req.DisplayQuantity >= req.Quantity {
			return nil, &domain.ValidationError{Message: "display_quantity must be greater than 0 and less than quantity"}
		}
		order.Iceberg = true
		order.DisplayQuantity = req.DisplayQuantity
		order.VisibleQuantity = req.DisplayQuantity
	} else if req.DisplayQuantity != 0 {
		return nil, &domain.ValidationError{Message: "display_quantity is only valid for iceberg_limit orders"}
	}

	if req.MinFillQuantity < 0 || req.MinFillQuantity > req.Quantity {
		return nil, &domain.ValidationError{Message: "min_fill_quantity must be between 0 and quantity"}
	}
	if order.Iceberg && req.MinFillQuantity > req.DisplayQuantity {
		return nil, &domain.ValidationError{Message: "min_fill_quantity must not exceed display_quantity"}
	}

	if req.ExpiresAt != nil {
		if req.Kind == domain.OrderKindMarket {
			return nil, &domain.ValidationError{Message: "market orders must not include expires_at"}
		}
		now := s.now()
		if !req.ExpiresAt.After(now) {
			return nil, &domain.ValidationError{Message: "expires_at must be in the future"}
		}
		if req.ExpiresAt.After(now.Add(p.MaxOrderDuration)) {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("expires_at must be within %s", p.MaxOrderDuration),
			}
		}
		exp := *req.ExpiresAt
		order.ExpiresAt = &exp
	}

	return order, nil
}

func priceCents(field string, dollars float64, tick int64) (int64, error) {
	if dollars <= 0 {
		return 0, &domain.ValidationError{Message: field + " must be greater than 0"}
	}
	cents, err := domain.DollarsToCents(dollars)
	if err != nil {
		return 0, &domain.ValidationError{Message: err.Error()}
	}
	if cents%tick != 0 {
		return 0, &domain.ValidationError{
			Message: fmt.Sprintf("%s must be a multiple of the tick size (%d cents)", field, tick),
		}
	}
	return cents, nil
}

func formatCents(c int64) string {
	return "$" + decimal.New(c, -2).StringFixed(2)
}

// checkBalance rejects orders the owner could not settle even if fully
// filled. Market buys are estimated against the current book; stop buys
// against their trigger price.
func (s *OrderService) checkBalance(ctx context.Context, o *domain.Order, p params.Params) error {
	asset := domain.PaymentAsset
	var required int64
	switch {
	case o.Side == domain.OrderSideSell:
		asset = o.Partition.CreditAsset()
		required = o.Quantity
	case o.Kind == domain.OrderKindMarket:
		q := s.matcher.Quote(o.Partition, o.Side, o.Quantity)
		if q.EstimatedTotal != nil && *q.EstimatedTotal > domain.MaxNotional {
			return &domain.ValidationError{
				Message: fmt.Sprintf("estimated cost must not exceed %s", formatCents(domain.MaxNotional)),
			}
		}
		if q.EstimatedTotal != nil {
			required = *q.EstimatedTotal + fee.Fee(*q.EstimatedTotal, p.TakerFeeBps)
		}
	case o.Kind == domain.OrderKindStop:
		notional := fee.Notional(o.Quantity, o.StopPrice)
		required = notional + fee.Fee(notional, p.TakerFeeBps)
	default:
		notional := fee.Notional(o.Quantity, o.Price)
		required = notional + fee.Fee(notional, p.TakerFeeBps)
	}
	if required == 0 {
		return nil
	}

	available, err := s.ledger.BalanceOf(ctx, asset, o.Owner)
	if err != nil {
		return fmt.Errorf("query %s balance of %s: %w", asset, o.Owner, err)
	}
	if available < required {
		return &domain.InsufficientBalanceError{
			Account:   o.Owner,
			Asset:     asset,
			Required:  required,
			Available: available,
		}
	}
	return nil
}

// GetOrder retrieves an order with its trades. Only the owner or an
// operator may read it.
func (s *OrderService) GetOrder(caller, orderID string) (*domain.Order, error) {
	o, err := s.matcher.Get(orderID)
	if err != nil {
		return nil, err
	}
	if caller != o.Owner {
		if err := s.access.Require(caller, access.RoleOperator, "read order "+orderID); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// CancelOrder cancels an active or partially filled order.
func (s *OrderService) CancelOrder(caller, orderID string) (*domain.Order, error) {
	return s.matcher.Cancel(caller, orderID)
}

// ListOrders returns snapshots of one page of an account's orders, newest
// first, and the number of orders matching the filters.
func (s *OrderService) ListOrders(caller, account string, req ListOrdersRequest) ([]*domain.Order, int, error) {
	if caller != account {
		if err := s.access.Require(caller, access.RoleOperator, "list orders of "+account); err != nil {
			return nil, 0, err
		}
	}
	if req.Status != nil && !ValidOrderStatuses[*req.Status] {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid status filter: '%s'. Must be one of: active, partially_filled, filled, cancelled, expired, rejected", *req.Status),
		}
	}
	if req.Partition != nil {
		if err := req.Partition.Validate(); err != nil {
			return nil, 0, err
		}
	}
	if req.Side != "" && req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return nil, 0, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	if req.Page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be >= 1"}
	}
	if req.Limit < 1 || req.Limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}

	filter := store.OrderFilter{Partition: req.Partition, Side: req.Side}
	orders, total := s.matcher.List(account, filter, req.Status, req.Page, req.Limit)
	return orders, total, nil
}

// Book returns up to depth aggregated levels per side of a partition.
func (s *OrderService) Book(p domain.Partition, depth int) (bids, asks []engine.PriceLevel, err error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	if depth < 1 || depth > MaxBookDepth {
		return nil, nil, &domain.ValidationError{
			Message: fmt.Sprintf("depth must be between 1 and %d", MaxBookDepth),
		}
	}
	bids, asks = s.matcher.Depth(p, depth)
	return bids, asks, nil
}

// Snapshot returns market data for a partition.
func (s *OrderService) Snapshot(p domain.Partition) (domain.MarketSnapshot, error) {
	if err := p.Validate(); err != nil {
		return domain.MarketSnapshot{}, err
	}
	return s.matcher.Snapshot(p), nil
}

// Quote estimates the result of a market order without placing it.
func (s *OrderService) Quote(p domain.Partition, side domain.OrderSide, quantity int64) (*engine.QuoteResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return nil, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	if quantity <= 0 {
		return nil, &domain.ValidationError{Message: "quantity must be greater than 0"}
	}
	return s.matcher.Quote(p, side, quantity), nil
}

// Trades returns the most recent trades of a partition, oldest first.
func (s *OrderService) Trades(p domain.Partition, limit int) ([]*domain.Trade, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 100 {
		return nil, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}
	return s.trades.ByPartition(p, limit), nil
}

// BreakerStatus reports the market-wide circuit breaker.
func (s *OrderService) BreakerStatus() risk.BreakerStatus {
	return s.guard.Status()
}

// PendingReconciliation lists trades whose settlement failed and that an
// operator has not resolved yet.
func (s *OrderService) PendingReconciliation(caller string) ([]*domain.Trade, error) {
	if err := s.access.Require(caller, access.RoleOperator, "list failed settlements"); err != nil {
		return nil, err
	}
	return s.recon.Pending(), nil
}

// ResolveReconciliation marks a failed trade as reconciled.
func (s *OrderService) ResolveReconciliation(caller, tradeID string) error {
	if err := s.access.Require(caller, access.RoleOperator, "resolve failed settlement "+tradeID); err != nil {
		return err
	}
	if !s.recon.Resolve(tradeID) {
		return domain.ErrTradeNotFound
	}
	s.logger.Info("settlement reconciled", slog.String("trade_id", tradeID), slog.String("operator", caller))
	return nil
}
