package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/engine"
	"github.com/efreitasn/carbonexchange/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// submitOrderRequest is the JSON request body for POST /orders.
type submitOrderRequest struct {
	Kind            string   `json:"kind"`
	Side            string   `json:"side"`
	CreditType      string   `json:"credit_type"`
	VintageYear     int      `json:"vintage_year"`
	Quantity        int64    `json:"quantity"`
	Price           *float64 `json:"price"`
	StopPrice       *float64 `json:"stop_price"`
	MinFillQuantity int64    `json:"min_fill_quantity"`
	DisplayQuantity int64    `json:"display_quantity"`
	ExpiresAt       *string  `json:"expires_at"`
}

// orderResponse is the JSON representation of an order. Prices are in
// dollars; nullable fields use pointers.
type orderResponse struct {
	OrderID           string          `json:"order_id"`
	Owner             string          `json:"owner"`
	Kind              string          `json:"kind"`
	Side              string          `json:"side"`
	CreditType        string          `json:"credit_type"`
	VintageYear       int             `json:"vintage_year"`
	Price             *float64        `json:"price"`
	StopPrice         *float64        `json:"stop_price"`
	Triggered         bool            `json:"triggered"`
	Quantity          int64           `json:"quantity"`
	FilledQuantity    int64           `json:"filled_quantity"`
	RemainingQuantity int64           `json:"remaining_quantity"`
	MinFillQuantity   int64           `json:"min_fill_quantity"`
	DisplayQuantity   *int64          `json:"display_quantity,omitempty"`
	Status            string          `json:"status"`
	ExpiresAt         *string         `json:"expires_at"`
	CreatedAt         string          `json:"created_at"`
	CancelledAt       *string         `json:"cancelled_at"`
	ExpiredAt         *string         `json:"expired_at"`
	AveragePrice      *float64        `json:"average_price"`
	Trades            []tradeResponse `json:"trades"`
}

// submitOrderResponse adds what the submission did beyond the order
// itself: stop orders it triggered and whether the breaker halted it.
type submitOrderResponse struct {
	orderResponse
	TriggeredOrders []string `json:"triggered_orders"`
	Halted          bool     `json:"halted"`
}

// tradeResponse is a single trade in an order or market response.
type tradeResponse struct {
	TradeID          string  `json:"trade_id"`
	BuyOrderID       string  `json:"buy_order_id"`
	SellOrderID      string  `json:"sell_order_id"`
	Price            float64 `json:"price"`
	Quantity         int64   `json:"quantity"`
	BuyerFee         float64 `json:"buyer_fee"`
	SellerFee        float64 `json:"seller_fee"`
	SettlementStatus string  `json:"settlement_status"`
	ExecutedAt       string  `json:"executed_at"`
}

// orderListResponse is the JSON response for GET /accounts/{account_id}/orders.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
	Total  int             `json:"total"`
}

// SubmitOrder handles POST /orders.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "expires_at must be a valid RFC 3339 timestamp")
			return
		}
		expiresAt = &t
	}

	res, err := h.orderSvc.SubmitOrder(r.Context(), service.SubmitOrderRequest{
		Owner:           account,
		Kind:            domain.OrderKind(req.Kind),
		Side:            domain.OrderSide(req.Side),
		CreditType:      req.CreditType,
		VintageYear:     req.VintageYear,
		Quantity:        req.Quantity,
		Price:           req.Price,
		StopPrice:       req.StopPrice,
		MinFillQuantity: req.MinFillQuantity,
		DisplayQuantity: req.DisplayQuantity,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildSubmitResponse(res))
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	order, err := h.orderSvc.GetOrder(account, chi.URLParam(r, "order_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// CancelOrder handles DELETE /orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	order, err := h.orderSvc.CancelOrder(account, chi.URLParam(r, "order_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// ListOrders handles GET /accounts/{account_id}/orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	page, err := intQuery(r, "page", 1)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	limit, err := intQuery(r, "limit", 20)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	req := service.ListOrdersRequest{Page: page, Limit: limit}
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		st := domain.OrderStatus(s)
		req.Status = &st
	}
	req.Side = domain.OrderSide(q.Get("side"))
	// credit_type and vintage narrow the list to one partition together.
	if ct := q.Get("credit_type"); ct != "" || q.Get("vintage") != "" {
		vintage, err := intQuery(r, "vintage", 0)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		req.Partition = &domain.Partition{CreditType: ct, VintageYear: vintage}
	}

	orders, total, err := h.orderSvc.ListOrders(account, chi.URLParam(r, "account_id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := orderListResponse{
		Orders: make([]orderResponse, len(orders)),
		Page:   page,
		Limit:  limit,
		Total:  total,
	}
	for i, o := range orders {
		resp.Orders[i] = buildOrderResponse(o)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func buildSubmitResponse(res *engine.SubmitResult) submitOrderResponse {
	triggered := make([]string, len(res.Triggered))
	for i, o := range res.Triggered {
		triggered[i] = o.OrderID
	}
	return submitOrderResponse{
		orderResponse:   buildOrderResponse(res.Order),
		TriggeredOrders: triggered,
		Halted:          res.Halted,
	}
}

func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:           o.OrderID,
		Owner:             o.Owner,
		Kind:              string(o.Kind),
		Side:              string(o.Side),
		CreditType:        o.Partition.CreditType,
		VintageYear:       o.Partition.VintageYear,
		Triggered:         o.Triggered,
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity(),
		MinFillQuantity:   o.MinFillQuantity,
		Status:            string(o.Status),
		ExpiresAt:         formatTimePtr(o.ExpiresAt),
		CreatedAt:         formatTime(o.CreatedAt),
		CancelledAt:       formatTimePtr(o.CancelledAt),
		ExpiredAt:         formatTimePtr(o.ExpiredAt),
		Trades:            buildTradeResponses(o.Trades),
	}
	if o.Price > 0 {
		v := domain.CentsToDollars(o.Price)
		resp.Price = &v
	}
	if o.StopPrice > 0 {
		v := domain.CentsToDollars(o.StopPrice)
		resp.StopPrice = &v
	}
	if o.Iceberg {
		d := o.DisplayQuantity
		resp.DisplayQuantity = &d
	}
	if avg, ok := o.AveragePrice(); ok {
		v := domain.CentsToDollars(avg)
		resp.AveragePrice = &v
	}
	return resp
}

// buildTradeResponses converts domain trades to response trades.
func buildTradeResponses(trades []*domain.Trade) []tradeResponse {
	result := make([]tradeResponse, len(trades))
	for i, t := range trades {
		result[i] = tradeResponse{
			TradeID:          t.TradeID,
			BuyOrderID:       t.BuyOrderID,
			SellOrderID:      t.SellOrderID,
			Price:            domain.CentsToDollars(t.Price),
			Quantity:         t.Quantity,
			BuyerFee:         domain.CentsToDollars(t.BuyerFee),
			SellerFee:        domain.CentsToDollars(t.SellerFee),
			SettlementStatus: string(t.SettlementStatus),
			ExecutedAt:       formatTime(t.ExecutedAt),
		}
	}
	return result
}
