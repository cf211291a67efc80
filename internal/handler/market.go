package handler

import (
	"net/http"
	"strconv"

	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/engine"
	"github.com/efreitasn/carbonexchange/internal/service"
)

// MarketHandler serves market data of a credit partition.
type MarketHandler struct {
	orderSvc *service.OrderService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(orderSvc *service.OrderService) *MarketHandler {
	return &MarketHandler{orderSvc: orderSvc}
}

// bookLevelResponse is a single price level in the book response.
type bookLevelResponse struct {
	Price         float64 `json:"price"`
	TotalQuantity int64   `json:"total_quantity"`
	OrderCount    int     `json:"order_count"`
}

// bookResponse is the JSON response for GET /markets/{credit_type}/{vintage}/book.
type bookResponse struct {
	CreditType  string              `json:"credit_type"`
	VintageYear int                 `json:"vintage_year"`
	Bids        []bookLevelResponse `json:"bids"`
	Asks        []bookLevelResponse `json:"asks"`
	Spread      *float64            `json:"spread"`
}

// snapshotResponse is the JSON response for GET /markets/{credit_type}/{vintage}/snapshot.
// Prices are null when there is no data.
type snapshotResponse struct {
	CreditType  string   `json:"credit_type"`
	VintageYear int      `json:"vintage_year"`
	LastPrice   *float64 `json:"last_price"`
	High24h     *float64 `json:"high_24h"`
	Low24h      *float64 `json:"low_24h"`
	Volume24h   int64    `json:"volume_24h"`
	BestBid     *float64 `json:"best_bid"`
	BestBidSize int64    `json:"best_bid_size"`
	BestAsk     *float64 `json:"best_ask"`
	BestAskSize int64    `json:"best_ask_size"`
	UpdatedAt   *string  `json:"updated_at"`
	Halted      bool     `json:"halted"`
}

// quoteLevelResponse is a single price level in the quote response.
type quoteLevelResponse struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
}

// quoteResponse is the JSON response for GET /markets/{credit_type}/{vintage}/quote.
type quoteResponse struct {
	Side              string               `json:"side"`
	QuantityRequested int64                `json:"quantity_requested"`
	QuantityAvailable int64                `json:"quantity_available"`
	FullyFillable     bool                 `json:"fully_fillable"`
	EstimatedAvgPrice *float64             `json:"estimated_average_price"`
	EstimatedTotal    *float64             `json:"estimated_total"`
	PriceLevels       []quoteLevelResponse `json:"price_levels"`
}

// GetBook handles GET /markets/{credit_type}/{vintage}/book.
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	p, ok := partitionParam(w, r)
	if !ok {
		return
	}
	depth, err := intQuery(r, "depth", 10)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	bids, asks, err := h.orderSvc.Book(p, depth)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := bookResponse{
		CreditType:  p.CreditType,
		VintageYear: p.VintageYear,
		Bids:        buildLevels(bids),
		Asks:        buildLevels(asks),
	}
	if len(bids) > 0 && len(asks) > 0 {
		v := domain.CentsToDollars(asks[0].Price - bids[0].Price)
		resp.Spread = &v
	}
	WriteJSON(w, http.StatusOK, resp)
}

func buildLevels(levels []engine.PriceLevel) []bookLevelResponse {
	out := make([]bookLevelResponse, len(levels))
	for i, l := range levels {
		out[i] = bookLevelResponse{
			Price:         domain.CentsToDollars(l.Price),
			TotalQuantity: l.TotalQuantity,
			OrderCount:    l.OrderCount,
		}
	}
	return out
}

// GetSnapshot handles GET /markets/{credit_type}/{vintage}/snapshot.
func (h *MarketHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	p, ok := partitionParam(w, r)
	if !ok {
		return
	}
	snap, err := h.orderSvc.Snapshot(p)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := snapshotResponse{
		CreditType:  p.CreditType,
		VintageYear: p.VintageYear,
		LastPrice:   dollarsOrNull(snap.LastPrice),
		High24h:     dollarsOrNull(snap.High24h),
		Low24h:      dollarsOrNull(snap.Low24h),
		Volume24h:   snap.Volume24h,
		BestBid:     dollarsOrNull(snap.BestBid),
		BestBidSize: snap.BestBidSize,
		BestAsk:     dollarsOrNull(snap.BestAsk),
		BestAskSize: snap.BestAskSize,
		Halted:      h.orderSvc.BreakerStatus().Triggered,
	}
	if !snap.UpdatedAt.IsZero() {
		s := formatTime(snap.UpdatedAt)
		resp.UpdatedAt = &s
	}
	WriteJSON(w, http.StatusOK, resp)
}

func dollarsOrNull(cents int64) *float64 {
	if cents == 0 {
		return nil
	}
	v := domain.CentsToDollars(cents)
	return &v
}

// GetQuote handles GET /markets/{credit_type}/{vintage}/quote.
func (h *MarketHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	p, ok := partitionParam(w, r)
	if !ok {
		return
	}
	side := r.URL.Query().Get("side")
	quantity, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "quantity must be a positive integer")
		return
	}

	quote, err := h.orderSvc.Quote(p, domain.OrderSide(side), quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	levels := make([]quoteLevelResponse, len(quote.PriceLevels))
	for i, pl := range quote.PriceLevels {
		levels[i] = quoteLevelResponse{
			Price:    domain.CentsToDollars(pl.Price),
			Quantity: pl.Quantity,
		}
	}
	resp := quoteResponse{
		Side:              side,
		QuantityRequested: quantity,
		QuantityAvailable: quote.QuantityAvailable,
		FullyFillable:     quote.FullyFillable,
		PriceLevels:       levels,
	}
	if quote.EstimatedAvgPrice != nil {
		v := domain.CentsToDollars(*quote.EstimatedAvgPrice)
		resp.EstimatedAvgPrice = &v
	}
	if quote.EstimatedTotal != nil {
		v := domain.CentsToDollars(*quote.EstimatedTotal)
		resp.EstimatedTotal = &v
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetTrades handles GET /markets/{credit_type}/{vintage}/trades.
func (h *MarketHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	p, ok := partitionParam(w, r)
	if !ok {
		return
	}
	limit, err := intQuery(r, "limit", 50)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	trades, err := h.orderSvc.Trades(p, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"trades": buildTradeResponses(trades)})
}
