package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/carbonexchange/internal/auction"
	"github.com/efreitasn/carbonexchange/internal/domain"
)

// AuctionHandler handles HTTP requests for auction endpoints.
type AuctionHandler struct {
	auctions *auction.Manager
}

// NewAuctionHandler creates a new AuctionHandler.
func NewAuctionHandler(auctions *auction.Manager) *AuctionHandler {
	return &AuctionHandler{auctions: auctions}
}

// createAuctionRequest is the JSON request body for POST /auctions.
// The reserve price is the minimum total for the whole lot, in dollars.
type createAuctionRequest struct {
	CreditType      string  `json:"credit_type"`
	VintageYear     int     `json:"vintage_year"`
	Quantity        int64   `json:"quantity"`
	ReservePrice    float64 `json:"reserve_price"`
	DurationSeconds int64   `json:"duration_seconds"`
}

// placeBidRequest is the JSON request body for POST /auctions/{auction_id}/bids.
type placeBidRequest struct {
	Amount float64 `json:"amount"`
}

// auctionResponse is the JSON representation of an auction.
type auctionResponse struct {
	AuctionID     string   `json:"auction_id"`
	Seller        string   `json:"seller"`
	CreditType    string   `json:"credit_type"`
	VintageYear   int      `json:"vintage_year"`
	Quantity      int64    `json:"quantity"`
	ReservePrice  float64  `json:"reserve_price"`
	StartTime     string   `json:"start_time"`
	EndTime       string   `json:"end_time"`
	HighestBid    *float64 `json:"highest_bid"`
	HighestBidder *string  `json:"highest_bidder"`
	BidCount      int      `json:"bid_count"`
	Status        string   `json:"status"`
	WinnerFee     float64  `json:"winner_fee"`
	EndedAt       *string  `json:"ended_at"`
}

// Create handles POST /auctions.
func (h *AuctionHandler) Create(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	var req createAuctionRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reserve, err := domain.DollarsToCents(req.ReservePrice)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	a, err := h.auctions.Create(r.Context(), auction.CreateRequest{
		Seller:       account,
		Partition:    domain.Partition{CreditType: req.CreditType, VintageYear: req.VintageYear},
		Quantity:     req.Quantity,
		ReservePrice: reserve,
		Duration:     time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildAuctionResponse(a))
}

// Get handles GET /auctions/{auction_id}.
func (h *AuctionHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.Get(chi.URLParam(r, "auction_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildAuctionResponse(a))
}

// List handles GET /auctions.
func (h *AuctionHandler) List(w http.ResponseWriter, r *http.Request) {
	var status *domain.AuctionStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.AuctionStatus(s)
		switch st {
		case domain.AuctionStatusActive, domain.AuctionStatusEnded, domain.AuctionStatusCancelled:
		default:
			WriteError(w, http.StatusBadRequest, "validation_error", "status must be one of: active, ended, cancelled")
			return
		}
		status = &st
	}
	auctions := h.auctions.List(status)
	resp := make([]auctionResponse, len(auctions))
	for i, a := range auctions {
		resp[i] = buildAuctionResponse(a)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"auctions": resp})
}

// PlaceBid handles POST /auctions/{auction_id}/bids.
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	var req placeBidRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	amount, err := domain.DollarsToCents(req.Amount)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	a, err := h.auctions.PlaceBid(r.Context(), chi.URLParam(r, "auction_id"), account, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildAuctionResponse(a))
}

// End handles POST /auctions/{auction_id}/end. Anyone may settle an
// auction once its close time has passed.
func (h *AuctionHandler) End(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.End(r.Context(), chi.URLParam(r, "auction_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildAuctionResponse(a))
}

// Cancel handles DELETE /auctions/{auction_id}.
func (h *AuctionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	a, err := h.auctions.Cancel(r.Context(), account, chi.URLParam(r, "auction_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildAuctionResponse(a))
}

func buildAuctionResponse(a *domain.Auction) auctionResponse {
	resp := auctionResponse{
		AuctionID:    a.AuctionID,
		Seller:       a.Seller,
		CreditType:   a.Partition.CreditType,
		VintageYear:  a.Partition.VintageYear,
		Quantity:     a.Quantity,
		ReservePrice: domain.CentsToDollars(a.ReservePrice),
		StartTime:    formatTime(a.StartTime),
		EndTime:      formatTime(a.EndTime),
		BidCount:     a.BidCount,
		Status:       string(a.Status),
		WinnerFee:    domain.CentsToDollars(a.WinnerFee),
		EndedAt:      formatTimePtr(a.EndedAt),
	}
	if a.HasBid() {
		bid := domain.CentsToDollars(a.HighestBid)
		bidder := a.HighestBidder
		resp.HighestBid = &bid
		resp.HighestBidder = &bidder
	}
	return resp
}
