package handler

import (
	"errors"
	"net/http"

	"github.com/efreitasn/carbonexchange/internal/pool"
)

// PoolHandler handles HTTP requests for liquidity pool endpoints.
type PoolHandler struct {
	pools *pool.Manager
}

// NewPoolHandler creates a new PoolHandler.
func NewPoolHandler(pools *pool.Manager) *PoolHandler {
	return &PoolHandler{pools: pools}
}

// addLiquidityRequest is the JSON body for POST /pools/{credit_type}/{vintage}/liquidity.
// PaymentAmount is in cents.
type addLiquidityRequest struct {
	CreditAmount  uint64 `json:"credit_amount"`
	PaymentAmount uint64 `json:"payment_amount"`
}

// removeLiquidityRequest is the JSON body for DELETE /pools/{credit_type}/{vintage}/liquidity.
type removeLiquidityRequest struct {
	Shares uint64 `json:"shares"`
}

// liquidityResponse reports the amounts moved and the provider's
// resulting position.
type liquidityResponse struct {
	Provider      string `json:"provider"`
	CreditAmount  uint64 `json:"credit_amount"`
	PaymentAmount uint64 `json:"payment_amount"`
	Shares        uint64 `json:"shares"`
	PositionTotal uint64 `json:"position_shares"`
}

// poolResponse is the JSON response for GET /pools/{credit_type}/{vintage}.
type poolResponse struct {
	CreditType     string  `json:"credit_type"`
	VintageYear    int     `json:"vintage_year"`
	CreditReserve  uint64  `json:"credit_reserve"`
	PaymentReserve uint64  `json:"payment_reserve"`
	TotalShares    uint64  `json:"total_shares"`
	Providers      int     `json:"providers"`
	CallerShares   *uint64 `json:"caller_shares,omitempty"`
}

// AddLiquidity handles POST /pools/{credit_type}/{vintage}/liquidity.
func (h *PoolHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	p, ok := partitionParam(w, r)
	if !ok {
		return
	}
	var req addLiquidityRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	shares, err := h.pools.Add(r.Context(), account, p, req.CreditAmount, req.PaymentAmount)
	if err != nil {
		writePoolError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, liquidityResponse{
		Provider:      account,
		CreditAmount:  req.CreditAmount,
		PaymentAmount: req.PaymentAmount,
		Shares:        shares,
		PositionTotal: h.pools.Position(p, account).Shares,
	})
}

// RemoveLiquidity handles DELETE /pools/{credit_type}/{vintage}/liquidity.
func (h *PoolHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	p, ok := partitionParam(w, r)
	if !ok {
		return
	}
	var req removeLiquidityRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	credit, payment, err := h.pools.Remove(r.Context(), account, p, req.Shares)
	if err != nil {
		writePoolError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, liquidityResponse{
		Provider:      account,
		CreditAmount:  credit,
		PaymentAmount: payment,
		Shares:        req.Shares,
		PositionTotal: h.pools.Position(p, account).Shares,
	})
}

// GetPool handles GET /pools/{credit_type}/{vintage}. When the caller
// identifies itself its own position is included.
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	p, ok := partitionParam(w, r)
	if !ok {
		return
	}
	res := h.pools.Reserves(p)
	resp := poolResponse{
		CreditType:     p.CreditType,
		VintageYear:    p.VintageYear,
		CreditReserve:  res.CreditReserve,
		PaymentReserve: res.PaymentReserve,
		TotalShares:    res.TotalShares,
		Providers:      res.Providers,
	}
	if account := r.Header.Get(AccountHeader); account != "" {
		shares := h.pools.Position(p, account).Shares
		resp.CallerShares = &shares
	}
	WriteJSON(w, http.StatusOK, resp)
}

func writePoolError(w http.ResponseWriter, err error) {
	if errors.Is(err, pool.ErrOverflow) {
		WriteError(w, http.StatusUnprocessableEntity, "overflow", err.Error())
		return
	}
	writeDomainError(w, err)
}
