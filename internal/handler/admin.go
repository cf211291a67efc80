package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/carbonexchange/internal/access"
	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/params"
	"github.com/efreitasn/carbonexchange/internal/service"
)

// AdminHandler serves the role-gated administration endpoints.
type AdminHandler struct {
	paramsSvc  *service.ParamsService
	orderSvc   *service.OrderService
	accountSvc *service.AccountService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(paramsSvc *service.ParamsService, orderSvc *service.OrderService, accountSvc *service.AccountService) *AdminHandler {
	return &AdminHandler{paramsSvc: paramsSvc, orderSvc: orderSvc, accountSvc: accountSvc}
}

// paramsBody is both the response of GET /admin/params and the body of
// PUT /admin/params, where omitted fields keep their value. Durations are
// in seconds.
type paramsBody struct {
	MakerFeeBps         *int64  `json:"maker_fee_bps"`
	TakerFeeBps         *int64  `json:"taker_fee_bps"`
	AuctionFeeBps       *int64  `json:"auction_fee_bps"`
	MinOrderQuantity    *int64  `json:"min_order_quantity"`
	MaxOrderQuantity    *int64  `json:"max_order_quantity"`
	MaxOrderDuration    *int64  `json:"max_order_duration_seconds"`
	TickSize            *int64  `json:"tick_size_cents"`
	MaxQuantityPerOrder *int64  `json:"max_quantity_per_order"`
	DailyVolumeCap      *int64  `json:"daily_volume_cap"`
	DailyOrderCountCap  *int64  `json:"daily_order_count_cap"`
	BreakerThreshold    *string `json:"breaker_threshold"`
	BreakerCooldown     *int64  `json:"breaker_cooldown_seconds"`
	MaxAuctionDuration  *int64  `json:"max_auction_duration_seconds"`
}

// GetParams handles GET /admin/params.
func (h *AdminHandler) GetParams(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, buildParamsBody(h.paramsSvc.Get()))
}

// UpdateParams handles PUT /admin/params.
func (h *AdminHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	var body paramsBody
	if err := ParseJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	p, err := h.paramsSvc.Update(account, service.UpdateParamsRequest{
		MakerFeeBps:         body.MakerFeeBps,
		TakerFeeBps:         body.TakerFeeBps,
		AuctionFeeBps:       body.AuctionFeeBps,
		MinOrderQuantity:    body.MinOrderQuantity,
		MaxOrderQuantity:    body.MaxOrderQuantity,
		MaxOrderDuration:    body.MaxOrderDuration,
		TickSize:            body.TickSize,
		MaxQuantityPerOrder: body.MaxQuantityPerOrder,
		DailyVolumeCap:      body.DailyVolumeCap,
		DailyOrderCountCap:  body.DailyOrderCountCap,
		BreakerThreshold:    body.BreakerThreshold,
		BreakerCooldown:     body.BreakerCooldown,
		MaxAuctionDuration:  body.MaxAuctionDuration,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildParamsBody(p))
}

func buildParamsBody(p params.Params) paramsBody {
	i := func(v int64) *int64 { return &v }
	threshold := p.BreakerThreshold.String()
	return paramsBody{
		MakerFeeBps:         i(p.MakerFeeBps),
		TakerFeeBps:         i(p.TakerFeeBps),
		AuctionFeeBps:       i(p.AuctionFeeBps),
		MinOrderQuantity:    i(p.MinOrderQuantity),
		MaxOrderQuantity:    i(p.MaxOrderQuantity),
		MaxOrderDuration:    i(int64(p.MaxOrderDuration.Seconds())),
		TickSize:            i(p.TickSize),
		MaxQuantityPerOrder: i(p.MaxQuantityPerOrder),
		DailyVolumeCap:      i(p.DailyVolumeCap),
		DailyOrderCountCap:  i(p.DailyOrderCountCap),
		BreakerThreshold:    &threshold,
		BreakerCooldown:     i(int64(p.BreakerCooldown.Seconds())),
		MaxAuctionDuration:  i(int64(p.MaxAuctionDuration.Seconds())),
	}
}

// ListFailedSettlements handles GET /admin/settlements/failed.
func (h *AdminHandler) ListFailedSettlements(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	trades, err := h.orderSvc.PendingReconciliation(account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := make([]failedTradeResponse, len(trades))
	for i, t := range trades {
		resp[i] = failedTradeResponse{
			tradeResponse: buildTradeResponses([]*domain.Trade{t})[0],
			Buyer:         t.Buyer,
			Seller:        t.Seller,
			FailureReason: t.FailureReason,
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"trades": resp})
}

// ResolveFailedSettlement handles DELETE /admin/settlements/failed/{trade_id}.
func (h *AdminHandler) ResolveFailedSettlement(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.orderSvc.ResolveReconciliation(account, chi.URLParam(r, "trade_id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type failedTradeResponse struct {
	tradeResponse
	Buyer         string `json:"buyer"`
	Seller        string `json:"seller"`
	FailureReason string `json:"failure_reason"`
}

// depositRequest is the body of POST /admin/deposits: credit_type,
// vintage_year and quantity for credits, or amount in dollars for payment.
type depositRequest struct {
	Account     string   `json:"account"`
	CreditType  string   `json:"credit_type"`
	VintageYear int      `json:"vintage_year"`
	Quantity    int64    `json:"quantity"`
	Amount      *float64 `json:"amount"`
}

// balanceResponse reports a balance in credits, or in dollars for payment.
type balanceResponse struct {
	Account string  `json:"account"`
	Asset   string  `json:"asset"`
	Balance float64 `json:"balance"`
}

// Deposit handles POST /admin/deposits.
func (h *AdminHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	var body depositRequest
	if err := ParseJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	req := service.DepositRequest{Account: body.Account, Quantity: body.Quantity, Amount: body.Amount}
	if body.CreditType != "" || body.VintageYear != 0 {
		req.Partition = &domain.Partition{CreditType: body.CreditType, VintageYear: body.VintageYear}
	}
	bal, err := h.accountSvc.Deposit(r.Context(), account, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := balanceResponse{Account: bal.Account, Asset: bal.Asset, Balance: float64(bal.Balance)}
	if bal.Asset == domain.PaymentAsset {
		resp.Balance = domain.CentsToDollars(bal.Balance)
	}
	WriteJSON(w, http.StatusCreated, resp)
}

// GrantRole handles PUT /admin/accounts/{account_id}/roles/{role}.
func (h *AdminHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, h.accountSvc.GrantRole)
}

// RevokeRole handles DELETE /admin/accounts/{account_id}/roles/{role}.
func (h *AdminHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, h.accountSvc.RevokeRole)
}

func (h *AdminHandler) changeRole(w http.ResponseWriter, r *http.Request, change func(caller, account string, role access.Role) error) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	role, err := service.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := change(account, chi.URLParam(r, "account_id"), role); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// complianceBody is the body of PUT /admin/accounts/{account_id}/compliance,
// where omitted flags keep their value, and its response.
type complianceBody struct {
	Account     string `json:"account,omitempty"`
	Blacklisted *bool  `json:"blacklisted"`
	Stale       *bool  `json:"stale"`
}

// SetCompliance handles PUT /admin/accounts/{account_id}/compliance.
func (h *AdminHandler) SetCompliance(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	var body complianceBody
	if err := ParseJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	status, err := h.accountSvc.SetCompliance(r.Context(), account, chi.URLParam(r, "account_id"),
		service.ComplianceUpdate{Blacklisted: body.Blacklisted, Stale: body.Stale})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, complianceBody{
		Account:     status.Account,
		Blacklisted: &status.Blacklisted,
		Stale:       &status.Stale,
	})
}
