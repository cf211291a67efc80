package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrOrderNotFound        = errors.New("order_not_found")
	ErrOrderNotCancellable  = errors.New("order_not_cancellable")
	ErrAuctionNotFound      = errors.New("auction_not_found")
	ErrAuctionNotActive     = errors.New("auction_not_active")
	ErrAuctionClosed        = errors.New("auction_closed")
	ErrAuctionNotEnded      = errors.New("auction_not_ended")
	ErrAuctionHasBids       = errors.New("auction_has_bids")
	ErrBidTooLow            = errors.New("bid_too_low")
	ErrInsufficientShares   = errors.New("insufficient_shares")
	ErrZeroLiquidity        = errors.New("zero_liquidity")
	ErrCircuitBreakerActive = errors.New("circuit_breaker_active")
	ErrWebhookNotFound      = errors.New("webhook_not_found")
	ErrTradeNotFound        = errors.New("trade_not_found")
)

// ValidationError represents a rejected order or request parameter.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Compliance rejection reasons.
const (
	ComplianceBlacklisted = "blacklisted"
	ComplianceStale       = "stale_compliance"
)

// ComplianceError reports an account that may not assume new exposure.
type ComplianceError struct {
	Account string
	Reason  string
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("account %s failed compliance: %s", e.Account, e.Reason)
}

// Limit names used by LimitExceededError.
const (
	LimitSingleOrder = "single_order"
	LimitDailyVolume = "daily_volume"
	LimitDailyCount  = "daily_count"
)

// LimitExceededError names the risk limit an admission would breach.
type LimitExceededError struct {
	Account   string
	Limit     string
	Requested int64
	Allowed   int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("account %s exceeds %s limit: requested %d, allowed %d",
		e.Account, e.Limit, e.Requested, e.Allowed)
}

// InsufficientBalanceError is returned when a ledger pre-flight check fails.
type InsufficientBalanceError struct {
	Account   string
	Asset     string
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("account %s has %d %s, needs %d", e.Account, e.Available, e.Asset, e.Required)
}

// SettlementError reports a ledger leg that failed while settling a trade.
// The trade is marked failed and must be reconciled by an operator.
type SettlementError struct {
	TradeID string
	Leg     string
	Err     error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement of trade %s failed at %s: %v", e.TradeID, e.Leg, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// AuthorizationError is returned when the caller is neither the owner of
// the resource nor holds the role required for the action.
type AuthorizationError struct {
	Account string
	Action  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("account %q is not authorized to %s", e.Account, e.Action)
}
