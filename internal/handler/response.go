package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/carbonexchange/internal/domain"
)

// AccountHeader carries the caller's account. Authentication happens in
// front of this service.
const AccountHeader = "X-Account-ID"

const timeFormat = "2006-01-02T15:04:05Z"

// WriteJSON writes a JSON response with the given status code and data.
// Sets Content-Type to application/json before writing the status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Write error intentionally ignored in response helper
}

// errorResponse is the standard error response format.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a standard error response with the given status code,
// error code, and human-readable message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// ParseJSON decodes the request body as JSON into v.
// It validates that the Content-Type header is application/json and
// returns an error for missing/incorrect content type or malformed JSON.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	return nil
}

// caller returns the account named by AccountHeader, writing a 401 and
// returning false when it is missing.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	account := r.Header.Get(AccountHeader)
	if account == "" {
		WriteError(w, http.StatusUnauthorized, "unauthenticated", AccountHeader+" header is required")
		return "", false
	}
	return account, true
}

// partitionParam reads the {credit_type} and {vintage} URL parameters.
func partitionParam(w http.ResponseWriter, r *http.Request) (domain.Partition, bool) {
	vintage, err := strconv.Atoi(chi.URLParam(r, "vintage"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "vintage must be a valid integer")
		return domain.Partition{}, false
	}
	p := domain.Partition{CreditType: chi.URLParam(r, "credit_type"), VintageYear: vintage}
	if err := p.Validate(); err != nil {
		writeDomainError(w, err)
		return domain.Partition{}, false
	}
	return p, true
}

// intQuery parses an optional integer query parameter.
func intQuery(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer", name)
	}
	return v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

var notFoundErrors = []error{
	domain.ErrOrderNotFound,
	domain.ErrAuctionNotFound,
	domain.ErrWebhookNotFound,
	domain.ErrTradeNotFound,
}

var conflictErrors = []error{
	domain.ErrOrderNotCancellable,
	domain.ErrAuctionNotActive,
	domain.ErrAuctionClosed,
	domain.ErrAuctionNotEnded,
	domain.ErrAuctionHasBids,
	domain.ErrBidTooLow,
	domain.ErrInsufficientShares,
	domain.ErrZeroLiquidity,
}

// writeDomainError maps the domain error taxonomy to HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validationErr *domain.ValidationError
		complianceErr *domain.ComplianceError
		limitErr      *domain.LimitExceededError
		balanceErr    *domain.InsufficientBalanceError
		settlementErr *domain.SettlementError
		authErr       *domain.AuthorizationError
	)

	switch {
	case errors.As(err, &validationErr):
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
	case errors.As(err, &authErr):
		WriteError(w, http.StatusForbidden, "forbidden", authErr.Error())
	case errors.As(err, &complianceErr):
		WriteError(w, http.StatusForbidden, "compliance_rejected", complianceErr.Error())
	case errors.As(err, &limitErr):
		WriteError(w, http.StatusUnprocessableEntity, "limit_exceeded", limitErr.Error())
	case errors.As(err, &balanceErr):
		WriteError(w, http.StatusUnprocessableEntity, "insufficient_balance", balanceErr.Error())
	case errors.As(err, &settlementErr):
		WriteError(w, http.StatusConflict, "settlement_failed", settlementErr.Error())
	case errors.Is(err, domain.ErrCircuitBreakerActive):
		WriteError(w, http.StatusServiceUnavailable, "circuit_breaker_active", "trading is halted by the circuit breaker")
	default:
		for _, sentinel := range notFoundErrors {
			if errors.Is(err, sentinel) {
				WriteError(w, http.StatusNotFound, sentinel.Error(), err.Error())
				return
			}
		}
		for _, sentinel := range conflictErrors {
			if errors.Is(err, sentinel) {
				WriteError(w, http.StatusConflict, sentinel.Error(), err.Error())
				return
			}
		}
		slog.Error("unhandled error", slog.Any("error", err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
