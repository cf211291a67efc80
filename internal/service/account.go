package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efreitasn/carbonexchange/internal/access"
	"github.com/efreitasn/carbonexchange/internal/domain"
)

// Funder credits assets to accounts from outside the exchange and reports
// balances. ledger.Memory is one.
type Funder interface {
	Deposit(asset, account string, amount int64)
	BalanceOf(ctx context.Context, asset, account string) (int64, error)
}

// RoleTable grants and revokes roles. Both calls check that the caller is
// an admin.
type RoleTable interface {
	access.Checker
	Grant(caller, account string, role access.Role) error
	Revoke(caller, account string, role access.Role) error
}

// ComplianceFlags is the writable side of the compliance registry.
type ComplianceFlags interface {
	SetBlacklisted(account string, v bool)
	SetStale(account string, v bool)
	IsBlacklisted(ctx context.Context, account string) (bool, error)
	NeedsComplianceCheck(ctx context.Context, account string) (bool, error)
}

// DepositRequest credits either Quantity credits of a partition or Amount
// dollars of payment to Account.
type DepositRequest struct {
	Account   string
	Partition *domain.Partition
	Quantity  int64
	Amount    *float64
}

// Balance is an account's holding of one asset after a deposit. Payment
// balances are in cents.
type Balance struct {
	Account string
	Asset   string
	Balance int64
}

// ComplianceUpdate sets the flags that are non-nil.
type ComplianceUpdate struct {
	Blacklisted *bool
	Stale       *bool
}

// ComplianceStatus is an account's current compliance flags.
type ComplianceStatus struct {
	Account     string
	Blacklisted bool
	Stale       bool
}

// AccountService is the admin surface over the collaborators the exchange
// only reads while trading: balances, roles and compliance flags.
type AccountService struct {
	funds  Funder
	roles  RoleTable
	flags  ComplianceFlags
	logger *slog.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(funds Funder, roles RoleTable, flags ComplianceFlags, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{funds: funds, roles: roles, flags: flags, logger: logger}
}

// Deposit credits an account on behalf of caller, who must be an admin.
func (s *AccountService) Deposit(ctx context.Context, caller string, req DepositRequest) (Balance, error) {
	if err := s.roles.Require(caller, access.RoleAdmin, "deposit funds"); err != nil {
		return Balance{}, err
	}
	if req.Account == "" {
		return Balance{}, &domain.ValidationError{Message: "account is required"}
	}

	var asset string
	var amount int64
	switch {
	case req.Partition != nil && req.Amount == nil:
		if err := req.Partition.Validate(); err != nil {
			return Balance{}, err
		}
		if req.Quantity <= 0 {
			return Balance{}, &domain.ValidationError{Message: "quantity must be greater than 0"}
		}
		asset, amount = req.Partition.CreditAsset(), req.Quantity
	case req.Partition == nil && req.Amount != nil:
		if req.Quantity != 0 {
			return Balance{}, &domain.ValidationError{Message: "quantity is only valid for credit deposits"}
		}
		cents, err := priceCents("amount", *req.Amount, 1)
		if err != nil {
			return Balance{}, err
		}
		asset, amount = domain.PaymentAsset, cents
	default:
		return Balance{}, &domain.ValidationError{
			Message: "deposit either credits (credit_type, vintage_year, quantity) or payment (amount)",
		}
	}

	balance, err := s.funds.BalanceOf(ctx, asset, req.Account)
	if err != nil {
		return Balance{}, fmt.Errorf("query %s balance of %s: %w", asset, req.Account, err)
	}
	if balance > domain.MaxNotional-amount {
		return Balance{}, &domain.ValidationError{
			Message: fmt.Sprintf("balance must not exceed %d", domain.MaxNotional),
		}
	}
	s.funds.Deposit(asset, req.Account, amount)

	s.logger.Info("deposit",
		slog.String("account", req.Account),
		slog.String("asset", asset),
		slog.Int64("amount", amount),
		slog.String("admin", caller),
	)
	return Balance{Account: req.Account, Asset: asset, Balance: balance + amount}, nil
}

// ParseRole validates a role name.
func ParseRole(s string) (access.Role, error) {
	switch r := access.Role(s); r {
	case access.RoleAdmin, access.RoleOperator:
		return r, nil
	}
	return "", &domain.ValidationError{Message: "role must be 'admin' or 'operator'"}
}

// GrantRole gives account role on behalf of caller, who must be an admin.
func (s *AccountService) GrantRole(caller, account string, role access.Role) error {
	if account == "" {
		return &domain.ValidationError{Message: "account is required"}
	}
	if err := s.roles.Grant(caller, account, role); err != nil {
		return err
	}
	s.logger.Info("role granted", slog.String("account", account), slog.String("role", string(role)), slog.String("admin", caller))
	return nil
}

// RevokeRole removes role from account. An admin cannot revoke its own
// admin role, so the exchange always keeps one.
func (s *AccountService) RevokeRole(caller, account string, role access.Role) error {
	if caller == account && role == access.RoleAdmin {
		return &domain.ValidationError{Message: "admins cannot revoke their own admin role"}
	}
	if err := s.roles.Revoke(caller, account, role); err != nil {
		return err
	}
	s.logger.Info("role revoked", slog.String("account", account), slog.String("role", string(role)), slog.String("admin", caller))
	return nil
}

// SetCompliance updates an account's compliance flags on behalf of
// caller, who must be an admin, and returns the resulting flags.
func (s *AccountService) SetCompliance(ctx context.Context, caller, account string, u ComplianceUpdate) (ComplianceStatus, error) {
	if err := s.roles.Require(caller, access.RoleAdmin, "set compliance flags"); err != nil {
		return ComplianceStatus{}, err
	}
	if account == "" {
		return ComplianceStatus{}, &domain.ValidationError{Message: "account is required"}
	}
	if u.Blacklisted != nil {
		s.flags.SetBlacklisted(account, *u.Blacklisted)
	}
	if u.Stale != nil {
		s.flags.SetStale(account, *u.Stale)
	}

	blacklisted, err := s.flags.IsBlacklisted(ctx, account)
	if err != nil {
		return ComplianceStatus{}, err
	}
	stale, err := s.flags.NeedsComplianceCheck(ctx, account)
	if err != nil {
		return ComplianceStatus{}, err
	}
	s.logger.Info("compliance flags set",
		slog.String("account", account),
		slog.Bool("blacklisted", blacklisted),
		slog.Bool("stale", stale),
		slog.String("admin", caller),
	)
	return ComplianceStatus{Account: account, Blacklisted: blacklisted, Stale: stale}, nil
}
