// Package compliance queries whether an account may take on new exposure.
// Compliance decisions themselves are made elsewhere.
package compliance

import (
	"context"
	"fmt"
	"sync"

	"github.com/efreitasn/carbonexchange/internal/domain"
)

// Checker is the compliance collaborator.
type Checker interface {
	IsBlacklisted(ctx context.Context, account string) (bool, error)
	NeedsComplianceCheck(ctx context.Context, account string) (bool, error)
}

// Check returns a ComplianceError when account is blacklisted or its
// compliance record is stale.
func Check(ctx context.Context, c Checker, account string) error {
	blacklisted, err := c.IsBlacklisted(ctx, account)
	if err != nil {
		return fmt.Errorf("query blacklist for %s: %w", account, err)
	}
	if blacklisted {
		return &domain.ComplianceError{Account: account, Reason: domain.ComplianceBlacklisted}
	}
	stale, err := c.NeedsComplianceCheck(ctx, account)
	if err != nil {
		return fmt.Errorf("query compliance record for %s: %w", account, err)
	}
	if stale {
		return &domain.ComplianceError{Account: account, Reason: domain.ComplianceStale}
	}
	return nil
}

// Registry is an in-memory Checker. Accounts are compliant unless flagged.
type Registry struct {
	mu          sync.RWMutex
	blacklisted map[string]bool
	stale       map[string]bool
}

// NewRegistry creates a registry where every account is compliant.
func NewRegistry() *Registry {
	return &Registry{
		blacklisted: make(map[string]bool),
		stale:       make(map[string]bool),
	}
}

// SetBlacklisted flags or clears an account's blacklist entry.
func (r *Registry) SetBlacklisted(account string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklisted[account] = v
}

// SetStale flags or clears an account's stale compliance record.
func (r *Registry) SetStale(account string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale[account] = v
}

func (r *Registry) IsBlacklisted(_ context.Context, account string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blacklisted[account], nil
}

func (r *Registry) NeedsComplianceCheck(_ context.Context, account string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stale[account], nil
}
