// Package access is the capability check guarding privileged actions such
// as parameter changes and cancelling another account's order.
package access

import (
	"sync"

	"github.com/efreitasn/carbonexchange/internal/domain"
)

// Role is a named capability held by an account.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// Checker answers whether an account may perform a privileged action.
type Checker interface {
	Require(account string, role Role, action string) error
}

// Registry is a thread-safe in-memory role table. Admins implicitly hold
// every role.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]map[Role]bool
}

// NewRegistry creates a registry seeded with the given admin accounts.
func NewRegistry(admins ...string) *Registry {
	r := &Registry{roles: make(map[string]map[Role]bool)}
	for _, a := range admins {
		r.grant(a, RoleAdmin)
	}
	return r
}

// Grant gives role to account. Only admins may grant.
func (r *Registry) Grant(caller, account string, role Role) error {
	if err := r.Require(caller, RoleAdmin, "grant roles"); err != nil {
		return err
	}
	r.grant(account, role)
	return nil
}

// Revoke removes role from account. Only admins may revoke.
func (r *Registry) Revoke(caller, account string, role Role) error {
	if err := r.Require(caller, RoleAdmin, "revoke roles"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles[account], role)
	return nil
}

// Has reports whether account holds role.
func (r *Registry) Has(account string, role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	held := r.roles[account]
	return held[role] || held[RoleAdmin]
}

// Require returns an AuthorizationError unless account holds role.
func (r *Registry) Require(account string, role Role, action string) error {
	if account == "" || !r.Has(account, role) {
		return &domain.AuthorizationError{Account: account, Action: action}
	}
	return nil
}

func (r *Registry) grant(account string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roles[account] == nil {
		r.roles[account] = make(map[Role]bool)
	}
	r.roles[account][role] = true
}
