// Package policy defines the process-wide tenant policy consulted by the
// training gateway and the retrieval engine.
//
// A Policy is constructed once from configuration at startup and is read-only
// afterwards, so a single value can be shared by all concurrent requests.
package policy

import (
	"errors"
	"fmt"
	"strings"
)

// SharedTenantID is the reserved tenant tag marking knowledge that is visible
// to every tenant of a database type. Items carrying it are protected from
// ordinary per-tenant deletion.
const SharedTenantID = "shared"

// ErrTenantNotAllowed is returned when an effective tenant fails the
// allow-list check. Match with errors.Is; use errors.As with *NotAllowedError
// to recover the allowed-tenant list for the caller.
var ErrTenantNotAllowed = errors.New("tenant not allowed")

// NotAllowedError reports an allow-list rejection. It carries the allowed
// tenants so the outer tool layer can render a remediation hint.
type NotAllowedError struct {
	Tenant  string
	Allowed []string
}

func (e *NotAllowedError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("tenant %q is not allowed", e.Tenant)
	}
	return fmt.Sprintf("tenant %q is not allowed (allowed: %s)", e.Tenant, strings.Join(e.Allowed, ", "))
}

func (e *NotAllowedError) Unwrap() error { return ErrTenantNotAllowed }

// Policy holds the tenant rules for one deployment.
//
// The zero value is a valid single-tenant policy with shared knowledge
// disabled and no allow-list.
type Policy struct {
	// MultiTenantEnabled turns tenant tagging and isolation on.
	MultiTenantEnabled bool

	// DefaultTenantID is used when a request does not name a tenant.
	// Mandatory when MultiTenantEnabled is true.
	DefaultTenantID string

	// AllowedTenants restricts which tenant identifiers may train or
	// retrieve. Empty means all tenants are allowed.
	AllowedTenants []string

	// SharedKnowledgeEnabled controls whether items tagged with
	// SharedTenantID are ever visible or trainable.
	SharedKnowledgeEnabled bool

	// StrictIsolation controls how a detected cross-tenant reference
	// outside the retrieval path (for example in generated SQL) is
	// treated: hard error when true, warning otherwise. Retrieval itself
	// always filters at the storage layer regardless of this flag.
	StrictIsolation bool
}

// Validate checks that the policy is internally consistent. It mirrors the
// startup validation of the configuration source: a multi-tenant deployment
// must name a default tenant, and that tenant must pass its own allow-list.
func (p Policy) Validate() error {
	if !p.MultiTenantEnabled {
		return nil
	}
	if p.DefaultTenantID == "" {
		return errors.New("policy: default tenant is mandatory when multi-tenancy is enabled")
	}
	if p.DefaultTenantID == SharedTenantID {
		return errors.New("policy: default tenant must not be the shared sentinel")
	}
	if len(p.AllowedTenants) > 0 && !p.contains(p.DefaultTenantID) {
		return fmt.Errorf("policy: default tenant %q is not in the allowed list", p.DefaultTenantID)
	}
	return nil
}

// Resolve returns the effective tenant for a request: the supplied tenant if
// non-empty, otherwise the policy default.
func (p Policy) Resolve(tenantID string) string {
	if tenantID != "" {
		return tenantID
	}
	return p.DefaultTenantID
}

// Allows reports whether a tenant identifier passes the allow-list.
//
// The shared sentinel is allowed exactly when shared knowledge is enabled;
// it never needs to appear in the allow-list. An empty allow-list admits
// every tenant. In single-tenant mode there are no restrictions.
func (p Policy) Allows(tenantID string) bool {
	if !p.MultiTenantEnabled {
		return true
	}
	if tenantID == SharedTenantID {
		return p.SharedKnowledgeEnabled
	}
	if len(p.AllowedTenants) == 0 {
		return tenantID != ""
	}
	return p.contains(tenantID)
}

// Check is Allows with a structured error: it returns a *NotAllowedError
// carrying the allowed-tenant list when the tenant is rejected.
func (p Policy) Check(tenantID string) error {
	if p.Allows(tenantID) {
		return nil
	}
	return &NotAllowedError{Tenant: tenantID, Allowed: p.Allowed()}
}

// Allowed returns a copy of the allow-list. Callers may not mutate policy
// state through the returned slice.
func (p Policy) Allowed() []string {
	if len(p.AllowedTenants) == 0 {
		return nil
	}
	out := make([]string, len(p.AllowedTenants))
	copy(out, p.AllowedTenants)
	return out
}

func (p Policy) contains(tenantID string) bool {
	for _, t := range p.AllowedTenants {
		if t == tenantID {
			return true
		}
	}
	return false
}
