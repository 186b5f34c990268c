// Package visibility builds the predicate that decides which stored training
// items a request may see.
//
// Build is a pure function of the request context and the tenant policy; the
// returned predicate carries no state and is safe to share across concurrent
// requests. Retrieval always applies it at the storage layer; the policy's
// StrictIsolation flag changes how violations detected elsewhere are
// reported, never whether retrieval can cross tenant lines.
package visibility

import (
	"github.com/fathomlabs/groundsql/internal/policy"
	"github.com/fathomlabs/groundsql/internal/store"
)

// Build constructs the visibility predicate for a retrieval request.
//
// Rules:
//   - Single-tenant mode: only the database type is checked; tenant tags are
//     ignored entirely.
//   - Multi-tenant mode: the effective tenant is the supplied one or the
//     policy default. A tenant outside a non-empty allow-list fails with
//     policy.ErrTenantNotAllowed, a validation error, never an empty result.
//   - Shared knowledge widens the predicate to (effective tenant OR shared)
//     only when both the caller asked for it and the policy enables it.
func Build(databaseType store.DatabaseType, tenantID string, includeShared bool, pol policy.Policy) (store.Visibility, error) {
	if !databaseType.Valid() {
		return store.Visibility{}, &store.InvalidRequestError{
			Field:  "database_type",
			Reason: "unknown database type " + string(databaseType),
		}
	}

	if !pol.MultiTenantEnabled {
		return store.Visibility{DatabaseType: databaseType}, nil
	}

	effective := pol.Resolve(tenantID)
	if err := pol.Check(effective); err != nil {
		return store.Visibility{}, err
	}

	tenants := []string{effective}
	if includeShared && pol.SharedKnowledgeEnabled && effective != policy.SharedTenantID {
		tenants = append(tenants, policy.SharedTenantID)
	}
	return store.Visibility{DatabaseType: databaseType, Tenants: tenants}, nil
}
