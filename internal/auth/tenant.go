package auth

import "context"

// ContextTenant resolves the tenant carried by the request identity.
type ContextTenant struct {
	// Fallback is used when the context carries no identity.
	Fallback string
}

// TenantID returns the identity tenant or the fallback.
func (c ContextTenant) TenantID(ctx context.Context) string {
	if tenantID := TenantIDFromContext(ctx); tenantID != "" {
		return tenantID
	}
	return c.Fallback
}

// EnsureTenant checks that a resource owned by owner may be touched from ctx.
// A context without identity is trusted (internal callers, event consumers).
func EnsureTenant(ctx context.Context, owner string) error {
	tenantID := TenantIDFromContext(ctx)
	if tenantID == "" || owner == "" {
		return nil
	}
	if tenantID != owner {
		return ErrTenantMismatch
	}
	return nil
}
