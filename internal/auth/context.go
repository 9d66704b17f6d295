package auth

import "context"

type identityKey struct{}

// Identity is the caller resolved from a bearer token.
type Identity struct {
	TenantID string
	Role     Role
	Subject  string
}

// WithIdentity attaches the caller identity to ctx.
func WithIdentity(ctx context.Context, tenantID string, role Role, subject string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{TenantID: tenantID, Role: role, Subject: subject})
}

// IdentityFromContext returns the caller identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TenantIDFromContext returns the caller's tenant, or "" for internal callers.
func TenantIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.TenantID
}

// RoleFromContext returns the caller's role when it is a known one.
func RoleFromContext(ctx context.Context) Role {
	id, _ := IdentityFromContext(ctx)
	role, _ := NormalizeRole(string(id.Role))
	return role
}

// SubjectFromContext returns the token subject recorded as the audit actor.
func SubjectFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Subject
}
