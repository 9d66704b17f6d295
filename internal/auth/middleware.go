package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware validates JWTs and enforces RBAC.
type Middleware struct {
	Secret []byte
	Policy Policy
	Logger *zap.Logger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{Secret: secret, Policy: policy, Logger: logger}
}

// Wrap applies auth and RBAC to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearer(r)
		claims, err := ParseJWT(token, m.Secret)
		if err != nil {
			m.Logger.Debug("rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		id := claims.Identity()
		if !RoleAtLeast(id.Role, required) {
			m.Logger.Info("forbidden",
				zap.String("tenant_id", id.TenantID),
				zap.String("subject", id.Subject),
				zap.String("role", string(id.Role)),
				zap.String("required", string(required)),
				zap.String("path", r.URL.Path),
			)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ctx := WithIdentity(r.Context(), id.TenantID, id.Role, id.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
