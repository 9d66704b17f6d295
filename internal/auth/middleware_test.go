package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestMiddleware(secret []byte) *Middleware {
	policy := NewDefaultPolicy([]string{"/healthz"}, []string{"/webhooks/"})
	return NewMiddleware(secret, policy, zap.NewNop())
}

func serve(t *testing.T, mw *Middleware, method, path, token string) (*httptest.ResponseRecorder, context.Context) {
	t.Helper()
	var seen context.Context
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Context()
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp, seen
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	resp, _ := serve(t, newTestMiddleware([]byte("test-secret")), http.MethodPost, "/api/v1/payments/authorize", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ExemptWebhooks(t *testing.T) {
	resp, _ := serve(t, newTestMiddleware([]byte("test-secret")), http.MethodPost, "/webhooks/acme", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ViewerForbiddenPaymentPost(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "tenant-a", RoleViewer)
	resp, _ := serve(t, newTestMiddleware(secret), http.MethodPost, "/api/v1/payments/capture", token)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_OperatorCannotReconcile(t *testing.T) {
	secret := []byte("test-secret")
	mw := newTestMiddleware(secret)
	token := mustToken(t, secret, "tenant-a", RoleOperator)

	resp, _ := serve(t, mw, http.MethodPost, "/api/v1/settlement/batches/b-1/close", token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected close allowed, got %d", resp.Code)
	}
	resp, _ = serve(t, mw, http.MethodPost, "/api/v1/settlement/batches/b-1/reconcile", token)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_IdentityInContext(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "tenant-a", RoleAdmin)
	resp, ctx := serve(t, newTestMiddleware(secret), http.MethodPost, "/api/v1/settlement/batches/b-1/dispute", token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := TenantIDFromContext(ctx); got != "tenant-a" {
		t.Fatalf("expected tenant-a, got %q", got)
	}
	if got := RoleFromContext(ctx); got != RoleAdmin {
		t.Fatalf("expected admin, got %q", got)
	}
	if got := SubjectFromContext(ctx); got != "user-1" {
		t.Fatalf("expected user-1, got %q", got)
	}
}

func TestPolicyRequiredRole(t *testing.T) {
	policy := NewDefaultPolicy(nil, nil)
	cases := []struct {
		method string
		path   string
		want   Role
	}{
		{http.MethodGet, "/api/v1/payments/transactions/txn-1", RoleViewer},
		{http.MethodPost, "/api/v1/payments/transactions/txn-1/refund", RoleOperator},
		{http.MethodGet, "/api/v1/settlement/batches", RoleViewer},
		{http.MethodGet, "/api/v1/settlement/batches/b-1/export.pdf", RoleOperator},
		{http.MethodPost, "/api/v1/settlement/batches/b-1/close", RoleOperator},
		{http.MethodPost, "/api/v1/settlement/batches/b-1/expected", RoleAdmin},
		{http.MethodDelete, "/api/v2/other", RoleOperator},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		got, ok := policy.RequiredRole(req)
		if !ok || got != tc.want {
			t.Fatalf("%s %s: expected %s, got %q (%v)", tc.method, tc.path, tc.want, got, ok)
		}
	}
	if _, ok := policy.RequiredRole(httptest.NewRequest(http.MethodGet, "/healthz", nil)); ok {
		t.Fatalf("expected no role for non-api path")
	}
}

func TestParseJWT_WrongSecret(t *testing.T) {
	token := mustToken(t, []byte("one"), "tenant-a", RoleViewer)
	if _, err := ParseJWT(token, []byte("two")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestParseJWT_RejectsBadClaims(t *testing.T) {
	secret := []byte("secret")
	expired, err := SignJWT(secret, "tenant-a", RoleViewer, "user-1", -time.Hour)
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	if _, err := ParseJWT(expired, secret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
	badRole := mustToken(t, secret, "tenant-a", Role("root"))
	if _, err := ParseJWT(badRole, secret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unknown role rejected, got %v", err)
	}
	noTenant := mustToken(t, secret, "", RoleViewer)
	if _, err := ParseJWT(noTenant, secret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected missing tenant rejected, got %v", err)
	}
	claims, err := ParseJWT(mustToken(t, secret, "tenant-a", RoleAdmin), secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id := claims.Identity(); id.TenantID != "tenant-a" || id.Role != RoleAdmin || id.Subject != "user-1" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestRoleAtLeast(t *testing.T) {
	if role, ok := NormalizeRole(" Operator "); !ok || role != RoleOperator {
		t.Fatalf("expected operator, got %q %v", role, ok)
	}
	if _, ok := NormalizeRole("root"); ok {
		t.Fatalf("expected unknown role rejected")
	}
	if !RoleAtLeast(RoleAdmin, RoleOperator) || !RoleAtLeast(RoleOperator, RoleOperator) {
		t.Fatalf("expected higher or equal role to satisfy operator")
	}
	if RoleAtLeast(RoleViewer, RoleOperator) || RoleAtLeast(Role("root"), RoleViewer) {
		t.Fatalf("expected viewer and unknown roles to fall short")
	}
}

func TestEnsureTenant(t *testing.T) {
	ctx := WithIdentity(context.Background(), "tenant-a", RoleOperator, "user-1")
	if err := EnsureTenant(ctx, "tenant-a"); err != nil {
		t.Fatalf("expected same tenant allowed, got %v", err)
	}
	if err := EnsureTenant(ctx, "tenant-b"); !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("expected tenant mismatch, got %v", err)
	}
	if err := EnsureTenant(context.Background(), "tenant-b"); err != nil {
		t.Fatalf("expected anonymous internal context allowed, got %v", err)
	}
}

func TestContextTenantFallback(t *testing.T) {
	resolver := ContextTenant{Fallback: "default"}
	if got := resolver.TenantID(context.Background()); got != "default" {
		t.Fatalf("expected default, got %q", got)
	}
	ctx := WithIdentity(context.Background(), "tenant-a", RoleViewer, "")
	if got := resolver.TenantID(ctx); got != "tenant-a" {
		t.Fatalf("expected tenant-a, got %q", got)
	}
}

func mustToken(t *testing.T, secret []byte, tenantID string, role Role) string {
	t.Helper()
	signed, err := SignJWT(secret, tenantID, role, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
