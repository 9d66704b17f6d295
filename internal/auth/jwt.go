package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// clockSkew is tolerated on exp, nbf and iat.
const clockSkew = 30 * time.Second

// Claims is the bearer token body: the caller's tenant and role on top of the registered claims.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Validate is run by the jwt parser after the registered claims are checked.
func (c *Claims) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("%w: missing tenant_id", ErrInvalidToken)
	}
	if _, ok := NormalizeRole(c.Role); !ok {
		return fmt.Errorf("%w: invalid role %q", ErrInvalidToken, c.Role)
	}
	return nil
}

// Identity converts validated claims into the request identity.
func (c *Claims) Identity() Identity {
	role, _ := NormalizeRole(c.Role)
	return Identity{TenantID: c.TenantID, Role: role, Subject: c.Subject}
}

// ParseJWT verifies an HS256 token against secret and returns its claims.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidToken)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// SignJWT issues an HS256 token for an operator identity. cmd tooling and tests use it.
func SignJWT(secret []byte, tenantID string, role Role, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: empty secret", ErrInvalidToken)
	}
	now := time.Now().UTC()
	claims := &Claims{
		TenantID: tenantID,
		Role:     string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
