package auth

import "errors"

var (
	// ErrUnauthorized indicates missing or invalid credentials.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrForbidden indicates the role does not allow the action.
	ErrForbidden = errors.New("auth: forbidden")
	// ErrInvalidToken indicates the bearer token could not be validated.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrTenantMismatch indicates the resource belongs to a different tenant.
	ErrTenantMismatch = errors.New("auth: tenant mismatch")
	// ErrNotFound indicates the resource does not exist.
	ErrNotFound = errors.New("auth: resource not found")
)
