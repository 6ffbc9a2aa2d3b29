// Package common defines shared constants and sentinel errors used across
// the Paperdesk auth subsystem. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal      = errors.New("internal error")
	ErrTimeout       = errors.New("store timeout")
	ErrAlreadyExists = errors.New("already exists")

	// Credential verification. The same value covers "account does not
	// exist" and "wrong password" so callers cannot tell them apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many failed attempts")

	// Federation errors.
	ErrFederationConflict = errors.New("external identity conflicts with an existing account")

	// Token lifecycle errors. Used/Expired/Revoked are all terminal; they
	// differ only for diagnostics, never for authorization decisions.
	ErrInvalidToken = errors.New("invalid token")
	ErrExpired      = errors.New("token expired")
	ErrAlreadyUsed  = errors.New("token already used")
	ErrRevoked      = errors.New("session revoked")
)
