package models

import "time"

// Session is a short-lived proof of an authenticated account and the unit
// of revocation. FamilyID is the id of the first session in a refresh
// chain: rotation creates a new session with the same family, and refresh
// token reuse revokes the whole family at once.
type Session struct {
	ID        string
	FamilyID  string
	AccountID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool

	// Device/context metadata, informational only.
	UserAgent  string
	RemoteAddr string
}

// RefreshToken is the longer-lived companion of a Session, usable exactly
// once to mint a replacement pair. Consumed is flipped by a single atomic
// store operation; callers never read-check-write it.
type RefreshToken struct {
	ID        string
	SessionID string
	AccountID string
	ExpiresAt time.Time
	Consumed  bool
	CreatedAt time.Time
}

// PasswordResetToken is a short-horizon, single-use token. ID holds the
// SHA-256 of the raw token handed to the account owner, so a database leak
// exposes nothing usable. At most one unconsumed token exists per account.
type PasswordResetToken struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	Consumed  bool
	CreatedAt time.Time
}
