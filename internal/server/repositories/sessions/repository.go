// Package sessions declares the session-store contract: durable storage of
// sessions, refresh tokens, and password-reset tokens, with the atomic
// operations the services build single-use semantics on.
package sessions

import (
	"context"
	"time"

	"github.com/paperdesk/paperdesk/internal/server/models"
)

// Repository is the sole owner of session/token state. Every exactly-once
// transition (refresh rotation, reset consumption, revoke-all) is a single
// atomic statement here, never a read-then-write pair in a caller.
type Repository interface {
	// CreateSession stores a new session.
	CreateSession(ctx context.Context, session *models.Session) error

	// GetSession returns a session by id, or common.ErrNotFound.
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// RevokeSession marks one session revoked. Revoking an already-revoked
	// or missing session is not an error.
	RevokeSession(ctx context.Context, id string) error

	// RevokeFamily revokes every session descended from the same initial
	// login. Used when refresh-token reuse signals theft.
	RevokeFamily(ctx context.Context, familyID string) error

	// CreateRefreshToken stores a new refresh token.
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error

	// GetRefreshToken returns a refresh token by id, or common.ErrNotFound.
	GetRefreshToken(ctx context.Context, id string) (*models.RefreshToken, error)

	// ConsumeRefreshToken atomically flips the token's consumed flag.
	// It reports true only for the first caller.
	ConsumeRefreshToken(ctx context.Context, id string) (bool, error)

	// CreateResetToken stores a new password-reset token (id is the hash of
	// the raw token).
	CreateResetToken(ctx context.Context, token *models.PasswordResetToken) error

	// GetResetToken returns a reset token by id, or common.ErrNotFound.
	GetResetToken(ctx context.Context, id string) (*models.PasswordResetToken, error)

	// ConsumeResetToken atomically flips the token's consumed flag.
	// It reports true only for the first caller.
	ConsumeResetToken(ctx context.Context, id string) (bool, error)

	// InvalidateResetTokens consumes every unconsumed reset token of an
	// account, so at most one live token exists after a new one is issued.
	InvalidateResetTokens(ctx context.Context, accountID string) error

	// RevokeAllForAccount writes the account's revocation watermark: every
	// session issued before the given instant fails verification. O(1)
	// regardless of how many sessions exist.
	RevokeAllForAccount(ctx context.Context, accountID string, before time.Time) error

	// RevocationWatermark returns the account's watermark, or the zero time
	// when none has been written.
	RevocationWatermark(ctx context.Context, accountID string) (time.Time, error)

	// SweepExpiredSessions deletes sessions whose expiry has passed and
	// returns the number removed.
	SweepExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// SweepExpiredRefreshTokens deletes expired or consumed refresh tokens.
	SweepExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)

	// SweepExpiredResetTokens deletes expired or consumed reset tokens.
	SweepExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}
