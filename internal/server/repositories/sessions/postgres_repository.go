package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/paperdesk/paperdesk/internal/common"
	"github.com/paperdesk/paperdesk/internal/dbx"
	"github.com/paperdesk/paperdesk/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateSession(ctx context.Context, session *models.Session) error {

	query :=
		`INSERT INTO sessions (id, family_id, account_id, issued_at, expires_at, user_agent, remote_addr)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
		 `

	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.FamilyID, session.AccountID,
		session.IssuedAt, session.ExpiresAt, session.UserAgent, session.RemoteAddr)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	query :=
		`SELECT id, family_id, account_id, issued_at, expires_at, revoked, user_agent, remote_addr
		 FROM sessions
		 WHERE id = $1
		 `

	s := &models.Session{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.FamilyID, &s.AccountID, &s.IssuedAt, &s.ExpiresAt, &s.Revoked, &s.UserAgent, &s.RemoteAddr)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return s, nil
}

func (r *PostgresRepository) RevokeSession(ctx context.Context, id string) error {
	query :=
		`UPDATE sessions SET revoked = TRUE
		 WHERE id = $1
		 `

	_, err := r.db.ExecContext(ctx, query, id)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) RevokeFamily(ctx context.Context, familyID string) error {
	query :=
		`UPDATE sessions SET revoked = TRUE
		 WHERE family_id = $1
		 `

	_, err := r.db.ExecContext(ctx, query, familyID)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	query :=
		`INSERT INTO refresh_tokens (id, session_id, account_id, expires_at)
         VALUES ($1, $2, $3, $4)
		 `

	_, err := r.db.ExecContext(ctx, query, token.ID, token.SessionID, token.AccountID, token.ExpiresAt)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetRefreshToken(ctx context.Context, id string) (*models.RefreshToken, error) {
	query :=
		`SELECT id, session_id, account_id, expires_at, consumed, created_at FROM refresh_tokens
		 WHERE id = $1
		 `

	t := &models.RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.SessionID, &t.AccountID, &t.ExpiresAt, &t.Consumed, &t.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return t, nil
}

// ConsumeRefreshToken is a single-statement compare-and-consume: the WHERE
// clause guarantees that under concurrent calls exactly one caller sees a
// row update.
func (r *PostgresRepository) ConsumeRefreshToken(ctx context.Context, id string) (bool, error) {
	query :=
		`UPDATE refresh_tokens SET consumed = TRUE
		 WHERE id = $1 AND NOT consumed
		 `

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return n == 1, nil
}

func (r *PostgresRepository) CreateResetToken(ctx context.Context, token *models.PasswordResetToken) error {
	query :=
		`INSERT INTO password_reset_tokens (id, account_id, expires_at)
         VALUES ($1, $2, $3)
		 `

	_, err := r.db.ExecContext(ctx, query, token.ID, token.AccountID, token.ExpiresAt)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetResetToken(ctx context.Context, id string) (*models.PasswordResetToken, error) {
	query :=
		`SELECT id, account_id, expires_at, consumed, created_at FROM password_reset_tokens
		 WHERE id = $1
		 `

	t := &models.PasswordResetToken{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.AccountID, &t.ExpiresAt, &t.Consumed, &t.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return t, nil
}

func (r *PostgresRepository) ConsumeResetToken(ctx context.Context, id string) (bool, error) {
	query :=
		`UPDATE password_reset_tokens SET consumed = TRUE
		 WHERE id = $1 AND NOT consumed
		 `

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return n == 1, nil
}

func (r *PostgresRepository) InvalidateResetTokens(ctx context.Context, accountID string) error {
	query :=
		`UPDATE password_reset_tokens SET consumed = TRUE
		 WHERE account_id = $1 AND NOT consumed
		 `

	_, err := r.db.ExecContext(ctx, query, accountID)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

// RevokeAllForAccount writes the revocation watermark as one upsert. The
// GREATEST keeps the watermark monotonic under concurrent revocations.
func (r *PostgresRepository) RevokeAllForAccount(ctx context.Context, accountID string, before time.Time) error {
	query :=
		`INSERT INTO session_revocations (account_id, revoked_before)
         VALUES ($1, $2)
         ON CONFLICT (account_id) DO UPDATE
             SET revoked_before = GREATEST(session_revocations.revoked_before, EXCLUDED.revoked_before)
		 `

	_, err := r.db.ExecContext(ctx, query, accountID, before)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) RevocationWatermark(ctx context.Context, accountID string) (time.Time, error) {
	query :=
		`SELECT revoked_before FROM session_revocations
		 WHERE account_id = $1
		 `

	var watermark time.Time
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(&watermark)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("db error: %w", err)
	}

	return watermark, nil
}

// SweepExpiredSessions removes expired sessions, except those still
// referenced by a live refresh token: the refresh horizon outlives the
// session, and the session row anchors family/revocation state until every
// refresh token pointing at it is gone. Deleting a session cascades into
// its remaining refresh tokens.
func (r *PostgresRepository) SweepExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	query :=
		`DELETE FROM sessions s
		 WHERE s.expires_at < $1
		   AND NOT EXISTS (
		       SELECT 1 FROM refresh_tokens t
		        WHERE t.session_id = s.id
		          AND t.expires_at >= $1
		          AND NOT t.consumed
		   )
		 `

	return r.sweep(ctx, query, now)
}

func (r *PostgresRepository) SweepExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	query :=
		`DELETE FROM refresh_tokens
		 WHERE expires_at < $1 OR consumed
		 `

	return r.sweep(ctx, query, now)
}

func (r *PostgresRepository) SweepExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	query :=
		`DELETE FROM password_reset_tokens
		 WHERE expires_at < $1 OR consumed
		 `

	return r.sweep(ctx, query, now)
}

func (r *PostgresRepository) sweep(ctx context.Context, query string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return n, nil
}
