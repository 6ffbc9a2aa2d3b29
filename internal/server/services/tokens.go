package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/paperdesk/paperdesk/internal/common"
	"github.com/paperdesk/paperdesk/internal/dbx"
	"github.com/paperdesk/paperdesk/internal/logging"
	"github.com/paperdesk/paperdesk/internal/randx"
	"github.com/paperdesk/paperdesk/internal/server/auth"
	"github.com/paperdesk/paperdesk/internal/server/config"
	"github.com/paperdesk/paperdesk/internal/server/models"
	"github.com/paperdesk/paperdesk/internal/server/repositories/repomanager"
)

// TokenPair bundles a short-lived session token and a long-lived refresh token.
type TokenPair struct {
	SessionToken string
	RefreshToken string
	SessionID    string
}

// SessionMeta carries optional device/context metadata recorded on the session.
type SessionMeta struct {
	UserAgent  string
	RemoteAddr string
}

// TokenService mints, verifies, and rotates session/refresh tokens.
type TokenService struct {
	db         *sql.DB
	repos      repomanager.RepositoryManager
	jwtSecret  []byte
	sessionTTL time.Duration
	refreshTTL time.Duration
	logger     logging.Logger
	now        func() time.Time
}

// NewTokenService constructs a TokenService using repositories and server config.
func NewTokenService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger, cfg *config.Config) *TokenService {
	return &TokenService{
		db:         db,
		repos:      m,
		jwtSecret:  []byte(cfg.SecretKey),
		sessionTTL: cfg.SessionTokenValidityDuration,
		refreshTTL: cfg.RefreshTokenValidityDuration,
		logger:     l.With("module", "token_service"),
		now:        time.Now,
	}
}

// Issue creates a fresh session for accountID and returns the token pair.
// The new session starts its own family.
func (s *TokenService) Issue(ctx context.Context, accountID string, meta SessionMeta) (*TokenPair, error) {
	var pair *TokenPair
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var genErr error
		pair, genErr = s.mint(ctx, tx, accountID, "", meta)
		return genErr
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Verify checks a session token and returns the owning account id.
// Signature and embedded expiry are checked first, then the stored session's
// state: revocation, expiry, and the account's revoke-all watermark.
func (s *TokenService) Verify(ctx context.Context, sessionToken string) (string, error) {
	claims, err := auth.ParseToken(sessionToken, s.jwtSecret)
	if err != nil {
		return "", err
	}

	repo := s.repos.Sessions(s.db)

	session, err := repo.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", common.ErrInvalidToken
		}
		return "", fmt.Errorf("error searching session: %w", err)
	}

	now := s.now()
	switch {
	case session.Revoked:
		return "", common.ErrRevoked
	case now.After(session.ExpiresAt):
		return "", common.ErrExpired
	}

	watermark, err := repo.RevocationWatermark(ctx, session.AccountID)
	if err != nil {
		return "", fmt.Errorf("error reading revocation watermark: %w", err)
	}
	if session.IssuedAt.Before(watermark) {
		return "", common.ErrRevoked
	}

	return session.AccountID, nil
}

// Refresh rotates a refresh token: the old token is consumed and a new
// session/refresh pair minted in one transaction, so concurrent refreshes of
// the same token cannot both succeed. Presenting an already-consumed token
// is treated as theft and revokes the whole session family.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string, meta SessionMeta) (*TokenPair, error) {
	repo := s.repos.Sessions(s.db)

	token, err := repo.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if s.now().After(token.ExpiresAt) {
		return nil, common.ErrExpired
	}

	// The owning session row anchors revocation state for the whole family;
	// the sweep keeps it alive as long as any live refresh token points at
	// it, so an absent row means the capability is gone.
	session, err := repo.GetSession(ctx, token.SessionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("error searching session: %w", err)
	}
	familyID := session.FamilyID
	if session.Revoked {
		return nil, common.ErrRevoked
	}

	watermark, err := repo.RevocationWatermark(ctx, token.AccountID)
	if err != nil {
		return nil, fmt.Errorf("error reading revocation watermark: %w", err)
	}
	if session.IssuedAt.Before(watermark) {
		return nil, common.ErrRevoked
	}

	var pair *TokenPair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repoTx := s.repos.Sessions(tx)
		ok, consumeErr := repoTx.ConsumeRefreshToken(ctx, refreshToken)
		if consumeErr != nil {
			return fmt.Errorf("error consuming refresh token: %w", consumeErr)
		}
		if !ok {
			return common.ErrAlreadyUsed
		}
		var genErr error
		pair, genErr = s.mint(ctx, tx, token.AccountID, familyID, meta)
		return genErr
	})
	if errors.Is(err, common.ErrAlreadyUsed) {
		s.revokeFamily(ctx, familyID, token.AccountID)
		return nil, common.ErrAlreadyUsed
	}
	if err != nil {
		return nil, err
	}

	return pair, nil
}

// SessionIDForLogout extracts the session id from a token whose signature is
// authentic, ignoring expiry: logging out of an expired session still
// revokes it server-side.
func (s *TokenService) SessionIDForLogout(sessionToken string) (string, error) {
	claims, err := auth.PeekClaims(sessionToken, s.jwtSecret)
	if err != nil {
		return "", err
	}
	return claims.SessionID, nil
}

// mint creates the session row, its refresh token, and the signed session
// token. An empty familyID starts a new family rooted at the new session.
func (s *TokenService) mint(ctx context.Context, tx dbx.DBTX, accountID, familyID string, meta SessionMeta) (*TokenPair, error) {
	sessionID, err := randx.TokenID()
	if err != nil {
		return nil, common.ErrInternal
	}
	refreshID, err := randx.TokenID()
	if err != nil {
		return nil, common.ErrInternal
	}
	if familyID == "" {
		familyID = sessionID
	}

	now := s.now()
	repo := s.repos.Sessions(tx)

	if err := repo.CreateSession(ctx, &models.Session{
		ID:         sessionID,
		FamilyID:   familyID,
		AccountID:  accountID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.sessionTTL),
		UserAgent:  meta.UserAgent,
		RemoteAddr: meta.RemoteAddr,
	}); err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	if err := repo.CreateRefreshToken(ctx, &models.RefreshToken{
		ID:        refreshID,
		SessionID: sessionID,
		AccountID: accountID,
		ExpiresAt: now.Add(s.refreshTTL),
	}); err != nil {
		return nil, fmt.Errorf("error creating refresh token: %w", err)
	}

	signed, err := auth.GenerateToken(accountID, sessionID, s.jwtSecret, now, now.Add(s.sessionTTL))
	if err != nil {
		return nil, common.ErrInternal
	}

	return &TokenPair{SessionToken: signed, RefreshToken: refreshID, SessionID: sessionID}, nil
}

// revokeFamily tears down every session descended from the same login after
// a reuse detection. Runs on the plain handle: the revocation must land even
// though the rotation transaction rolled back.
func (s *TokenService) revokeFamily(ctx context.Context, familyID, accountID string) {
	RefreshReuseDetected.Inc()
	s.logger.Warn(ctx, "refresh token reuse detected, revoking session family",
		"account_id", accountID, "family_id", familyID)
	if err := s.repos.Sessions(s.db).RevokeFamily(ctx, familyID); err != nil {
		s.logger.Error(ctx, "family revocation failed", "family_id", familyID, "error", err.Error())
	}
}
