package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/paperdesk/paperdesk/internal/common"
	"github.com/paperdesk/paperdesk/internal/dbx"
	"github.com/paperdesk/paperdesk/internal/logging"
	"github.com/paperdesk/paperdesk/internal/randx"
	"github.com/paperdesk/paperdesk/internal/server/config"
	"github.com/paperdesk/paperdesk/internal/server/models"
	"github.com/paperdesk/paperdesk/internal/server/repositories/repomanager"
)

// Notifier delivers the raw reset token to the account owner (e.g. email).
// It is the only party that ever sees the raw value.
type Notifier interface {
	Send(ctx context.Context, account *models.Account, rawToken string) error
}

// ResetService issues, validates, and single-use-consumes password-reset
// tokens.
type ResetService struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	notifier Notifier
	resetTTL time.Duration
	logger   logging.Logger
	now      func() time.Time
}

func NewResetService(db *sql.DB, m repomanager.RepositoryManager, n Notifier, l logging.Logger, cfg *config.Config) *ResetService {
	return &ResetService{
		db:       db,
		repos:    m,
		notifier: n,
		resetTTL: cfg.ResetTokenValidityDuration,
		logger:   l.With("module", "reset_service"),
		now:      time.Now,
	}
}

// hashResetToken derives the storage key from the raw token, so a leaked
// token table exposes nothing usable.
func hashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RequestReset issues a fresh reset token for the account behind identifier
// and hands it to the notifier. An unknown identifier returns success with
// no token issued; callers cannot tell the cases apart. Issuing a new token
// invalidates any prior unconsumed one.
func (s *ResetService) RequestReset(ctx context.Context, identifier string) error {
	account, err := s.repos.Accounts(s.db).GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.logger.Debug(ctx, "reset requested for unknown identifier")
			return nil
		}
		return fmt.Errorf("error searching account: %w", err)
	}

	raw, err := randx.TokenID()
	if err != nil {
		return common.ErrInternal
	}

	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repoTx := s.repos.Sessions(tx)
		if err := repoTx.InvalidateResetTokens(ctx, account.ID); err != nil {
			return fmt.Errorf("error invalidating reset tokens: %w", err)
		}
		if err := repoTx.CreateResetToken(ctx, &models.PasswordResetToken{
			ID:        hashResetToken(raw),
			AccountID: account.ID,
			ExpiresAt: s.now().Add(s.resetTTL),
		}); err != nil {
			return fmt.Errorf("error creating reset token: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	// Delivery is a boundary concern with its own retry policy; a failure
	// here must not leak token existence to the caller.
	if err := s.notifier.Send(ctx, account, raw); err != nil {
		s.logger.Error(ctx, "reset notification dispatch failed", "account_id", account.ID, "error", err.Error())
	}

	return nil
}

// ConfirmReset consumes a reset token and sets the new password. Only the
// first of concurrent confirmations succeeds; everyone else gets
// ErrAlreadyUsed. On success every pre-existing session of the account is
// revoked via the watermark.
func (s *ResetService) ConfirmReset(ctx context.Context, rawToken, newPassword string) error {
	id := hashResetToken(rawToken)

	token, err := s.repos.Sessions(s.db).GetResetToken(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return fmt.Errorf("error searching reset token: %w", err)
	}
	if s.now().After(token.ExpiresAt) {
		return common.ErrExpired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), HashCost)
	if err != nil {
		return common.ErrInternal
	}

	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		sessionsTx := s.repos.Sessions(tx)

		ok, consumeErr := sessionsTx.ConsumeResetToken(ctx, id)
		if consumeErr != nil {
			return fmt.Errorf("error consuming reset token: %w", consumeErr)
		}
		if !ok {
			return common.ErrAlreadyUsed
		}

		if err := s.repos.Accounts(tx).UpsertCredential(ctx, &models.Credential{
			AccountID:   token.AccountID,
			Hash:        hash,
			HashVersion: models.CurrentHashVersion,
		}); err != nil {
			return fmt.Errorf("error updating credential: %w", err)
		}

		// A password change ends all sessions, the attacker's included.
		if err := sessionsTx.RevokeAllForAccount(ctx, token.AccountID, s.now()); err != nil {
			return fmt.Errorf("error revoking sessions: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	s.logger.Info(ctx, "password reset confirmed", "account_id", token.AccountID)
	return nil
}
