// Package services contains the auth subsystem's business logic: credential
// authentication, OAuth federation, session token issuing/rotation, password
// reset, and session cleanup. Every exactly-once state transition is
// delegated to an atomic session-store operation; services never implement
// single-use semantics as separate read-check-write steps.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/paperdesk/paperdesk/internal/common"
	"github.com/paperdesk/paperdesk/internal/dbx"
	"github.com/paperdesk/paperdesk/internal/logging"
	"github.com/paperdesk/paperdesk/internal/server/config"
	"github.com/paperdesk/paperdesk/internal/server/models"
	"github.com/paperdesk/paperdesk/internal/server/ratelimit"
	"github.com/paperdesk/paperdesk/internal/server/repositories/repomanager"
)

// HashCost is the bcrypt cost for new password hashes.
const HashCost = 12

// dummyHash keeps the unknown-identifier path timing-indistinguishable from
// the wrong-password path: a full bcrypt comparison runs either way.
var dummyHash []byte

func init() {
	h, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), HashCost)
	if err != nil {
		panic(err)
	}
	dummyHash = h
}

// AuthService verifies username/password pairs and registers local accounts.
type AuthService struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	limiter *ratelimit.Limiter
	logger  logging.Logger
}

// NewAuthService constructs an AuthService using repositories and server config.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, limiter *ratelimit.Limiter, l logging.Logger, cfg *config.Config) *AuthService {
	return &AuthService{
		db:      db,
		repos:   m,
		limiter: limiter,
		logger:  l.With("module", "auth_service"),
	}
}

// Register creates a new local-credential account. The identifier must not
// be taken.
func (s *AuthService) Register(ctx context.Context, identifier, password string) (*models.Account, error) {
	repo := s.repos.Accounts(s.db)

	if _, err := repo.GetByIdentifier(ctx, identifier); err == nil {
		return nil, common.ErrAlreadyExists
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("error checking identifier: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	if err != nil {
		return nil, common.ErrInternal
	}

	account := &models.Account{ID: uuid.NewString(), Identifier: identifier}
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repoTx := s.repos.Accounts(tx)
		if _, err := repoTx.Create(ctx, account); err != nil {
			return fmt.Errorf("error creating account: %w", err)
		}
		if err := repoTx.UpsertCredential(ctx, &models.Credential{
			AccountID:   account.ID,
			Hash:        hash,
			HashVersion: models.CurrentHashVersion,
		}); err != nil {
			return fmt.Errorf("error creating credential: %w", err)
		}
		// Local links key on the account id itself; (provider, subject)
		// is unique across all identity links.
		if err := repoTx.CreateIdentityLink(ctx, &models.IdentityLink{
			AccountID: account.ID,
			Provider:  models.ProviderLocal,
			Subject:   account.ID,
		}); err != nil {
			return fmt.Errorf("error creating identity link: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "account registered", "account_id", account.ID)
	return account, nil
}

// Authenticate verifies the identifier/password pair and returns the account
// id. The rate-limit check runs before any hash work; unknown identifier and
// wrong password produce the same error and comparable timing.
func (s *AuthService) Authenticate(ctx context.Context, identifier, password string) (string, error) {
	if !s.limiter.Allow(identifier) {
		LoginAttempts.WithLabelValues(StatusRateLimited).Inc()
		return "", common.ErrRateLimited
	}

	repo := s.repos.Accounts(s.db)

	account, err := repo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", s.deny(ctx, identifier, password, nil)
		}
		LoginAttempts.WithLabelValues(StatusError).Inc()
		return "", common.ErrInternal
	}

	cred, err := repo.GetCredential(ctx, account.ID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// OAuth-only account; no password to match.
			return "", s.deny(ctx, identifier, password, nil)
		}
		LoginAttempts.WithLabelValues(StatusError).Inc()
		return "", common.ErrInternal
	}

	if bcrypt.CompareHashAndPassword(cred.Hash, []byte(password)) != nil {
		return "", s.deny(ctx, identifier, password, cred)
	}

	s.limiter.Reset(identifier)
	LoginAttempts.WithLabelValues(StatusSuccess).Inc()

	if cred.HashVersion < models.CurrentHashVersion {
		s.rehash(ctx, account.ID, password)
	}

	return account.ID, nil
}

// deny records a failed attempt and returns the uniform denial. When no real
// comparison ran, the dummy hash is compared so the caller cannot probe
// account existence through timing.
func (s *AuthService) deny(ctx context.Context, identifier, password string, compared *models.Credential) error {
	if compared == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
	}
	s.limiter.Fail(identifier)
	LoginAttempts.WithLabelValues(StatusInvalidCredentials).Inc()
	return common.ErrInvalidCredentials
}

// rehash upgrades an old-version credential hash after a successful login.
// Failure is logged and otherwise ignored; the login itself already passed.
func (s *AuthService) rehash(ctx context.Context, accountID, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	if err != nil {
		s.logger.Error(ctx, "rehash failed", "account_id", accountID, "error", err.Error())
		return
	}
	if err := s.repos.Accounts(s.db).UpsertCredential(ctx, &models.Credential{
		AccountID:   accountID,
		Hash:        hash,
		HashVersion: models.CurrentHashVersion,
		UpdatedAt:   time.Now(),
	}); err != nil {
		s.logger.Error(ctx, "rehash failed", "account_id", accountID, "error", err.Error())
	}
}
