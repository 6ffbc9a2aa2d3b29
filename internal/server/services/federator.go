package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/paperdesk/paperdesk/internal/common"
	"github.com/paperdesk/paperdesk/internal/dbx"
	"github.com/paperdesk/paperdesk/internal/logging"
	"github.com/paperdesk/paperdesk/internal/server/models"
	"github.com/paperdesk/paperdesk/internal/server/repositories/repomanager"
)

// FederationService exchanges a verified external identity for a local
// account, creating one on first sight. This is the only implicit
// account-creation path in the system.
type FederationService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	logger logging.Logger
}

func NewFederationService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *FederationService {
	return &FederationService{
		db:     db,
		repos:  m,
		logger: l.With("module", "federation_service"),
	}
}

// Federate resolves (provider, subject) to an account id. The claims are
// already verified by the identity-provider exchange.
//
// When the verified email belongs to an existing account that this provider
// is not linked to, the call fails with ErrFederationConflict instead of
// silently merging identities; linking has to be an explicit act.
func (s *FederationService) Federate(ctx context.Context, provider models.Provider, subject string, claims models.FederatedClaims) (string, error) {
	if provider == models.ProviderLocal {
		return "", fmt.Errorf("federate: %w", common.ErrInvalidToken)
	}

	repo := s.repos.Accounts(s.db)

	link, err := repo.GetLink(ctx, provider, subject)
	if err == nil {
		return link.AccountID, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return "", fmt.Errorf("error searching identity link: %w", err)
	}

	identifier := s.identifier(provider, subject, claims)

	existing, err := repo.GetByIdentifier(ctx, identifier)
	if err == nil {
		return "", s.conflict(ctx, existing, provider)
	}
	if !errors.Is(err, common.ErrNotFound) {
		return "", fmt.Errorf("error searching account: %w", err)
	}

	account := &models.Account{ID: uuid.NewString(), Identifier: identifier}
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repoTx := s.repos.Accounts(tx)
		if _, err := repoTx.Create(ctx, account); err != nil {
			return fmt.Errorf("error creating account: %w", err)
		}
		if err := repoTx.CreateIdentityLink(ctx, &models.IdentityLink{
			AccountID: account.ID,
			Provider:  provider,
			Subject:   subject,
		}); err != nil {
			return fmt.Errorf("error creating identity link: %w", err)
		}
		return nil
	}); err != nil {
		return "", err
	}

	s.logger.Info(ctx, "account created via federation", "account_id", account.ID, "provider", string(provider))
	return account.ID, nil
}

// identifier picks the account's primary identifier. Without a verified
// email there is nothing safe to collide on, so a synthetic
// provider-scoped identifier is used instead.
func (s *FederationService) identifier(provider models.Provider, subject string, claims models.FederatedClaims) string {
	if claims.EmailVerified && claims.Email != "" {
		return claims.Email
	}
	return string(provider) + ":" + subject
}

func (s *FederationService) conflict(ctx context.Context, account *models.Account, provider models.Provider) error {
	s.logger.Warn(ctx, "federation conflict", "account_id", account.ID, "provider", string(provider))
	return common.ErrFederationConflict
}
