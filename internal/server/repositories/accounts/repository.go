// Package accounts declares the repository contract for accounts,
// credentials, and identity links (the credential store).
package accounts

import (
	"context"

	"github.com/paperdesk/paperdesk/internal/server/models"
)

// Repository defines operations on accounts and their identity sources.
// Implementations return common.ErrNotFound for lookup misses.
type Repository interface {
	// Create inserts a new account. The caller supplies the id.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)

	// GetByID returns the account with the given id.
	GetByID(ctx context.Context, id string) (*models.Account, error)

	// GetByIdentifier returns the account whose primary identifier
	// (email/username) matches.
	GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error)

	// GetCredential returns the local credential for an account.
	GetCredential(ctx context.Context, accountID string) (*models.Credential, error)

	// UpsertCredential creates or replaces the account's local credential.
	// This is the only mutation path for password material.
	UpsertCredential(ctx context.Context, cred *models.Credential) error

	// CreateIdentityLink records a new identity source for an account.
	CreateIdentityLink(ctx context.Context, link *models.IdentityLink) error

	// GetLink returns the identity link for (provider, subject).
	GetLink(ctx context.Context, provider models.Provider, subject string) (*models.IdentityLink, error)

	// ListLinks returns all identity links of an account.
	ListLinks(ctx context.Context, accountID string) ([]models.IdentityLink, error)
}
