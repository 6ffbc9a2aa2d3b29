// Package models holds the identity data model shared by repositories and
// services: accounts with their linked identity sources, credentials, and
// the three token kinds (session, refresh, password reset).
package models

import "time"

// Provider identifies the source of an identity link. The set is closed:
// adding a provider means adding a constant here, not branching on strings
// scattered through the services.
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// Account is the durable identity record that sessions ultimately authorize.
// Identifier is the primary email/username and is unique across accounts.
type Account struct {
	ID         string
	Identifier string
	CreatedAt  time.Time
}

// IdentityLink ties an Account to one identity source. A local-credential
// link uses ProviderLocal with the account id as subject; OAuth links carry
// the provider's stable subject id. (provider, subject) is unique.
type IdentityLink struct {
	AccountID string
	Provider  Provider
	Subject   string
	CreatedAt time.Time
}

// FederatedClaims are the already-verified claims handed over by the
// identity-provider exchange. Signature/issuer/audience validation happens
// upstream; by the time these reach the federator they are trusted.
type FederatedClaims struct {
	Email         string
	EmailVerified bool
	Name          string
}
