// Package oauth implements the identity-provider exchange boundary: it
// turns a provider callback code into a verified (provider, subject, claims)
// tuple for the federator. Signature/issuer validation is the provider's
// side of the contract; what comes back from the userinfo endpoints over
// TLS is treated as verified.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/paperdesk/paperdesk/internal/randx"
	"github.com/paperdesk/paperdesk/internal/server/models"
)

const (
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	githubUserInfoURL = "https://api.github.com/user"

	exchangeTimeout = 10 * time.Second
)

// Identity is the verified result of a completed provider exchange.
type Identity struct {
	Provider models.Provider
	Subject  string
	Claims   models.FederatedClaims
}

// Config carries the per-provider client registration.
type Config struct {
	BaseURL            string
	RedirectPath       string
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
}

// Exchanger holds the oauth2 configs for the supported providers.
type Exchanger struct {
	googleConf *oauth2.Config
	githubConf *oauth2.Config
}

func NewExchanger(cfg Config) *Exchanger {
	redirect := cfg.BaseURL + cfg.RedirectPath
	return &Exchanger{
		googleConf: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirect + "/google/callback",
			Scopes:       []string{"openid", "email", "profile"},
		},
		githubConf: &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  redirect + "/github/callback",
			Scopes:       []string{"read:user", "user:email"},
		},
	}
}

// StateToken returns a fresh CSRF state value for the authorize redirect.
func (e *Exchanger) StateToken() (string, error) {
	return randx.MakeRandHexString(32)
}

// AuthURL returns the provider's authorize URL, or "" for an unknown provider.
func (e *Exchanger) AuthURL(provider models.Provider, state string) string {
	switch provider {
	case models.ProviderGoogle:
		return e.googleConf.AuthCodeURL(state, oauth2.AccessTypeOnline)
	case models.ProviderGitHub:
		return e.githubConf.AuthCodeURL(state)
	default:
		return ""
	}
}

// Exchange redeems the callback code and resolves the provider identity.
func (e *Exchanger) Exchange(ctx context.Context, provider models.Provider, code string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	switch provider {
	case models.ProviderGoogle:
		tok, err := e.googleConf.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("google exchange: %w", err)
		}
		return fetchGoogleIdentity(ctx, e.googleConf.Client(ctx, tok))
	case models.ProviderGitHub:
		tok, err := e.githubConf.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("github exchange: %w", err)
		}
		return fetchGitHubIdentity(ctx, e.githubConf.Client(ctx, tok))
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

func fetchGoogleIdentity(ctx context.Context, client *http.Client) (*Identity, error) {
	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := fetchJSON(ctx, client, googleUserInfoURL, &info); err != nil {
		return nil, err
	}

	return &Identity{
		Provider: models.ProviderGoogle,
		Subject:  info.Sub,
		Claims: models.FederatedClaims{
			Email:         info.Email,
			EmailVerified: info.EmailVerified,
			Name:          info.Name,
		},
	}, nil
}

func fetchGitHubIdentity(ctx context.Context, client *http.Client) (*Identity, error) {
	var info struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := fetchJSON(ctx, client, githubUserInfoURL, &info); err != nil {
		return nil, err
	}

	return &Identity{
		Provider: models.ProviderGitHub,
		Subject:  strconv.FormatInt(info.ID, 10),
		Claims: models.FederatedClaims{
			Email: info.Email,
			// GitHub only exposes addresses it has confirmed.
			EmailVerified: info.Email != "",
			Name:          info.Name,
		},
	}, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("userinfo request: unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
