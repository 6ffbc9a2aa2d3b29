package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paperdesk/paperdesk/internal/server/models"
	"github.com/paperdesk/paperdesk/internal/server/oauth"
	"github.com/paperdesk/paperdesk/internal/server/services"
)

func parseProvider(c *gin.Context) (models.Provider, bool) {
	switch c.Param("provider") {
	case string(models.ProviderGoogle):
		return models.ProviderGoogle, true
	case string(models.ProviderGitHub):
		return models.ProviderGitHub, true
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return "", false
	}
}

// handleOAuthStart issues a CSRF state value and redirects the browser to
// the provider's authorize page.
func (s *Server) handleOAuthStart(c *gin.Context) {
	provider, ok := parseProvider(c)
	if !ok {
		return
	}

	state, err := s.exchanger.StateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.SetCookie(oauthStateCookie, state, 600, "/", "", false, true)
	c.Redirect(http.StatusFound, s.exchanger.AuthURL(provider, state))
}

// handleOAuthCallback completes the provider exchange, resolves or creates
// the local account, and returns a token pair like a password login does.
func (s *Server) handleOAuthCallback(c *gin.Context) {
	provider, ok := parseProvider(c)
	if !ok {
		return
	}

	state := c.Query("state")
	cookie, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != cookie {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state mismatch"})
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}

	var identity *oauth.Identity
	if err := s.do(c.Request.Context(), func(ctx context.Context) error {
		var opErr error
		identity, opErr = s.exchanger.Exchange(ctx, provider, code)
		return opErr
	}); err != nil {
		s.logger.Warn(c.Request.Context(), "oauth exchange failed", "provider", string(provider), "error", err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider exchange failed"})
		return
	}

	var pair *services.TokenPair
	if err := s.do(c.Request.Context(), func(ctx context.Context) error {
		accountID, opErr := s.federation.Federate(ctx, identity.Provider, identity.Subject, identity.Claims)
		if opErr != nil {
			return opErr
		}
		pair, opErr = s.tokens.Issue(ctx, accountID, sessionMeta(c))
		return opErr
	}); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenPairResponse{SessionToken: pair.SessionToken, RefreshToken: pair.RefreshToken})
}
