package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/paperdesk/paperdesk/internal/common"
	"github.com/paperdesk/paperdesk/internal/server/models"
	"github.com/paperdesk/paperdesk/internal/server/services"
)

const minPasswordLength = 8

type credentialsRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type resetRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

type resetConfirmRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

type tokenPairResponse struct {
	SessionToken string `json:"session_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identifier and password are required"})
		return
	}
	if len(req.Password) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password too short"})
		return
	}

	var account *models.Account
	err := s.do(c.Request.Context(), func(ctx context.Context) error {
		var opErr error
		account, opErr = s.auth.Register(ctx, strings.TrimSpace(req.Identifier), req.Password)
		return opErr
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"account_id": account.ID})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identifier and password are required"})
		return
	}

	var pair *services.TokenPair
	err := s.do(c.Request.Context(), func(ctx context.Context) error {
		accountID, opErr := s.auth.Authenticate(ctx, strings.TrimSpace(req.Identifier), req.Password)
		if opErr != nil {
			return opErr
		}
		pair, opErr = s.tokens.Issue(ctx, accountID, sessionMeta(c))
		return opErr
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenPairResponse{SessionToken: pair.SessionToken, RefreshToken: pair.RefreshToken})
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	var pair *services.TokenPair
	err := s.do(c.Request.Context(), func(ctx context.Context) error {
		var opErr error
		pair, opErr = s.tokens.Refresh(ctx, req.RefreshToken, sessionMeta(c))
		return opErr
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenPairResponse{SessionToken: pair.SessionToken, RefreshToken: pair.RefreshToken})
}

// handleLogout revokes the presented session. The token only has to be
// authentically signed; an expired session can still be logged out.
func (s *Server) handleLogout(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	sessionID, err := s.tokens.SessionIDForLogout(token)
	if err != nil {
		s.fail(c, common.ErrInvalidToken)
		return
	}

	if err := s.do(c.Request.Context(), func(ctx context.Context) error {
		return s.cleanup.CleanupOnLogout(ctx, sessionID)
	}); err != nil {
		s.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handlePasswordReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identifier is required"})
		return
	}

	if err := s.do(c.Request.Context(), func(ctx context.Context) error {
		return s.reset.RequestReset(ctx, strings.TrimSpace(req.Identifier))
	}); err != nil {
		s.fail(c, err)
		return
	}

	// Accepted regardless of whether the identifier exists.
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) handlePasswordResetConfirm(c *gin.Context) {
	var req resetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and new_password are required"})
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password too short"})
		return
	}

	if err := s.do(c.Request.Context(), func(ctx context.Context) error {
		return s.reset.ConfirmReset(ctx, req.Token, req.NewPassword)
	}); err != nil {
		s.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"account_id": c.GetString(ctxAccountID)})
}

// fail maps service errors onto HTTP statuses. Token-state details
// (unknown, expired, consumed, revoked) are deliberately collapsed so a
// probing caller learns nothing about why a token was refused.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
	case errors.Is(err, common.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, common.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "identifier already taken"})
	case errors.Is(err, common.ErrFederationConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "identity already registered"})
	case errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrExpired),
		errors.Is(err, common.ErrRevoked),
		errors.Is(err, common.ErrAlreadyUsed),
		errors.Is(err, common.ErrNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
	case errors.Is(err, common.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	default:
		s.logger.Error(c.Request.Context(), "unhandled service error", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func sessionMeta(c *gin.Context) services.SessionMeta {
	return services.SessionMeta{
		UserAgent:  c.Request.UserAgent(),
		RemoteAddr: c.ClientIP(),
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
