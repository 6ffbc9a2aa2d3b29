package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

const ctxAccountID = "account_id"

// requireSession verifies the bearer session token and stores the owning
// account id on the request context.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		var accountID string
		err := s.do(c.Request.Context(), func(ctx context.Context) error {
			var opErr error
			accountID, opErr = s.tokens.Verify(ctx, token)
			return opErr
		})
		if err != nil {
			s.fail(c, err)
			c.Abort()
			return
		}

		c.Set(ctxAccountID, accountID)
		c.Next()
	}
}
