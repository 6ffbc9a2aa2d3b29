// Package api exposes the auth subsystem over HTTP. Handlers are a thin
// boundary: they decode requests, bound every store-touching call with the
// configured timeout, and translate service errors to status codes. All
// policy lives in the services.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-retry"

	"github.com/paperdesk/paperdesk/internal/common"
	"github.com/paperdesk/paperdesk/internal/logging"
	"github.com/paperdesk/paperdesk/internal/server/config"
	"github.com/paperdesk/paperdesk/internal/server/oauth"
	"github.com/paperdesk/paperdesk/internal/server/services"
)

const oauthStateCookie = "oauth_state"

// Server wires the auth services into a gin router and owns the HTTP
// listener lifecycle.
type Server struct {
	auth       *services.AuthService
	federation *services.FederationService
	tokens     *services.TokenService
	reset      *services.ResetService
	cleanup    *services.CleanupService
	exchanger  *oauth.Exchanger
	timeout    time.Duration
	logger     logging.Logger
	httpServer *http.Server
}

func NewServer(
	cfg *config.Config,
	auth *services.AuthService,
	federation *services.FederationService,
	tokens *services.TokenService,
	reset *services.ResetService,
	cleanup *services.CleanupService,
	exchanger *oauth.Exchanger,
	l logging.Logger,
) *Server {
	s := &Server{
		auth:       auth,
		federation: federation,
		tokens:     tokens,
		reset:      reset,
		cleanup:    cleanup,
		exchanger:  exchanger,
		timeout:    cfg.RequestTimeout,
		logger:     l.With("module", "http_server"),
	}
	s.httpServer = &http.Server{
		Addr:    cfg.EndpointAddrHTTP,
		Handler: s.Router(),
	}
	return s
}

// Router builds the gin engine with all auth routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/register", s.handleRegister)
		authGroup.POST("/login", s.handleLogin)
		authGroup.POST("/refresh", s.handleRefresh)
		authGroup.POST("/logout", s.handleLogout)
		authGroup.POST("/password-reset", s.handlePasswordReset)
		authGroup.POST("/password-reset/confirm", s.handlePasswordResetConfirm)
		authGroup.GET("/session", s.requireSession(), s.handleSession)
		authGroup.GET("/oauth/:provider", s.handleOAuthStart)
		authGroup.GET("/oauth/:provider/callback", s.handleOAuthCallback)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// do runs a store-bound operation under the request timeout, retrying once
// when the store times out. Anything else fails through immediately.
func (s *Server) do(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		err := fn(opCtx)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, common.ErrTimeout) {
			return retry.RetryableError(err)
		}
		return err
	})
}
