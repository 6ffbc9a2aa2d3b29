// Package server initializes and runs the auth server: it opens the
// database, runs migrations, wires the services, and owns the HTTP listener
// and the periodic sweep loop with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/paperdesk/paperdesk/internal/logging"
	"github.com/paperdesk/paperdesk/internal/server/api"
	"github.com/paperdesk/paperdesk/internal/server/config"
	"github.com/paperdesk/paperdesk/internal/server/models"
	"github.com/paperdesk/paperdesk/internal/server/oauth"
	"github.com/paperdesk/paperdesk/internal/server/ratelimit"
	"github.com/paperdesk/paperdesk/internal/server/repositories/repomanager"
	"github.com/paperdesk/paperdesk/internal/server/services"
)

const shutdownGrace = 10 * time.Second

// resetOutboxPath is where outboxNotifier drops raw reset tokens.
const resetOutboxPath = "reset_outbox"

// outboxNotifier stands in for a mail delivery pipeline: it appends the raw
// reset token to a local outbox file for the operator to deliver by hand.
// The shared log only ever sees the account identifier, never the token.
// Replace with a real sender in deployment.
type outboxNotifier struct {
	mu     sync.Mutex
	path   string
	logger logging.Logger
}

func (n *outboxNotifier) Send(ctx context.Context, account *models.Account, rawToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	f, err := os.OpenFile(n.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("outbox open error: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s %s\n", account.Identifier, rawToken); err != nil {
		return fmt.Errorf("outbox write error: %w", err)
	}

	n.logger.Info(ctx, "password reset token issued", "identifier", account.Identifier)
	return nil
}

// noopClientStore is the server-side stand-in for the client token cache;
// browser clients discard their own copies on logout.
type noopClientStore struct{}

func (noopClientStore) Clear(ctx context.Context) error { return nil }

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	httpServer *api.Server
	cleanup    *services.CleanupService
}

func NewApp(cfg *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	manager := repomanager.NewPostgresRepositoryManager()
	if err := manager.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		Threshold:  cfg.LoginFailureThreshold,
		BaseWindow: cfg.LoginBackoffWindow,
		MaxBackoff: cfg.LoginBackoffMax,
	})

	services.RegisterMetrics(prometheus.DefaultRegisterer)

	notifier := &outboxNotifier{path: resetOutboxPath, logger: logger.With("module", "notifier")}

	authSvc := services.NewAuthService(db, manager, limiter, logger, cfg)
	fedSvc := services.NewFederationService(db, manager, logger)
	tokenSvc := services.NewTokenService(db, manager, logger, cfg)
	resetSvc := services.NewResetService(db, manager, notifier, logger, cfg)
	cleanupSvc := services.NewCleanupService(db, manager, noopClientStore{}, limiter, logger)

	exchanger := oauth.NewExchanger(oauth.Config{
		BaseURL:            cfg.PublicBaseURL,
		RedirectPath:       "/api/auth/oauth",
		GoogleClientID:     cfg.GoogleClientID,
		GoogleClientSecret: cfg.GoogleClientSecret,
		GitHubClientID:     cfg.GitHubClientID,
		GitHubClientSecret: cfg.GitHubClientSecret,
	})

	httpServer := api.NewServer(cfg, authSvc, fedSvc, tokenSvc, resetSvc, cleanupSvc, exchanger, logger)

	return &App{
		config:     cfg,
		logger:     logger,
		db:         db,
		httpServer: httpServer,
		cleanup:    cleanupSvc,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runSweepLoop fires the expired-material sweep on the configured cadence
// until ctx is cancelled.
func (app *App) runSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(app.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.cleanup.PeriodicSweep(ctx); err != nil {
				app.logger.Error(ctx, "sweep failed", "error", err.Error())
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.httpServer.Start(); err != nil {
			app.logger.Error(ctx, "http server error", "error", err.Error())
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runSweepLoop(ctx)
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "shutdown error", "error", err.Error())
	}

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close error", "error", err.Error())
	}
}
