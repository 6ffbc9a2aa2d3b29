package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/paperdesk/paperdesk/internal/logging"
	"github.com/paperdesk/paperdesk/internal/server/ratelimit"
	"github.com/paperdesk/paperdesk/internal/server/repositories/repomanager"
)

// ClientTokenStore is the client-side token cache; Clear instructs it to
// drop any locally held session/refresh material. Best effort.
type ClientTokenStore interface {
	Clear(ctx context.Context) error
}

// SweepReport holds the per-kind counts of a completed sweep.
type SweepReport struct {
	Sessions      int64
	RefreshTokens int64
	ResetTokens   int64
	LimiterPurged int
}

// CleanupService handles logout teardown and the periodic purge of expired
// material. It owns no timer; an external scheduler invokes PeriodicSweep.
type CleanupService struct {
	db          *sql.DB
	repos       repomanager.RepositoryManager
	clientStore ClientTokenStore
	limiter     *ratelimit.Limiter
	logger      logging.Logger
	now         func() time.Time
}

func NewCleanupService(db *sql.DB, m repomanager.RepositoryManager, cs ClientTokenStore, limiter *ratelimit.Limiter, l logging.Logger) *CleanupService {
	return &CleanupService{
		db:          db,
		repos:       m,
		clientStore: cs,
		limiter:     limiter,
		logger:      l.With("module", "cleanup_service"),
		now:         time.Now,
	}
}

// CleanupOnLogout revokes the session server-side and asks the client store
// to discard cached tokens. The client-side clear is best effort: its
// failure is logged but never undoes the revocation.
func (s *CleanupService) CleanupOnLogout(ctx context.Context, sessionID string) error {
	if err := s.repos.Sessions(s.db).RevokeSession(ctx, sessionID); err != nil {
		return err
	}

	if err := s.clientStore.Clear(ctx); err != nil {
		s.logger.Warn(ctx, "client token clear failed", "session_id", sessionID, "error", err.Error())
	}

	s.logger.Info(ctx, "logged out", "session_id", sessionID)
	return nil
}

// PeriodicSweep removes expired sessions, refresh tokens, and reset tokens,
// each independently, and reports the counts.
func (s *CleanupService) PeriodicSweep(ctx context.Context) (*SweepReport, error) {
	repo := s.repos.Sessions(s.db)
	now := s.now()
	report := &SweepReport{}

	var err error
	if report.RefreshTokens, err = repo.SweepExpiredRefreshTokens(ctx, now); err != nil {
		return nil, err
	}
	if report.Sessions, err = repo.SweepExpiredSessions(ctx, now); err != nil {
		return nil, err
	}
	if report.ResetTokens, err = repo.SweepExpiredResetTokens(ctx, now); err != nil {
		return nil, err
	}
	report.LimiterPurged = s.limiter.PurgeStale(now)

	SweepDeletions.WithLabelValues("session").Add(float64(report.Sessions))
	SweepDeletions.WithLabelValues("refresh_token").Add(float64(report.RefreshTokens))
	SweepDeletions.WithLabelValues("reset_token").Add(float64(report.ResetTokens))

	s.logger.Info(ctx, "sweep completed",
		"sessions", report.Sessions,
		"refresh_tokens", report.RefreshTokens,
		"reset_tokens", report.ResetTokens,
		"limiter_entries", report.LimiterPurged,
	)
	return report, nil
}
