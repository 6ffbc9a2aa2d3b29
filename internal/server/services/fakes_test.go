package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/paperdesk/paperdesk/internal/common"
	"github.com/paperdesk/paperdesk/internal/dbx"
	"github.com/paperdesk/paperdesk/internal/logging"
	"github.com/paperdesk/paperdesk/internal/server/config"
	"github.com/paperdesk/paperdesk/internal/server/models"
	"github.com/paperdesk/paperdesk/internal/server/repositories/accounts"
	"github.com/paperdesk/paperdesk/internal/server/repositories/sessions"
)

// --- helpers ---

// newMockDB returns a sqlmock-backed handle with out-of-order matching and
// a pool of transaction expectations, so tests exercising dbx.WithTx do not
// have to choreograph every Begin/Commit pair.
func newMockDB(t *testing.T) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 32; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	return cfg
}

// seedAccount plants an account with a local credential directly into the
// fakes. MinCost keeps the tests fast; comparison does not care about cost.
func seedAccount(t *testing.T, m *fakeRepoManager, identifier, password string) *models.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}
	account := &models.Account{ID: uuid.NewString(), Identifier: identifier}
	ctx := context.Background()
	if _, err := m.accountsRepo.Create(ctx, account); err != nil {
		t.Fatalf("seed account error: %v", err)
	}
	if err := m.accountsRepo.UpsertCredential(ctx, &models.Credential{
		AccountID:   account.ID,
		Hash:        hash,
		HashVersion: models.CurrentHashVersion,
	}); err != nil {
		t.Fatalf("seed credential error: %v", err)
	}
	return account
}

// --- in-memory repositories ---

type fakeAccountsRepo struct {
	mu    sync.Mutex
	accts map[string]*models.Account
	creds map[string]*models.Credential
	links []models.IdentityLink
}

func newFakeAccountsRepo() *fakeAccountsRepo {
	return &fakeAccountsRepo{
		accts: make(map[string]*models.Account),
		creds: make(map[string]*models.Credential),
	}
}

func (f *fakeAccountsRepo) Create(ctx context.Context, a *models.Account) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.CreatedAt = time.Now()
	cp := *a
	f.accts[a.ID] = &cp
	return a, nil
}

func (f *fakeAccountsRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeAccountsRepo) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accts {
		if a.Identifier == identifier {
			cp := *a
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeAccountsRepo) GetCredential(ctx context.Context, accountID string) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.creds[accountID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeAccountsRepo) UpsertCredential(ctx context.Context, c *models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	cp.UpdatedAt = time.Now()
	f.creds[c.AccountID] = &cp
	return nil
}

func (f *fakeAccountsRepo) CreateIdentityLink(ctx context.Context, l *models.IdentityLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, *l)
	return nil
}

func (f *fakeAccountsRepo) GetLink(ctx context.Context, provider models.Provider, subject string) (*models.IdentityLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links {
		if l.Provider == provider && l.Subject == subject {
			cp := l
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeAccountsRepo) ListLinks(ctx context.Context, accountID string) ([]models.IdentityLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.IdentityLink
	for _, l := range f.links {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeSessionsRepo struct {
	mu         sync.Mutex
	sessions   map[string]*models.Session
	refresh    map[string]*models.RefreshToken
	resets     map[string]*models.PasswordResetToken
	watermarks map[string]time.Time
}

func newFakeSessionsRepo() *fakeSessionsRepo {
	return &fakeSessionsRepo{
		sessions:   make(map[string]*models.Session),
		refresh:    make(map[string]*models.RefreshToken),
		resets:     make(map[string]*models.PasswordResetToken),
		watermarks: make(map[string]time.Time),
	}
}

func (f *fakeSessionsRepo) CreateSession(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionsRepo) GetSession(ctx context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeSessionsRepo) RevokeSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.Revoked = true
	}
	return nil
}

func (f *fakeSessionsRepo) RevokeFamily(ctx context.Context, familyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.FamilyID == familyID {
			s.Revoked = true
		}
	}
	return nil
}

func (f *fakeSessionsRepo) CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.refresh[t.ID] = &cp
	return nil
}

func (f *fakeSessionsRepo) GetRefreshToken(ctx context.Context, id string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.refresh[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeSessionsRepo) ConsumeRefreshToken(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.refresh[id]
	if !ok || t.Consumed {
		return false, nil
	}
	t.Consumed = true
	return true, nil
}

func (f *fakeSessionsRepo) CreateResetToken(ctx context.Context, t *models.PasswordResetToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.resets[t.ID] = &cp
	return nil
}

func (f *fakeSessionsRepo) GetResetToken(ctx context.Context, id string) (*models.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.resets[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeSessionsRepo) ConsumeResetToken(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.resets[id]
	if !ok || t.Consumed {
		return false, nil
	}
	t.Consumed = true
	return true, nil
}

func (f *fakeSessionsRepo) InvalidateResetTokens(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.resets {
		if t.AccountID == accountID {
			t.Consumed = true
		}
	}
	return nil
}

func (f *fakeSessionsRepo) RevokeAllForAccount(ctx context.Context, accountID string, before time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.watermarks[accountID]; !ok || before.After(prev) {
		f.watermarks[accountID] = before
	}
	return nil
}

func (f *fakeSessionsRepo) RevocationWatermark(ctx context.Context, accountID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermarks[accountID], nil
}

func (f *fakeSessionsRepo) SweepExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.sessions {
		if !s.ExpiresAt.Before(now) {
			continue
		}
		anchored := false
		for _, t := range f.refresh {
			if t.SessionID == id && !t.ExpiresAt.Before(now) && !t.Consumed {
				anchored = true
				break
			}
		}
		if anchored {
			continue
		}
		delete(f.sessions, id)
		for rid, t := range f.refresh {
			if t.SessionID == id {
				delete(f.refresh, rid)
			}
		}
		n++
	}
	return n, nil
}

func (f *fakeSessionsRepo) SweepExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, t := range f.refresh {
		if t.ExpiresAt.Before(now) || t.Consumed {
			delete(f.refresh, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionsRepo) SweepExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, t := range f.resets {
		if t.ExpiresAt.Before(now) || t.Consumed {
			delete(f.resets, id)
			n++
		}
	}
	return n, nil
}

// fakeRepoManager hands the same in-memory repositories to every caller,
// regardless of the handle (transactions are a no-op for the fakes).
type fakeRepoManager struct {
	accountsRepo *fakeAccountsRepo
	sessionsRepo *fakeSessionsRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		accountsRepo: newFakeAccountsRepo(),
		sessionsRepo: newFakeSessionsRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

func (m *fakeRepoManager) Accounts(db dbx.DBTX) accounts.Repository { return m.accountsRepo }

func (m *fakeRepoManager) Sessions(db dbx.DBTX) sessions.Repository { return m.sessionsRepo }

// --- boundary fakes ---

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []string
	sendTo []string
	err    error
}

func (n *fakeNotifier) Send(ctx context.Context, a *models.Account, rawToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, rawToken)
	n.sendTo = append(n.sendTo, a.ID)
	return nil
}

type fakeClientStore struct {
	cleared int
	err     error
}

func (c *fakeClientStore) Clear(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	c.cleared++
	return nil
}
