package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/paperdesk/paperdesk/internal/common"
	"github.com/paperdesk/paperdesk/internal/dbx"
	"github.com/paperdesk/paperdesk/internal/server/models"
)

// pgUniqueViolation is the Postgres error code for a unique constraint hit.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {

	query :=
		`INSERT INTO accounts (id, identifier)
         VALUES ($1, $2)
		 RETURNING created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		account.ID, account.Identifier).Scan(&account.CreatedAt)

	if err != nil {
		// Two registrations can race past the read-side duplicate check;
		// the constraint is the arbiter.
		if isUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query :=
		`SELECT id, identifier, created_at FROM accounts
		 WHERE id = $1
		 `

	account := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&account.ID, &account.Identifier, &account.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

func (r *PostgresRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	query :=
		`SELECT id, identifier, created_at FROM accounts
		 WHERE identifier = $1
		 `

	account := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, identifier).Scan(&account.ID, &account.Identifier, &account.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

func (r *PostgresRepository) GetCredential(ctx context.Context, accountID string) (*models.Credential, error) {
	query :=
		`SELECT account_id, hash, hash_version, updated_at FROM credentials
		 WHERE account_id = $1
		 `

	cred := &models.Credential{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(&cred.AccountID, &cred.Hash, &cred.HashVersion, &cred.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return cred, nil
}

func (r *PostgresRepository) UpsertCredential(ctx context.Context, cred *models.Credential) error {
	query :=
		`INSERT INTO credentials (account_id, hash, hash_version, updated_at)
         VALUES ($1, $2, $3, now())
         ON CONFLICT (account_id) DO UPDATE
             SET hash = EXCLUDED.hash, hash_version = EXCLUDED.hash_version, updated_at = now()
		 `

	_, err := r.db.ExecContext(ctx, query, cred.AccountID, cred.Hash, cred.HashVersion)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) CreateIdentityLink(ctx context.Context, link *models.IdentityLink) error {
	query :=
		`INSERT INTO identity_links (account_id, provider, subject)
         VALUES ($1, $2, $3)
		 `

	_, err := r.db.ExecContext(ctx, query, link.AccountID, link.Provider, link.Subject)

	if err != nil {
		if isUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetLink(ctx context.Context, provider models.Provider, subject string) (*models.IdentityLink, error) {
	query :=
		`SELECT account_id, provider, subject, created_at FROM identity_links
		 WHERE provider = $1 AND subject = $2
		 `

	link := &models.IdentityLink{}
	err := r.db.QueryRowContext(ctx, query, provider, subject).Scan(&link.AccountID, &link.Provider, &link.Subject, &link.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return link, nil
}

func (r *PostgresRepository) ListLinks(ctx context.Context, accountID string) ([]models.IdentityLink, error) {
	query :=
		`SELECT account_id, provider, subject, created_at FROM identity_links
		 WHERE account_id = $1
		 `

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var links []models.IdentityLink
	for rows.Next() {
		var link models.IdentityLink
		if err := rows.Scan(&link.AccountID, &link.Provider, &link.Subject, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return links, nil
}
