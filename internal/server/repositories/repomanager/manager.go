// Package repomanager wires repositories to database handles and owns
// schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/paperdesk/paperdesk/internal/dbx"
	"github.com/paperdesk/paperdesk/internal/server/repositories/accounts"
	"github.com/paperdesk/paperdesk/internal/server/repositories/sessions"
)

// RepositoryManager hands out repositories bound to the given handle, which
// may be a *sql.DB or a transaction. Services pass a tx handle when a
// multi-repository operation must commit atomically.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	Sessions(db dbx.DBTX) sessions.Repository
}
