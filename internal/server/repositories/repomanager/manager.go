// Package repomanager wires the metadata database to dialect-specific
// repository implementations and runs embedded schema migrations.
package repomanager

import (
	"context"
	"database/sql"
	"strings"

	"github.com/askarin/cryptboard/internal/dbx"
	"github.com/askarin/cryptboard/internal/server/repositories/contents"
	"github.com/askarin/cryptboard/internal/server/repositories/sessions"
)

// RepositoryManager owns the *sql.DB and hands out repositories bound to
// either the DB itself or a transaction handle.
type RepositoryManager interface {
	// DB returns the underlying database handle, for dbx.WithTx and pings.
	DB() *sql.DB

	// Sessions returns a session repository bound to db.
	Sessions(db dbx.DBTX) sessions.Repository

	// Contents returns a content repository bound to db.
	Contents(db dbx.DBTX) contents.Repository

	// RunMigrations applies the embedded goose migrations.
	RunMigrations(ctx context.Context) error

	Close() error
}

// New selects the backend by DSN: "postgres://" or "postgresql://" prefixes
// get pgx, everything else is treated as a SQLite database path.
func New(dsn string) (RepositoryManager, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresManager(dsn)
	}
	return NewSQLiteManager(dsn)
}
