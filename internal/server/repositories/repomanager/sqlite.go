package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/askarin/cryptboard/internal/dbx"
	sqlitemigrations "github.com/askarin/cryptboard/internal/server/migrations/sqlite"
	"github.com/askarin/cryptboard/internal/server/repositories/contents"
	"github.com/askarin/cryptboard/internal/server/repositories/sessions"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

type SQLiteManager struct {
	db *sql.DB
}

// NewSQLiteManager opens (or creates) the SQLite database at path, switches
// it to WAL mode so readers do not block concurrent chunk writers, and runs
// migrations.
func NewSQLiteManager(path string) (*SQLiteManager, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	pragmas := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA foreign_keys=ON`,
		`PRAGMA synchronous=NORMAL`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("pragma error: %w", err)
		}
	}

	m := &SQLiteManager{db: db}
	if err := m.RunMigrations(context.Background()); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return m, nil
}

func (m *SQLiteManager) DB() *sql.DB {
	return m.db
}

func (m *SQLiteManager) Sessions(db dbx.DBTX) sessions.Repository {
	return sessions.NewSQLiteRepository(db)
}

func (m *SQLiteManager) Contents(db dbx.DBTX) contents.Repository {
	return contents.NewSQLiteRepository(db)
}

func (m *SQLiteManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(sqlitemigrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	return goose.UpContext(ctx, m.db, ".")
}

func (m *SQLiteManager) Close() error {
	return m.db.Close()
}
