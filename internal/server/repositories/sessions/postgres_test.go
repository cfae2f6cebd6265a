package sessions

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/askarin/cryptboard/internal/common"
	"github.com/askarin/cryptboard/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestPostgresCreate(t *testing.T) {
	db, mock := newSQLMockDB(t)
	r := NewPostgresRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sessions (id, fingerprint, created_at, last_activity) VALUES ($1, $2, $3, $4)`)).
		WithArgs("s1", "fp", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.Create(context.Background(), &models.Session{ID: "s1", Fingerprint: "fp", CreatedAt: now, LastActivity: now})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	db, mock := newSQLMockDB(t)
	r := NewPostgresRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "fingerprint", "created_at", "last_activity"}).
		AddRow("s1", "fp", now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, fingerprint, created_at, last_activity FROM sessions WHERE id=$1`)).
		WithArgs("s1").
		WillReturnRows(rows)

	got, err := r.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "fp", got.Fingerprint)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet_NotFound(t *testing.T) {
	db, mock := newSQLMockDB(t)
	r := NewPostgresRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, fingerprint, created_at, last_activity FROM sessions WHERE id=$1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListIdle(t *testing.T) {
	db, mock := newSQLMockDB(t)
	r := NewPostgresRepository(db)

	cutoff := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM sessions WHERE last_activity < $1`)).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("stale1").AddRow("stale2"))

	ids, err := r.ListIdle(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale1", "stale2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
