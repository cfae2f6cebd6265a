package contents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/askarin/cryptboard/internal/common"
	"github.com/askarin/cryptboard/internal/dbx"
	"github.com/askarin/cryptboard/internal/server/models"
)

// SQLiteRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateIfAbsent(ctx context.Context, c *models.Content) error {
	query := `INSERT INTO content (id, session_id, type, name, total_chunks, total_size, iv, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.SessionID, c.ContentType, c.Name, c.TotalChunks, c.TotalSize, c.IV, c.Status, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert content: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Content, error) {
	query := `SELECT id, session_id, type, name, total_chunks, total_size, iv, status, created_at
		FROM content WHERE id=?`
	c := &models.Content{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.SessionID, &c.ContentType, &c.Name, &c.TotalChunks, &c.TotalSize, &c.IV, &c.Status, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select content: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) ListBySession(ctx context.Context, sessionID string, onlyComplete bool) ([]*models.Content, error) {
	query := `SELECT id, session_id, type, name, total_chunks, total_size, iv, status, created_at
		FROM content WHERE session_id=?`
	args := []any{sessionID}
	if onlyComplete {
		query += ` AND status=?`
		args = append(args, models.StatusComplete)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select content: %w", err)
	}
	defer rows.Close()

	var result []*models.Content
	for rows.Next() {
		c := &models.Content{}
		if err := rows.Scan(&c.ID, &c.SessionID, &c.ContentType, &c.Name, &c.TotalChunks, &c.TotalSize, &c.IV, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) MarkComplete(ctx context.Context, id string) error {
	query := `UPDATE content SET status=? WHERE id=? AND status=?`
	result, err := r.db.ExecContext(ctx, query, models.StatusComplete, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark complete: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("wrong rows affected count: %d", n)
	}
	return nil
}

func (r *SQLiteRepository) Rename(ctx context.Context, id string, name string) error {
	query := `UPDATE content SET name=? WHERE id=?`
	result, err := r.db.ExecContext(ctx, query, name, id)
	if err != nil {
		return fmt.Errorf("failed to rename content: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM content WHERE id=?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Content, error) {
	query := `SELECT id, session_id, type, name, total_chunks, total_size, iv, status, created_at
		FROM content WHERE status=? AND created_at < ?`
	rows, err := r.db.QueryContext(ctx, query, models.StatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending content: %w", err)
	}
	defer rows.Close()

	var result []*models.Content
	for rows.Next() {
		c := &models.Content{}
		if err := rows.Scan(&c.ID, &c.SessionID, &c.ContentType, &c.Name, &c.TotalChunks, &c.TotalSize, &c.IV, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) InsertChunk(ctx context.Context, ch *models.Chunk) error {
	query := `INSERT INTO chunks (content_id, idx, size, checksum, stored_at) VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, ch.ContentID, ch.Index, ch.Size, ch.Checksum, ch.StoredAt)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetChunk(ctx context.Context, contentID string, index int) (*models.Chunk, error) {
	query := `SELECT content_id, idx, size, checksum, stored_at FROM chunks WHERE content_id=? AND idx=?`
	ch := &models.Chunk{}
	err := r.db.QueryRowContext(ctx, query, contentID, index).Scan(
		&ch.ContentID, &ch.Index, &ch.Size, &ch.Checksum, &ch.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select chunk: %w", err)
	}
	return ch, nil
}

func (r *SQLiteRepository) CountChunks(ctx context.Context, contentID string) (int, error) {
	query := `SELECT COUNT(*) FROM chunks WHERE content_id=?`
	var n int
	if err := r.db.QueryRowContext(ctx, query, contentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) ListChunks(ctx context.Context, contentID string) ([]*models.Chunk, error) {
	query := `SELECT content_id, idx, size, checksum, stored_at FROM chunks WHERE content_id=? ORDER BY idx`
	rows, err := r.db.QueryContext(ctx, query, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunks: %w", err)
	}
	defer rows.Close()

	var result []*models.Chunk
	for rows.Next() {
		ch := &models.Chunk{}
		if err := rows.Scan(&ch.ContentID, &ch.Index, &ch.Size, &ch.Checksum, &ch.StoredAt); err != nil {
			return nil, err
		}
		result = append(result, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
