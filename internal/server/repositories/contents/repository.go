package contents

import (
	"context"
	"time"

	"github.com/askarin/cryptboard/internal/server/models"
)

// Repository persists content and chunk metadata rows. Implementations are
// bound to a dbx.DBTX so the store can run multi-statement operations (chunk
// insert + presence count + finalize) inside one transaction.
type Repository interface {
	// CreateIfAbsent inserts the content row unless one with the same id
	// already exists.
	CreateIfAbsent(ctx context.Context, c *models.Content) error

	// Get returns the content row or common.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Content, error)

	// ListBySession returns the session's content rows, optionally only the
	// finalized ones.
	ListBySession(ctx context.Context, sessionID string, onlyComplete bool) ([]*models.Content, error)

	// MarkComplete transitions the content row to StatusComplete.
	MarkComplete(ctx context.Context, id string) error

	// Rename updates display metadata. The only permitted mutation after
	// finalize.
	Rename(ctx context.Context, id string, name string) error

	// Delete removes the content row and, via cascade, its chunk rows.
	// Deleting an absent row is a no-op.
	Delete(ctx context.Context, id string) error

	// ListPendingBefore returns pending content created before cutoff,
	// candidates for garbage collection.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Content, error)

	// InsertChunk records one stored chunk.
	InsertChunk(ctx context.Context, ch *models.Chunk) error

	// GetChunk returns the chunk row or common.ErrNotFound.
	GetChunk(ctx context.Context, contentID string, index int) (*models.Chunk, error)

	// CountChunks returns the number of distinct chunk indices recorded for
	// the content id.
	CountChunks(ctx context.Context, contentID string) (int, error)

	// ListChunks returns the content's chunk rows in index order.
	ListChunks(ctx context.Context, contentID string) ([]*models.Chunk, error)
}
