package sessions

import (
	"context"
	"time"

	"github.com/askarin/cryptboard/internal/server/models"
)

// Repository persists session rows. Implementations are bound to a dbx.DBTX
// so they work both standalone and inside a store transaction.
type Repository interface {
	// Create inserts a new session row.
	Create(ctx context.Context, s *models.Session) error

	// Get returns the session or common.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Touch updates last_activity.
	Touch(ctx context.Context, id string, at time.Time) error

	// Delete removes the session row. Deleting an absent session is a no-op.
	Delete(ctx context.Context, id string) error

	// ListIdle returns ids of sessions whose last_activity precedes cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]string, error)
}
