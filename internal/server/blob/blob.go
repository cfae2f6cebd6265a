// Package blob stores raw chunk bytes. The metadata row, not the blob
// backend, is the source of truth: a blob without a matching chunk row is
// an orphan and gets removed by the startup sweep.
package blob

import "context"

// ContentRef identifies one content item's blob location.
type ContentRef struct {
	SessionID string
	ContentID string
}

// Store persists chunk bytes keyed by (session, content, index).
type Store interface {
	// Put durably writes one chunk. An identical re-write must succeed.
	Put(ctx context.Context, sessionID, contentID string, index int, data []byte) error

	// Get returns the chunk bytes or common.ErrNotFound.
	Get(ctx context.Context, sessionID, contentID string, index int) ([]byte, error)

	// DeleteContent removes every chunk of the content item. Idempotent.
	DeleteContent(ctx context.Context, sessionID, contentID string) error

	// DeleteSession removes every content item of the session. Idempotent.
	DeleteSession(ctx context.Context, sessionID string) error

	// ListContents enumerates stored content refs, for the reconciling sweep.
	ListContents(ctx context.Context) ([]ContentRef, error)

	// Ping verifies the medium accepts writes.
	Ping(ctx context.Context) error
}
