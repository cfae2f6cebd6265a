// Package models defines server-side rows persisted by the metadata store.
package models

import "time"

// Content lifecycle states.
const (
	StatusPending  = "pending"
	StatusComplete = "complete"
)

// Session is an isolated namespace of content items, gated by a passphrase
// fingerprint. The passphrase itself is never stored.
type Session struct {
	ID           string
	Fingerprint  string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Content is one item shared within a session. TotalChunks is always
// ceil(TotalSize / chunk size). Rows stay in StatusPending until every
// declared chunk is durably stored; only the Name field may change after
// the row reaches StatusComplete.
type Content struct {
	ID          string
	SessionID   string
	ContentType string
	Name        string
	TotalChunks int
	TotalSize   int64
	IV          []byte
	Status      string
	CreatedAt   time.Time
}

// Chunk records the presence of one durably stored chunk. Checksum is the
// SHA-256 of the ciphertext bytes and backs the idempotent-write contract.
type Chunk struct {
	ContentID string
	Index     int
	Size      int
	Checksum  string
	StoredAt  time.Time
}
