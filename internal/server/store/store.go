// Package store implements the server-side chunk store: idempotent chunk
// writes, atomic finalize, crash-consistent reads and deletion.
//
// Chunk bytes and metadata are written in two steps, bytes first. A crash
// between the two leaves the content pending and invisible to readers; the
// startup sweep reconciles any orphaned bytes. Lock scope is always a
// single content id's write path, never a whole session.
package store

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/askarin/cryptboard/internal/chunker"
	"github.com/askarin/cryptboard/internal/common"
	"github.com/askarin/cryptboard/internal/dbx"
	"github.com/askarin/cryptboard/internal/logging"
	"github.com/askarin/cryptboard/internal/server/blob"
	"github.com/askarin/cryptboard/internal/server/models"
	"github.com/askarin/cryptboard/internal/server/repositories/repomanager"
)

// Service is the chunk store. Construct once and share; all methods are
// safe for concurrent use.
type Service struct {
	repos      repomanager.RepositoryManager
	blob       blob.Store
	logger     logging.Logger
	chunkSize  int
	pendingTTL time.Duration
	sessionTTL time.Duration

	locks sync.Map // contentID -> *sync.Mutex
}

// Options bound the store's background behavior.
type Options struct {
	ChunkSize  int
	PendingTTL time.Duration
	SessionTTL time.Duration
}

func NewService(repos repomanager.RepositoryManager, b blob.Store, l logging.Logger, opts Options) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = common.DefaultChunkSize
	}
	return &Service{
		repos:      repos,
		blob:       b,
		logger:     l.With("module", "store"),
		chunkSize:  opts.ChunkSize,
		pendingTTL: opts.PendingTTL,
		sessionTTL: opts.SessionTTL,
	}
}

// ChunkSize returns the configured chunk size, advertised to clients at join.
func (s *Service) ChunkSize() int {
	return s.chunkSize
}

func (s *Service) contentLock(contentID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(contentID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// JoinSession admits a client into a session. The first join with a given
// session id creates the session and records the fingerprint; later joins
// must present the same fingerprint or fail with common.ErrAuthentication.
// Returns the session and its finalized content items.
func (s *Service) JoinSession(ctx context.Context, sessionID, fingerprint string) (*models.Session, []*models.Content, error) {
	repo := s.repos.Sessions(s.repos.DB())
	now := time.Now().UTC()

	sess, err := repo.Get(ctx, sessionID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		sess = &models.Session{ID: sessionID, Fingerprint: fingerprint, CreatedAt: now, LastActivity: now}
		if err := repo.Create(ctx, sess); err != nil {
			// Lost the race against a concurrent first join: the session
			// row now exists, so fall back to the stored fingerprint.
			existing, gerr := repo.Get(ctx, sessionID)
			if gerr != nil {
				return nil, nil, err
			}
			if subtle.ConstantTimeCompare([]byte(existing.Fingerprint), []byte(fingerprint)) != 1 {
				return nil, nil, common.ErrAuthentication
			}
			sess = existing
		}
	case err != nil:
		return nil, nil, err
	default:
		if subtle.ConstantTimeCompare([]byte(sess.Fingerprint), []byte(fingerprint)) != 1 {
			return nil, nil, common.ErrAuthentication
		}
		if err := repo.Touch(ctx, sessionID, now); err != nil {
			return nil, nil, err
		}
	}

	items, err := s.repos.Contents(s.repos.DB()).ListBySession(ctx, sessionID, true)
	if err != nil {
		return nil, nil, err
	}
	return sess, items, nil
}

// TouchSession refreshes the session's last-activity timestamp.
func (s *Service) TouchSession(ctx context.Context, sessionID string) error {
	return s.repos.Sessions(s.repos.DB()).Touch(ctx, sessionID, time.Now().UTC())
}

// PutChunkRequest carries one inbound chunk with its declared totals.
type PutChunkRequest struct {
	SessionID   string
	ContentID   string
	Index       int
	Data        []byte
	TotalChunks int
	TotalSize   int64
	ContentType string
	Name        string
	IV          []byte
}

func (s *Service) validate(req *PutChunkRequest) error {
	if req.TotalChunks != chunker.Count(req.TotalSize, s.chunkSize) {
		return fmt.Errorf("declared total_chunks %d does not match size %d at chunk size %d",
			req.TotalChunks, req.TotalSize, s.chunkSize)
	}
	if req.Index < 0 || req.Index >= req.TotalChunks {
		return fmt.Errorf("chunk index %d out of range [0,%d)", req.Index, req.TotalChunks)
	}

	expected := s.chunkSize
	if req.Index == req.TotalChunks-1 {
		expected = int(req.TotalSize - int64(req.TotalChunks-1)*int64(s.chunkSize))
	}
	if len(req.Data) != expected {
		return fmt.Errorf("chunk %d size %d, expected %d", req.Index, len(req.Data), expected)
	}
	return nil
}

// PutChunk persists one chunk. Idempotent on (contentID, index): an
// identical re-write succeeds silently, differing bytes at the same index
// fail with common.ErrChunkConflict and the stored bytes are retained.
// Returns the content row and whether this write finalized it.
func (s *Service) PutChunk(ctx context.Context, req *PutChunkRequest) (*models.Content, bool, error) {
	if err := s.validate(req); err != nil {
		return nil, false, err
	}

	mu := s.contentLock(req.ContentID)
	mu.Lock()
	defer mu.Unlock()

	repo := s.repos.Contents(s.repos.DB())

	// A content id can only ever be written to by its owning session.
	// Cross-session ids are indistinguishable from unknown ones.
	if row, err := repo.Get(ctx, req.ContentID); err == nil {
		if row.SessionID != req.SessionID {
			return nil, false, fmt.Errorf("%w: content %s", common.ErrNotFound, req.ContentID)
		}
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}

	sum := sha256.Sum256(req.Data)
	checksum := hex.EncodeToString(sum[:])

	existing, err := repo.GetChunk(ctx, req.ContentID, req.Index)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}
	if existing != nil {
		if existing.Checksum != checksum {
			return nil, false, fmt.Errorf("%w: content %s index %d", common.ErrChunkConflict, req.ContentID, req.Index)
		}
		content, err := repo.Get(ctx, req.ContentID)
		if err != nil {
			return nil, false, err
		}
		return content, false, nil
	}

	// Bytes first, metadata second. A crash in between leaves the content
	// pending and the orphaned bytes are reclaimed by Sweep.
	if err := s.blob.Put(ctx, req.SessionID, req.ContentID, req.Index, req.Data); err != nil {
		return nil, false, err
	}

	var content *models.Content
	var finalized bool

	err = dbx.WithTx(ctx, s.repos.DB(), nil, func(ctx context.Context, tx dbx.DBTX) error {
		txRepo := s.repos.Contents(tx)

		row := &models.Content{
			ID:          req.ContentID,
			SessionID:   req.SessionID,
			ContentType: req.ContentType,
			Name:        req.Name,
			TotalChunks: req.TotalChunks,
			TotalSize:   req.TotalSize,
			IV:          req.IV,
			Status:      models.StatusPending,
			CreatedAt:   time.Now().UTC(),
		}
		if err := txRepo.CreateIfAbsent(ctx, row); err != nil {
			return err
		}

		stored, err := txRepo.Get(ctx, req.ContentID)
		if err != nil {
			return err
		}
		if stored.SessionID != req.SessionID {
			return fmt.Errorf("%w: content %s", common.ErrNotFound, req.ContentID)
		}
		if stored.TotalChunks != req.TotalChunks || stored.TotalSize != req.TotalSize {
			return fmt.Errorf("%w: declared totals differ from content %s", common.ErrChunkConflict, req.ContentID)
		}
		content = stored

		if err := txRepo.InsertChunk(ctx, &models.Chunk{
			ContentID: req.ContentID,
			Index:     req.Index,
			Size:      len(req.Data),
			Checksum:  checksum,
			StoredAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}

		// Presence count and finalize share the transaction, so the count
		// can never be stale relative to the insert.
		n, err := txRepo.CountChunks(ctx, req.ContentID)
		if err != nil {
			return err
		}
		if n == stored.TotalChunks && stored.Status == models.StatusPending {
			if err := txRepo.MarkComplete(ctx, req.ContentID); err != nil {
				return err
			}
			content.Status = models.StatusComplete
			finalized = true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return content, finalized, nil
}

// GetContent returns the content row, or common.ErrNotFound when the item
// does not exist or is not yet finalized. Pending items are never readable.
func (s *Service) GetContent(ctx context.Context, contentID string) (*models.Content, error) {
	content, err := s.repos.Contents(s.repos.DB()).Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if content.Status != models.StatusComplete {
		return nil, common.ErrNotFound
	}
	return content, nil
}

// GetChunkData returns one chunk of a finalized content item.
func (s *Service) GetChunkData(ctx context.Context, contentID string, index int) (*models.Content, []byte, error) {
	content, err := s.GetContent(ctx, contentID)
	if err != nil {
		return nil, nil, err
	}

	row, err := s.repos.Contents(s.repos.DB()).GetChunk(ctx, contentID, index)
	if err != nil {
		return nil, nil, err
	}

	data, err := s.blob.Get(ctx, content.SessionID, contentID, index)
	if err != nil {
		return nil, nil, err
	}
	if verify := sha256.Sum256(data); hex.EncodeToString(verify[:]) != row.Checksum {
		return nil, nil, fmt.Errorf("%w: stored chunk %s/%d corrupt", common.ErrIntegrity, contentID, index)
	}
	return content, data, nil
}

// StreamContent invokes fn for every chunk of a finalized content item in
// index order, verifying each chunk against its recorded checksum.
func (s *Service) StreamContent(ctx context.Context, contentID string, fn func(index int, data []byte) error) error {
	content, err := s.GetContent(ctx, contentID)
	if err != nil {
		return err
	}

	rows, err := s.repos.Contents(s.repos.DB()).ListChunks(ctx, contentID)
	if err != nil {
		return err
	}

	for _, row := range rows {
		data, err := s.blob.Get(ctx, content.SessionID, contentID, row.Index)
		if err != nil {
			return err
		}
		if verify := sha256.Sum256(data); hex.EncodeToString(verify[:]) != row.Checksum {
			return fmt.Errorf("%w: stored chunk %s/%d corrupt", common.ErrIntegrity, contentID, row.Index)
		}
		if err := fn(row.Index, data); err != nil {
			return err
		}
	}
	return nil
}

// ListContents returns the session's finalized content items.
func (s *Service) ListContents(ctx context.Context, sessionID string) ([]*models.Content, error) {
	return s.repos.Contents(s.repos.DB()).ListBySession(ctx, sessionID, true)
}

// Rename updates the display name of a finalized content item, the only
// permitted post-finalize mutation.
func (s *Service) Rename(ctx context.Context, contentID, name string) error {
	if _, err := s.GetContent(ctx, contentID); err != nil {
		return err
	}
	return s.repos.Contents(s.repos.DB()).Rename(ctx, contentID, name)
}

// DeleteContent removes the metadata row first and the chunk bytes second,
// so an interruption can orphan bytes (reclaimed by Sweep) but never leave
// metadata pointing at missing chunks. Safe to retry; a second call finds
// nothing and reports success with an empty session id.
//
// A non-empty sessionID scopes the deletion: content owned by a different
// session is reported as absent. Internal callers (GC, ClearSession) pass
// "" to delete regardless of owner.
func (s *Service) DeleteContent(ctx context.Context, sessionID, contentID string) (string, error) {
	mu := s.contentLock(contentID)
	mu.Lock()
	defer mu.Unlock()

	repo := s.repos.Contents(s.repos.DB())
	content, err := repo.Get(ctx, contentID)
	if errors.Is(err, common.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if sessionID != "" && content.SessionID != sessionID {
		return "", fmt.Errorf("%w: content %s", common.ErrNotFound, contentID)
	}

	if err := repo.Delete(ctx, contentID); err != nil {
		return "", err
	}
	if err := s.blob.DeleteContent(ctx, content.SessionID, contentID); err != nil {
		return "", err
	}
	return content.SessionID, nil
}

// ClearSession durably deletes every content item in the session and the
// session row itself. Returns the number of items removed. The caller must
// broadcast session-cleared only after this returns.
func (s *Service) ClearSession(ctx context.Context, sessionID string) (int, error) {
	items, err := s.repos.Contents(s.repos.DB()).ListBySession(ctx, sessionID, false)
	if err != nil {
		return 0, err
	}

	for _, item := range items {
		if _, err := s.DeleteContent(ctx, "", item.ID); err != nil {
			return 0, err
		}
	}

	if err := s.blob.DeleteSession(ctx, sessionID); err != nil {
		return 0, err
	}
	if err := s.repos.Sessions(s.repos.DB()).Delete(ctx, sessionID); err != nil {
		return 0, err
	}
	return len(items), nil
}

// Ping reports whether both the metadata store and the blob medium are
// reachable and writable.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repos.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("metadata store unreachable: %w", err)
	}
	return s.blob.Ping(ctx)
}
