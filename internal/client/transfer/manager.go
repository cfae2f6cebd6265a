// Package transfer tracks in-flight uploads and downloads for the client.
//
// Uploads encrypt content, split it into chunks and emit them over the
// channel, pacing on per-chunk acknowledgements with capped-backoff
// retries. Downloads start from a content-available announcement, pull the
// missing chunks into the local cache and reassemble-then-decrypt once the
// last chunk lands.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/askarin/cryptboard/internal/chunker"
	"github.com/askarin/cryptboard/internal/client/cache"
	"github.com/askarin/cryptboard/internal/common"
	"github.com/askarin/cryptboard/internal/cryptox"
	"github.com/askarin/cryptboard/internal/logging"
	"github.com/askarin/cryptboard/internal/protocol"
	"github.com/google/uuid"
)

// Sender is the outbound half of the channel. Satisfied by *conn.Conn.
type Sender interface {
	Send(msg protocol.Message) error
}

// Content is a fully received and decrypted item, handed to OnContent.
type Content struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
}

type Options struct {
	Sender    Sender
	Cache     *cache.Cache
	Crypto    cryptox.Provider
	Key       []byte
	ChunkSize int
	Logger    logging.Logger

	// Per-chunk acknowledgement retry policy.
	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration

	// OnContent fires after a download decrypts successfully.
	OnContent func(Content)
	// OnRemoved fires after the server confirms a content removal.
	OnRemoved func(contentID string)
	// OnCleared fires after the whole session has been wiped.
	OnCleared func()
}

type ackKey struct {
	contentID string
	index     int
}

// Manager owns every transfer record and is the single consumer of inbound
// channel events.
type Manager struct {
	opts   Options
	logger logging.Logger

	mu          sync.Mutex
	records     map[string]*Record
	ivs         map[string][]byte
	acks        map[ackKey]chan struct{}
	downloading map[string]struct{} // content ids with a live request loop
}

func NewManager(opts Options) *Manager {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 10 * time.Second
	}
	return &Manager{
		opts:        opts,
		logger:      opts.Logger.With("module", "transfer"),
		records:     make(map[string]*Record),
		ivs:         make(map[string][]byte),
		acks:        make(map[ackKey]chan struct{}),
		downloading: make(map[string]struct{}),
	}
}

// Records returns a snapshot of all known transfer records.
func (m *Manager) Records() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out
}

func (m *Manager) Record(contentID string) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[contentID]
	return r, ok
}

// Cancel aborts an in-flight transfer. Completed work on the server side
// is untouched; the upload simply stops emitting chunks.
func (m *Manager) Cancel(contentID string) {
	if r, ok := m.Record(contentID); ok {
		r.Cancel()
	}
}

// Upload encrypts plaintext and streams it to the session. It returns the
// assigned content id immediately; progress is tracked on the record.
func (m *Manager) Upload(ctx context.Context, name, contentType string, plaintext []byte) (string, error) {
	iv := common.GenerateRandByteArray(cryptox.IVSize)
	ciphertext, err := m.opts.Crypto.Encrypt(m.opts.Key, iv, plaintext)
	if err != nil {
		return "", fmt.Errorf("encrypt error: %w", err)
	}

	chunks, err := chunker.Split(ciphertext, m.opts.ChunkSize)
	if err != nil {
		return "", err
	}

	contentID := uuid.NewString()
	rec := newRecord(contentID, DirectionUpload, name, contentType, len(chunks), int64(len(ciphertext)))

	m.mu.Lock()
	m.records[contentID] = rec
	m.ivs[contentID] = iv
	m.mu.Unlock()

	go m.runUpload(ctx, rec, chunks, iv)
	return contentID, nil
}

func (m *Manager) runUpload(ctx context.Context, rec *Record, chunks []chunker.Chunk, iv []byte) {
	rec.markActive()

	for i, ch := range chunks {
		if err := m.sendChunkAcked(ctx, rec, ch, iv); err != nil {
			if errors.Is(err, context.Canceled) || rec.State() == StateCancelled {
				rec.Cancel()
				return
			}
			rec.fail(err)
			m.logger.Error(ctx, "upload failed", "content_id", rec.ContentID, "index", ch.Index, "error", err)
			return
		}
		rec.advance(i + 1)
	}
	rec.complete()
	m.logger.Info(ctx, "upload complete", "content_id", rec.ContentID, "chunks", rec.TotalChunks)
}

// sendChunkAcked emits one chunk and waits for its acknowledgement,
// retrying with doubling backoff. Cancellation is only observed here, at
// chunk boundaries, so a committed chunk is never half-abandoned.
func (m *Manager) sendChunkAcked(ctx context.Context, rec *Record, ch chunker.Chunk, iv []byte) error {
	key := ackKey{contentID: rec.ContentID, index: ch.Index}
	ackCh := make(chan struct{}, 1)

	m.mu.Lock()
	m.acks[key] = ackCh
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.acks, key)
		m.mu.Unlock()
	}()

	msg, err := protocol.New(protocol.TypeChunk, protocol.ChunkPayload{
		ContentID:   rec.ContentID,
		Index:       ch.Index,
		Data:        ch.Data,
		TotalChunks: rec.TotalChunks,
		TotalSize:   rec.TotalSize,
		ContentType: rec.ContentType,
		Name:        rec.Name,
		IV:          iv,
	})
	if err != nil {
		return err
	}

	wait := m.opts.RetryBase
	for attempt := 0; attempt <= m.opts.MaxRetries; attempt++ {
		if err := m.opts.Sender.Send(msg); err != nil {
			return err
		}

		select {
		case <-ackCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-rec.cancelled():
			return context.Canceled
		case <-time.After(wait):
			m.logger.Warn(ctx, "chunk ack timeout, retrying",
				"content_id", rec.ContentID, "index", ch.Index, "attempt", attempt+1)
		}

		wait *= 2
		if wait > m.opts.RetryMax {
			wait = m.opts.RetryMax
		}
	}
	return fmt.Errorf("chunk %d: no acknowledgement after %d attempts", ch.Index, m.opts.MaxRetries+1)
}

// Sync starts downloads for an announced content index, typically the one
// delivered with the initial join handshake.
func (m *Manager) Sync(ctx context.Context, metas []protocol.ContentMeta) {
	for _, meta := range metas {
		m.startDownload(ctx, meta)
	}
}

// Run consumes the inbound event stream until the channel closes or ctx is
// cancelled. It is the only goroutine that touches download assembly.
func (m *Manager) Run(ctx context.Context, events <-chan protocol.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			m.handle(ctx, msg)
		}
	}
}

func (m *Manager) handle(ctx context.Context, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeChunkAck:
		var p protocol.ChunkAckPayload
		if json.Unmarshal(msg.Payload, &p) != nil {
			return
		}
		m.mu.Lock()
		ch := m.acks[ackKey{contentID: p.ContentID, index: p.Index}]
		m.mu.Unlock()
		if ch != nil {
			select {
			case ch <- struct{}{}:
			default:
			}
		}

	case protocol.TypeChunk:
		var p protocol.ChunkPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		m.handleChunk(ctx, p)

	case protocol.TypeContentAvailable:
		var meta protocol.ContentMeta
		if err := json.Unmarshal(msg.Payload, &meta); err != nil {
			return
		}
		m.startDownload(ctx, meta)

	case protocol.TypeJoined:
		// Re-delivered after a reconnect; resynchronize the content index.
		var p protocol.JoinedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		for _, meta := range p.Contents {
			m.startDownload(ctx, meta)
		}

	case protocol.TypeContentRemoved:
		var p protocol.ContentRemovedPayload
		if json.Unmarshal(msg.Payload, &p) != nil {
			return
		}
		m.dropContent(ctx, p.ContentID)

	case protocol.TypeSessionCleared:
		m.clearAll(ctx)

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if json.Unmarshal(msg.Payload, &p) != nil {
			return
		}
		m.logger.Warn(ctx, "server error", "code", p.Code, "message", p.Message)
	}
}

// startDownload registers a download record for the announced content and
// spawns a request loop for whatever the cache does not already hold.
// Announcements for content we uploaded ourselves are ignored; a rename
// re-announce refreshes the stored name. A re-announce for a stalled or
// failed download re-computes the missing indices and requests them again,
// which is how a rejoin resync revives transfers interrupted by an outage.
func (m *Manager) startDownload(ctx context.Context, meta protocol.ContentMeta) {
	m.mu.Lock()
	rec, known := m.records[meta.ContentID]
	if known {
		switch {
		case rec.State() == StateComplete:
			// rename re-announce; refresh the name only
			rec.Name = meta.Name
			m.mu.Unlock()
			return
		case rec.Direction == DirectionUpload:
			m.mu.Unlock()
			return
		case rec.State() == StateFailed || rec.State() == StateCancelled:
			// restart from whatever the cache still holds
			delete(m.records, meta.ContentID)
			delete(m.ivs, meta.ContentID)
			known = false
		default:
			if _, busy := m.downloading[meta.ContentID]; busy {
				// the request loop is already retrying these indices
				m.mu.Unlock()
				return
			}
		}
	}
	if !known {
		rec = newRecord(meta.ContentID, DirectionDownload, meta.Name, meta.ContentType, meta.TotalChunks, meta.TotalSize)
		m.records[meta.ContentID] = rec
		m.ivs[meta.ContentID] = meta.IV
	}
	m.downloading[meta.ContentID] = struct{}{}
	m.mu.Unlock()

	if !known {
		m.opts.Cache.Pin(meta.ContentID)
	}
	rec.markActive()

	missing, err := m.opts.Cache.MissingIndices(meta.ContentID, meta.TotalChunks)
	if err != nil {
		m.requestLoopDone(meta.ContentID)
		m.failDownload(rec, err)
		return
	}
	rec.advance(meta.TotalChunks - len(missing))
	if len(missing) == 0 {
		m.requestLoopDone(meta.ContentID)
		m.finishDownload(ctx, rec)
		return
	}

	go m.runDownload(ctx, rec, missing)
	m.logger.Info(ctx, "download started",
		"content_id", meta.ContentID, "missing", len(missing), "total", meta.TotalChunks)
}

func (m *Manager) requestLoopDone(contentID string) {
	m.mu.Lock()
	delete(m.downloading, contentID)
	m.mu.Unlock()
}

// failDownload marks the record failed and releases its cache pin, once.
// Cached chunks stay so a later re-announce does not re-fetch everything.
func (m *Manager) failDownload(rec *Record, err error) {
	if rec.fail(err) {
		m.opts.Cache.Unpin(rec.ContentID)
	}
}

// runDownload requests each missing chunk and waits for it to land in the
// cache, retrying with doubling backoff. An exhausted retry budget fails
// the record; cancellation is observed at chunk boundaries.
func (m *Manager) runDownload(ctx context.Context, rec *Record, missing []int) {
	defer m.requestLoopDone(rec.ContentID)

	for _, idx := range missing {
		if err := m.requestChunkAcked(ctx, rec, idx); err != nil {
			if errors.Is(err, context.Canceled) || rec.State() == StateCancelled {
				rec.Cancel()
				return
			}
			m.failDownload(rec, err)
			m.logger.Error(ctx, "download failed",
				"content_id", rec.ContentID, "index", idx, "error", err)
			return
		}
	}
}

// requestChunkAcked emits one request-chunk and waits for the chunk itself
// to arrive and be cached, mirroring sendChunkAcked's retry policy.
func (m *Manager) requestChunkAcked(ctx context.Context, rec *Record, index int) error {
	if _, err := m.opts.Cache.GetChunk(rec.ContentID, index); err == nil {
		return nil
	}

	key := ackKey{contentID: rec.ContentID, index: index}
	ackCh := make(chan struct{}, 1)

	m.mu.Lock()
	m.acks[key] = ackCh
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.acks, key)
		m.mu.Unlock()
	}()

	msg, err := protocol.New(protocol.TypeRequestChunk, protocol.RequestChunkPayload{
		ContentID: rec.ContentID,
		Index:     index,
	})
	if err != nil {
		return err
	}

	wait := m.opts.RetryBase
	for attempt := 0; attempt <= m.opts.MaxRetries; attempt++ {
		if err := m.opts.Sender.Send(msg); err != nil {
			return err
		}

		select {
		case <-ackCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-rec.cancelled():
			return context.Canceled
		case <-time.After(wait):
			m.logger.Warn(ctx, "chunk request timeout, retrying",
				"content_id", rec.ContentID, "index", index, "attempt", attempt+1)
		}

		wait *= 2
		if wait > m.opts.RetryMax {
			wait = m.opts.RetryMax
		}
	}
	return fmt.Errorf("chunk %d: no data after %d requests", index, m.opts.MaxRetries+1)
}

func (m *Manager) handleChunk(ctx context.Context, p protocol.ChunkPayload) {
	m.mu.Lock()
	rec, ok := m.records[p.ContentID]
	if !ok {
		// Chunk for an unannounced content; record it from the payload's
		// own metadata.
		rec = newRecord(p.ContentID, DirectionDownload, p.Name, p.ContentType, p.TotalChunks, p.TotalSize)
		m.records[p.ContentID] = rec
		m.ivs[p.ContentID] = p.IV
		m.opts.Cache.Pin(p.ContentID)
		rec.markActive()
	}
	m.mu.Unlock()

	if rec.Direction != DirectionDownload || rec.State() == StateCancelled {
		return
	}

	// A hostile or confused peer must not grow the cache past the declared
	// totals; out-of-range indices are dropped before they touch storage.
	if p.Index < 0 || p.Index >= rec.TotalChunks {
		m.logger.Warn(ctx, "chunk index out of range",
			"content_id", p.ContentID, "index", p.Index, "total", rec.TotalChunks)
		return
	}

	if err := m.opts.Cache.PutChunk(p.ContentID, p.Index, rec.TotalChunks, p.Data); err != nil {
		m.failDownload(rec, err)
		m.logger.Error(ctx, "cache write failed", "content_id", p.ContentID, "error", err)
		return
	}

	// Release the request loop waiting on this index, if any.
	m.mu.Lock()
	ch := m.acks[ackKey{contentID: p.ContentID, index: p.Index}]
	m.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	missing, err := m.opts.Cache.MissingIndices(p.ContentID, rec.TotalChunks)
	if err != nil {
		m.failDownload(rec, err)
		return
	}
	rec.advance(rec.TotalChunks - len(missing))
	if len(missing) == 0 {
		m.finishDownload(ctx, rec)
	}
}

// finishDownload reassembles the ciphertext from the cache, decrypts and
// delivers it. A failed authentication tag marks the record failed; the
// cached chunks stay so a later retry does not re-fetch everything.
func (m *Manager) finishDownload(ctx context.Context, rec *Record) {
	chunks, err := m.opts.Cache.GetAll(rec.ContentID, rec.TotalChunks)
	if err != nil {
		m.failDownload(rec, err)
		return
	}
	ciphertext, err := chunker.Reassemble(chunks)
	if err != nil {
		m.failDownload(rec, err)
		return
	}

	m.mu.Lock()
	iv := m.ivs[rec.ContentID]
	m.mu.Unlock()

	plaintext, err := m.opts.Crypto.Decrypt(m.opts.Key, iv, ciphertext)
	if err != nil {
		m.failDownload(rec, err)
		m.logger.Error(ctx, "decrypt failed", "content_id", rec.ContentID, "error", err)
		return
	}

	if !rec.complete() {
		return
	}
	m.opts.Cache.Unpin(rec.ContentID)
	m.logger.Info(ctx, "download complete", "content_id", rec.ContentID, "bytes", len(plaintext))

	if m.opts.OnContent != nil {
		m.opts.OnContent(Content{
			ID:          rec.ContentID,
			Name:        rec.Name,
			ContentType: rec.ContentType,
			Data:        plaintext,
		})
	}
}

func (m *Manager) dropContent(ctx context.Context, contentID string) {
	m.mu.Lock()
	rec := m.records[contentID]
	delete(m.records, contentID)
	delete(m.ivs, contentID)
	m.mu.Unlock()

	if rec != nil {
		rec.Cancel()
	}
	if err := m.opts.Cache.DeleteContent(contentID); err != nil && !errors.Is(err, common.ErrNotFound) {
		m.logger.Warn(ctx, "cache delete failed", "content_id", contentID, "error", err)
	}
	if m.opts.OnRemoved != nil {
		m.opts.OnRemoved(contentID)
	}
}

func (m *Manager) clearAll(ctx context.Context) {
	m.mu.Lock()
	records := m.records
	m.records = make(map[string]*Record)
	m.ivs = make(map[string][]byte)
	m.mu.Unlock()

	for _, rec := range records {
		rec.Cancel()
	}
	if err := m.opts.Cache.Clear(); err != nil {
		m.logger.Warn(ctx, "cache clear failed", "error", err)
	}
	m.logger.Info(ctx, "session cleared", "dropped", len(records))
	if m.opts.OnCleared != nil {
		m.opts.OnCleared()
	}
}

// Delete asks the server to remove a content item. The local drop happens
// when the content-removed confirmation arrives.
func (m *Manager) Delete(contentID string) error {
	msg, err := protocol.New(protocol.TypeDeleteContent, protocol.DeleteContentPayload{ContentID: contentID})
	if err != nil {
		return err
	}
	return m.opts.Sender.Send(msg)
}

// Rename asks the server to relabel a content item.
func (m *Manager) Rename(contentID, name string) error {
	msg, err := protocol.New(protocol.TypeRenameContent, protocol.RenameContentPayload{ContentID: contentID, Name: name})
	if err != nil {
		return err
	}
	return m.opts.Sender.Send(msg)
}

// Clear asks the server to wipe the whole session.
func (m *Manager) Clear() error {
	msg, err := protocol.New(protocol.TypeClearAll, struct{}{})
	if err != nil {
		return err
	}
	return m.opts.Sender.Send(msg)
}
