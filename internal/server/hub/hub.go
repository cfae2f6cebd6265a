// Package hub is the server side of the sync coordinator: it tracks which
// clients belong to which session, validates fingerprints at join, and
// broadcasts content availability with the ordering guarantees the store
// provides (nothing is announced before it is durable).
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/askarin/cryptboard/internal/common"
	"github.com/askarin/cryptboard/internal/logging"
	"github.com/askarin/cryptboard/internal/protocol"
	"github.com/askarin/cryptboard/internal/server/auth"
	"github.com/askarin/cryptboard/internal/server/models"
	"github.com/askarin/cryptboard/internal/server/store"
)

const sendBufferSize = 64

// errInvalidSessionID rejects join requests whose session id is unusable
// as a storage key.
var errInvalidSessionID = errors.New("invalid session id")

type Hub struct {
	store    *store.Service
	logger   logging.Logger
	secret   []byte
	tokenTTL time.Duration

	mu      sync.RWMutex
	members map[string]map[*client]struct{}
}

func New(s *store.Service, l logging.Logger, secret string, tokenTTL time.Duration) *Hub {
	return &Hub{
		store:    s,
		logger:   l.With("module", "hub"),
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		members:  make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) maxMessageSize() int64 {
	// base64-encoded chunk plus envelope overhead
	return int64(h.store.ChunkSize())*2 + 64*1024
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.members[c.sessionID]
	if !ok {
		group = make(map[*client]struct{})
		h.members[c.sessionID] = group
	}
	group[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.members[c.sessionID]
	if !ok {
		return
	}
	if _, member := group[c]; !member {
		return
	}
	delete(group, c)
	close(c.send)
	if len(group) == 0 {
		delete(h.members, c.sessionID)
	}
}

// broadcast queues msg for every member of the session, optionally skipping
// one client (the originator).
func (h *Hub) broadcast(sessionID string, msg protocol.Message, except *client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.members[sessionID] {
		if c == except {
			continue
		}
		c.enqueue(msg)
	}
}

// SessionCleared broadcasts a session-cleared event. The store must have
// confirmed deletion before this is called.
func (h *Hub) SessionCleared(sessionID string) {
	msg, err := protocol.New(protocol.TypeSessionCleared, protocol.SessionClearedPayload{SessionID: sessionID})
	if err != nil {
		return
	}
	h.broadcast(sessionID, msg, nil)
}

func contentMeta(c *models.Content) protocol.ContentMeta {
	return protocol.ContentMeta{
		ContentID:   c.ID,
		ContentType: c.ContentType,
		Name:        c.Name,
		TotalChunks: c.TotalChunks,
		TotalSize:   c.TotalSize,
		IV:          c.IV,
		CreatedAt:   c.CreatedAt,
	}
}

func (c *client) sendError(code, message string) {
	msg, err := protocol.New(protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, common.ErrChunkConflict):
		return protocol.CodeChunkConflict
	case errors.Is(err, common.ErrNotFound):
		return protocol.CodeNotFound
	case errors.Is(err, common.ErrAuthentication):
		return protocol.CodeAuthentication
	default:
		return protocol.CodeInternal
	}
}

// admit validates a join request and returns the session's current finalized
// content index. A valid resume token skips the fingerprint check; otherwise
// the fingerprint must match the session's stored one.
func (h *Hub) admit(ctx context.Context, p protocol.JoinPayload) ([]*models.Content, string, error) {
	if !common.ValidID(p.SessionID) {
		return nil, "", errInvalidSessionID
	}
	if p.ChunkSize != 0 && p.ChunkSize != h.store.ChunkSize() {
		return nil, "", common.ErrChunkSizeMismatch
	}

	if p.ResumeToken != "" {
		sessionID, err := auth.GetSessionIDFromToken(p.ResumeToken, h.secret)
		if err == nil && sessionID == p.SessionID {
			items, err := h.store.ListContents(ctx, p.SessionID)
			if err != nil {
				return nil, "", err
			}
			if err := h.store.TouchSession(ctx, p.SessionID); err != nil {
				return nil, "", err
			}
			return items, p.ResumeToken, nil
		}
		// fall through to the fingerprint check
	}

	_, items, err := h.store.JoinSession(ctx, p.SessionID, p.Fingerprint)
	if err != nil {
		return nil, "", err
	}

	token, err := auth.GenerateToken(p.SessionID, h.secret, h.tokenTTL)
	if err != nil {
		return nil, "", err
	}
	return items, token, nil
}
