package hub

import (
	"context"
	"encoding/json"

	"github.com/askarin/cryptboard/internal/common"
	"github.com/askarin/cryptboard/internal/protocol"
	"github.com/askarin/cryptboard/internal/server/store"
)

// dispatch handles one inbound message from an admitted client. Errors are
// local to the triggering message: a chunk conflict or missing content is
// reported to the sender without tearing down the connection.
func (h *Hub) dispatch(ctx context.Context, c *client, msg protocol.Message) {
	if err := h.store.TouchSession(ctx, c.sessionID); err != nil {
		h.logger.Warn(ctx, "failed to touch session", "session_id", c.sessionID, "error", err)
	}

	switch msg.Type {
	case protocol.TypeChunk:
		h.handleChunk(ctx, c, msg.Payload)
	case protocol.TypeRequestChunk:
		h.handleRequestChunk(ctx, c, msg.Payload)
	case protocol.TypeDeleteContent:
		h.handleDeleteContent(ctx, c, msg.Payload)
	case protocol.TypeRenameContent:
		h.handleRenameContent(ctx, c, msg.Payload)
	case protocol.TypeClearAll:
		h.handleClearAll(ctx, c)
	default:
		c.sendError(protocol.CodeBadPayload, "unknown message type: "+msg.Type)
	}
}

func (h *Hub) handleChunk(ctx context.Context, c *client, raw json.RawMessage) {
	var p protocol.ChunkPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError(protocol.CodeBadPayload, "invalid chunk payload")
		return
	}
	if !common.ValidID(p.ContentID) {
		c.sendError(protocol.CodeBadPayload, "invalid content id")
		return
	}

	content, finalized, err := h.store.PutChunk(ctx, &store.PutChunkRequest{
		SessionID:   c.sessionID,
		ContentID:   p.ContentID,
		Index:       p.Index,
		Data:        p.Data,
		TotalChunks: p.TotalChunks,
		TotalSize:   p.TotalSize,
		ContentType: p.ContentType,
		Name:        p.Name,
		IV:          p.IV,
	})
	if err != nil {
		h.logger.Warn(ctx, "chunk rejected", "content_id", p.ContentID, "index", p.Index, "error", err)
		c.sendError(errorCode(err), err.Error())
		return
	}

	ack, err := protocol.New(protocol.TypeChunkAck, protocol.ChunkAckPayload{ContentID: p.ContentID, Index: p.Index})
	if err == nil {
		c.enqueue(ack)
	}

	if finalized {
		// PutChunk only reports finalized after the metadata commit, so the
		// announcement can never precede durability.
		h.logger.Info(ctx, "content finalized", "content_id", content.ID, "chunks", content.TotalChunks)
		if msg, err := protocol.New(protocol.TypeContentAvailable, contentMeta(content)); err == nil {
			h.broadcast(c.sessionID, msg, c)
		}
	}
}

func (h *Hub) handleRequestChunk(ctx context.Context, c *client, raw json.RawMessage) {
	var p protocol.RequestChunkPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError(protocol.CodeBadPayload, "invalid request-chunk payload")
		return
	}
	if !common.ValidID(p.ContentID) {
		c.sendError(protocol.CodeBadPayload, "invalid content id")
		return
	}

	content, data, err := h.store.GetChunkData(ctx, p.ContentID, p.Index)
	if err != nil {
		c.sendError(errorCode(err), err.Error())
		return
	}
	if content.SessionID != c.sessionID {
		// content items are visible only within their owning session
		c.sendError(protocol.CodeNotFound, "not found")
		return
	}

	msg, err := protocol.New(protocol.TypeChunk, protocol.ChunkPayload{
		ContentID:   p.ContentID,
		Index:       p.Index,
		Data:        data,
		TotalChunks: content.TotalChunks,
		TotalSize:   content.TotalSize,
		ContentType: content.ContentType,
		Name:        content.Name,
		IV:          content.IV,
	})
	if err == nil {
		c.enqueue(msg)
	}
}

func (h *Hub) handleDeleteContent(ctx context.Context, c *client, raw json.RawMessage) {
	var p protocol.DeleteContentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError(protocol.CodeBadPayload, "invalid delete payload")
		return
	}
	if !common.ValidID(p.ContentID) {
		c.sendError(protocol.CodeBadPayload, "invalid content id")
		return
	}

	// Scoped to the caller's session, pending items included; content in
	// other sessions is indistinguishable from absent content.
	sessionID, err := h.store.DeleteContent(ctx, c.sessionID, p.ContentID)
	if err != nil {
		c.sendError(errorCode(err), err.Error())
		return
	}
	if sessionID == "" {
		// already gone; idempotent success, nothing to announce
		return
	}

	// deletion is durable at this point
	if msg, err := protocol.New(protocol.TypeContentRemoved, protocol.ContentRemovedPayload{ContentID: p.ContentID}); err == nil {
		h.broadcast(sessionID, msg, nil)
	}
}

func (h *Hub) handleRenameContent(ctx context.Context, c *client, raw json.RawMessage) {
	var p protocol.RenameContentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError(protocol.CodeBadPayload, "invalid rename payload")
		return
	}
	if !common.ValidID(p.ContentID) {
		c.sendError(protocol.CodeBadPayload, "invalid content id")
		return
	}

	content, err := h.store.GetContent(ctx, p.ContentID)
	if err != nil || content.SessionID != c.sessionID {
		c.sendError(protocol.CodeNotFound, "not found")
		return
	}

	if err := h.store.Rename(ctx, p.ContentID, p.Name); err != nil {
		c.sendError(errorCode(err), err.Error())
		return
	}

	content.Name = p.Name
	if msg, err := protocol.New(protocol.TypeContentAvailable, contentMeta(content)); err == nil {
		h.broadcast(c.sessionID, msg, nil)
	}
}

func (h *Hub) handleClearAll(ctx context.Context, c *client) {
	n, err := h.store.ClearSession(ctx, c.sessionID)
	if err != nil {
		c.sendError(errorCode(err), err.Error())
		return
	}

	h.logger.Info(ctx, "session cleared", "session_id", c.sessionID, "items", n)
	h.SessionCleared(c.sessionID)
}
