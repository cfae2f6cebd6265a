package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/askarin/cryptboard/internal/common"
	"github.com/askarin/cryptboard/internal/protocol"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const joinWait = 10 * time.Second

// Handler upgrades the connection and runs the join handshake. The first
// message must be a join; a fingerprint mismatch answers with an
// unaccepted joined message and closes without touching session state.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn(ctx, "websocket upgrade failed", "error", err)
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(joinWait))
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil || msg.Type != protocol.TypeJoin {
			conn.Close()
			return
		}

		var p protocol.JoinPayload
		if err := protocolUnmarshal(msg.Payload, &p); err != nil {
			conn.Close()
			return
		}

		items, token, err := h.admit(ctx, p)
		if err != nil {
			reason := "internal error"
			switch {
			case errors.Is(err, common.ErrAuthentication):
				reason = "fingerprint mismatch"
			case errors.Is(err, common.ErrChunkSizeMismatch):
				reason = "chunk size mismatch"
			case errors.Is(err, errInvalidSessionID):
				reason = "invalid session id"
			}
			h.logger.Warn(ctx, "join rejected", "session_id", p.SessionID, "reason", reason)
			reply, _ := protocol.New(protocol.TypeJoined, protocol.JoinedPayload{Accepted: false, Reason: reason})
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteJSON(reply)
			conn.Close()
			return
		}

		metas := make([]protocol.ContentMeta, 0, len(items))
		for _, item := range items {
			metas = append(metas, contentMeta(item))
		}

		c := &client{
			hub:       h,
			conn:      conn,
			sessionID: p.SessionID,
			send:      make(chan protocol.Message, sendBufferSize),
		}
		h.add(c)

		reply, err := protocol.New(protocol.TypeJoined, protocol.JoinedPayload{
			Accepted:    true,
			ChunkSize:   h.store.ChunkSize(),
			ResumeToken: token,
			Contents:    metas,
		})
		if err != nil {
			h.remove(c)
			conn.Close()
			return
		}
		c.enqueue(reply)

		h.logger.Info(ctx, "client joined", "session_id", p.SessionID)

		// r.Context() dies when this handler returns; the pumps outlive it.
		go c.writePump()
		go c.readPump(context.Background())
	}
}

func protocolUnmarshal(raw []byte, v any) error {
	if len(raw) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(raw, v)
}
