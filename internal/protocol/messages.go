// Package protocol defines the JSON message format exchanged over the
// websocket channel between clients and the server. Chunk bytes travel
// base64-encoded inside the payload.
package protocol

import (
	"encoding/json"
	"time"
)

// Message is the envelope for all channel traffic.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message types. Client-to-server: join, chunk, request-chunk,
// delete-content, rename-content, clear-all. Server-to-client: joined,
// chunk-ack, chunk (answering request-chunk), content-available,
// content-removed, session-cleared, error.
const (
	TypeJoin             = "join"
	TypeJoined           = "joined"
	TypeChunk            = "chunk"
	TypeChunkAck         = "chunk-ack"
	TypeContentAvailable = "content-available"
	TypeRequestChunk     = "request-chunk"
	TypeDeleteContent    = "delete-content"
	TypeRenameContent    = "rename-content"
	TypeClearAll         = "clear-all"
	TypeContentRemoved   = "content-removed"
	TypeSessionCleared   = "session-cleared"
	TypeError            = "error"
)

// New marshals payload and wraps it in a Message of the given type.
func New(msgType string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Payload: raw}, nil
}

// ContentMeta describes a finalized content item as announced to session
// members.
type ContentMeta struct {
	ContentID   string    `json:"content_id"`
	ContentType string    `json:"content_type"`
	Name        string    `json:"name,omitempty"`
	TotalChunks int       `json:"total_chunks"`
	TotalSize   int64     `json:"total_size"`
	IV          []byte    `json:"iv"`
	CreatedAt   time.Time `json:"created_at"`
}

type JoinPayload struct {
	SessionID   string `json:"session_id"`
	Fingerprint string `json:"fingerprint"`
	ChunkSize   int    `json:"chunk_size"`
	ResumeToken string `json:"resume_token,omitempty"`
}

type JoinedPayload struct {
	Accepted    bool          `json:"accepted"`
	Reason      string        `json:"reason,omitempty"`
	ChunkSize   int           `json:"chunk_size"`
	ResumeToken string        `json:"resume_token,omitempty"`
	Contents    []ContentMeta `json:"contents,omitempty"`
}

type ChunkPayload struct {
	ContentID   string `json:"content_id"`
	Index       int    `json:"index"`
	Data        []byte `json:"data"`
	TotalChunks int    `json:"total_chunks"`
	TotalSize   int64  `json:"total_size"`
	ContentType string `json:"content_type,omitempty"`
	Name        string `json:"name,omitempty"`
	IV          []byte `json:"iv,omitempty"`
}

type ChunkAckPayload struct {
	ContentID string `json:"content_id"`
	Index     int    `json:"index"`
}

type RequestChunkPayload struct {
	ContentID string `json:"content_id"`
	Index     int    `json:"index"`
}

type DeleteContentPayload struct {
	ContentID string `json:"content_id"`
}

type RenameContentPayload struct {
	ContentID string `json:"content_id"`
	Name      string `json:"name"`
}

type ContentRemovedPayload struct {
	ContentID string `json:"content_id"`
}

type SessionClearedPayload struct {
	SessionID string `json:"session_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in ErrorPayload.
const (
	CodeAuthentication = "authentication"
	CodeChunkConflict  = "chunk_conflict"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal"
	CodeBadPayload     = "bad_payload"
)
