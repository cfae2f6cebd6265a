package common

// DefaultChunkSize is the chunk size all session participants must share.
// Mismatched sizes are rejected at join time.
const DefaultChunkSize = 64 * 1024

// ResumeTokenHeaderName is the HTTP header carrying the reconnect token on
// a websocket upgrade request.
const ResumeTokenHeaderName = "X-Resume-Token"
