// Package common defines shared constants and sentinel errors used across
// client and server layers of cryptboard. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Store-level errors.
	ErrChunkConflict = errors.New("chunk conflict")

	// Crypto errors.
	ErrIntegrity = errors.New("integrity check failed")

	// Reassembly errors.
	ErrIncompleteContent = errors.New("incomplete content")
	ErrOrdering          = errors.New("chunk ordering violated")

	// Session/auth errors.
	ErrAuthentication = errors.New("authentication failed")
	ErrInvalidToken   = errors.New("invalid token")

	// Configuration errors.
	ErrChunkSizeMismatch = errors.New("chunk size mismatch")

	// Generic internal flow control.
	ErrInternal = errors.New("internal error")
)
