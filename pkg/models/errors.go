package models

import "errors"

// Domain errors for upload and clip operations. Handlers map these onto HTTP
// status codes at the API boundary.
var (
	// Upload session errors
	ErrSessionNotFound     = errors.New("upload session not found")
	ErrDuplicateSession    = errors.New("upload session already exists")
	ErrInvalidSessionState = errors.New("upload session is not in a valid state for this operation")
	ErrSessionExpired      = errors.New("upload session has expired")
	ErrSessionIncomplete   = errors.New("upload session is missing chunks")

	// Chunk errors
	ErrInvalidChunkNumber = errors.New("chunk number out of range")
	ErrInvalidChunkSize   = errors.New("chunk size does not match session parameters")
	ErrSizeMismatch       = errors.New("assembled size does not match declared filesize")

	// Clip errors
	ErrClipNotFound    = errors.New("clip not found")
	ErrDuplicateClip   = errors.New("clip ID already exists")
	ErrClipGone        = errors.New("clip already consumed")
	ErrAccessDenied    = errors.New("access code mismatch")
	ErrClipIDExhausted = errors.New("could not allocate a unique clip ID")

	// Capacity errors
	ErrServerBusy = errors.New("concurrent upload limit reached")

	// Validation errors
	ErrInvalidRetention = errors.New("unknown retention value")
	ErrFileTooLarge     = errors.New("declared filesize exceeds the configured maximum")
	ErrEmptyFile        = errors.New("declared filesize must be positive")
)
