package handlers

import (
	"errors"
	"net"
	"net/http"

	"github.com/qopy-app/qopy/internal/logger"
	"github.com/qopy-app/qopy/pkg/models"
)

// writeDomainError maps a domain error onto the HTTP surface. Unknown errors
// become 500 with a generic detail; the specifics go to the log only.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		NotFound(w, "upload session not found")
	case errors.Is(err, models.ErrSessionExpired):
		Gone(w, "upload session has expired")
	case errors.Is(err, models.ErrInvalidSessionState):
		Conflict(w, "upload session is not accepting this operation")
	case errors.Is(err, models.ErrSessionIncomplete):
		Conflict(w, "not all chunks have been uploaded")
	case errors.Is(err, models.ErrInvalidChunkNumber):
		BadRequest(w, "chunk number out of range")
	case errors.Is(err, models.ErrInvalidChunkSize):
		BadRequest(w, "chunk body size does not match the expected size")
	case errors.Is(err, models.ErrSizeMismatch):
		UnprocessableEntity(w, "assembled content does not match the declared filesize")
	case errors.Is(err, models.ErrFileTooLarge):
		PayloadTooLarge(w, "declared filesize exceeds the configured maximum")
	case errors.Is(err, models.ErrEmptyFile):
		BadRequest(w, "content must not be empty")
	case errors.Is(err, models.ErrInvalidRetention):
		BadRequest(w, "unknown retention value")
	case errors.Is(err, models.ErrClipNotFound):
		NotFound(w, "clip not found")
	case errors.Is(err, models.ErrClipGone):
		Gone(w, "clip is no longer available")
	case errors.Is(err, models.ErrAccessDenied):
		Unauthorized(w, "invalid access code")
	case errors.Is(err, models.ErrServerBusy):
		ServiceUnavailable(w, "server is at capacity, retry later")
	case errors.Is(err, models.ErrClipIDExhausted):
		ServiceUnavailable(w, "could not allocate a clip identifier, retry later")
	default:
		logger.Error("request failed",
			logger.KeyMethod, r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyError, err,
		)
		InternalServerError(w, "internal error")
	}
}

// clientIP returns the request's client IP. The RealIP middleware has already
// folded trusted proxy headers into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
