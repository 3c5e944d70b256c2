package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/qopy-app/qopy/internal/logger"
	"github.com/qopy-app/qopy/pkg/clip"
	"github.com/qopy-app/qopy/pkg/guard"
	"github.com/qopy-app/qopy/pkg/models"
	"github.com/qopy-app/qopy/pkg/storage"
)

// FileHandler serves the file-clip download endpoints.
type FileHandler struct {
	clips *clip.Service
	guard *guard.Guard
}

// NewFileHandler creates a file handler.
func NewFileHandler(clips *clip.Service, g *guard.Guard) *FileHandler {
	return &FileHandler{clips: clips, guard: g}
}

func (h *FileHandler) lookupAllowed(w http.ResponseWriter, r *http.Request, ip string) bool {
	if !h.guard.CheckLookup(ip) {
		TooManyRequests(w, 0, "too many failed lookups, try again later")
		return false
	}
	if !h.guard.Allow(ip, guard.BucketDownload) {
		TooManyRequests(w, h.guard.RetryAfter(ip, guard.BucketDownload), "download rate limit exceeded")
		return false
	}
	return true
}

// Info handles GET /api/file/{clipId}/info. It only answers for file clips.
func (h *FileHandler) Info(w http.ResponseWriter, r *http.Request) {
	clipID := strings.ToUpper(chi.URLParam(r, "clipId"))
	ip := clientIP(r)
	if !h.lookupAllowed(w, r, ip) {
		return
	}
	if !storage.ValidClipID(clipID) {
		h.guard.RecordMiss(ip, clipID)
		NotFound(w, "clip not found")
		return
	}

	info, err := h.clips.GetInfo(r.Context(), clipID)
	if err != nil {
		if errors.Is(err, models.ErrClipNotFound) {
			h.guard.RecordMiss(ip, clipID)
		}
		writeDomainError(w, r, err)
		return
	}
	if info.ContentType != models.ContentTypeFile {
		h.guard.RecordMiss(ip, clipID)
		NotFound(w, "clip not found")
		return
	}

	h.guard.RecordHit(ip)
	WriteJSONOK(w, info)
}

// Download handles POST /api/file/{clipId}: authenticated file download with
// attachment headers.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	clipID := strings.ToUpper(chi.URLParam(r, "clipId"))
	ip := clientIP(r)
	if !h.lookupAllowed(w, r, ip) {
		return
	}
	if !storage.ValidClipID(clipID) {
		h.guard.RecordMiss(ip, clipID)
		NotFound(w, "clip not found")
		return
	}

	var req fetchRequest
	if r.ContentLength > 0 {
		if err := decodeJSONBody(w, r, &req, maxFetchBody); err != nil {
			BadRequest(w, err.Error())
			return
		}
	}

	content, err := h.clips.Get(r.Context(), clipID, req.AccessCode)
	if err != nil {
		if errors.Is(err, models.ErrClipNotFound) || errors.Is(err, models.ErrAccessDenied) {
			h.guard.RecordMiss(ip, clipID)
		}
		writeDomainError(w, r, err)
		return
	}
	defer func() {
		if err := content.Close(); err != nil {
			logger.Warn("failed to close file content", logger.KeyClipID, clipID, logger.KeyError, err)
		}
	}()

	h.guard.RecordHit(ip)
	writeContent(w, content)
}

// LegacyDownload handles GET /api/file/{clipId}. The unauthenticated download
// path is retired and always answers 410.
func (h *FileHandler) LegacyDownload(w http.ResponseWriter, r *http.Request) {
	Gone(w, "unauthenticated file downloads are no longer supported")
}
