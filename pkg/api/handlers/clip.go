package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/qopy-app/qopy/internal/logger"
	"github.com/qopy-app/qopy/pkg/clip"
	"github.com/qopy-app/qopy/pkg/guard"
	"github.com/qopy-app/qopy/pkg/models"
	"github.com/qopy-app/qopy/pkg/storage"
)

// maxFetchBody caps the JSON body of a clip fetch (access code only).
const maxFetchBody = 4 << 10

// ClipHandler serves clip metadata, content, and inline text creation.
type ClipHandler struct {
	clips         *clip.Service
	guard         *guard.Guard
	baseURL       string
	maxInlineText int64
}

// NewClipHandler creates a clip handler.
func NewClipHandler(clips *clip.Service, g *guard.Guard, baseURL string, maxInlineText int64) *ClipHandler {
	return &ClipHandler{
		clips:         clips,
		guard:         g,
		baseURL:       strings.TrimRight(baseURL, "/"),
		maxInlineText: maxInlineText,
	}
}

// lookupAllowed runs the per-IP defenses shared by every clip lookup: the
// brute-force blocker first (a blocked IP never reaches the store), then the
// download token bucket.
func (h *ClipHandler) lookupAllowed(w http.ResponseWriter, r *http.Request, ip string) bool {
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

// Info handles GET /api/clip/{clipId}/info.
func (h *ClipHandler) Info(w http.ResponseWriter, r *http.Request) {
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

	h.guard.RecordHit(ip)
	WriteJSONOK(w, info)
}

type fetchRequest struct {
	AccessCode string `json:"accessCode,omitempty"`
}

// Fetch handles POST /api/clip/{clipId}: it streams the stored ciphertext.
// One-time clips are consumed before the first byte leaves the server.
func (h *ClipHandler) Fetch(w http.ResponseWriter, r *http.Request) {
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
			logger.Warn("failed to close clip content", logger.KeyClipID, clipID, logger.KeyError, err)
		}
	}()

	h.guard.RecordHit(ip)
	writeContent(w, content)
}

// writeContent streams a clip payload with the content headers shared by the
// clip and file endpoints.
func writeContent(w http.ResponseWriter, content *clip.Content) {
	c := content.Clip
	w.Header().Set("Cache-Control", "no-store")
	if c.Filesize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(c.Filesize, 10))
	}
	mimeType := c.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	if c.ContentType == models.ContentTypeFile {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", c.OriginalFilename))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, content.Body); err != nil {
		// The client went away mid-stream; one-time destruction still runs
		// in Close.
		logger.Debug("clip stream interrupted", logger.KeyClipID, c.ClipID, logger.KeyError, err)
	}
}

type createTextRequest struct {
	Content        string `json:"content"`
	OneTime        bool   `json:"oneTime"`
	QuickShare     bool   `json:"quickShare"`
	HasPassword    bool   `json:"hasPassword"`
	AccessCodeHash string `json:"accessCodeHash,omitempty"`
	Retention      string `json:"retention"`
}

type createTextResponse struct {
	ClipID         string `json:"clipId"`
	URL            string `json:"url"`
	ExpirationTime int64  `json:"expirationTime"`
}

// CreateText handles POST /api/clip: an inline text clip without the chunked
// upload path. The content is ciphertext and is stored verbatim.
func (h *ClipHandler) CreateText(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !h.guard.Allow(ip, guard.BucketCreate) {
		TooManyRequests(w, h.guard.RetryAfter(ip, guard.BucketCreate), "create rate limit exceeded")
		return
	}

	var req createTextRequest
	// The JSON envelope adds overhead over the raw payload cap; a quarter
	// extra covers encoding and the other fields.
	if err := decodeJSONBody(w, r, &req, h.maxInlineText+h.maxInlineText/4); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			PayloadTooLarge(w, "text content exceeds the inline limit")
			return
		}
		BadRequest(w, err.Error())
		return
	}
	if int64(len(req.Content)) > h.maxInlineText {
		PayloadTooLarge(w, "text content exceeds the inline limit")
		return
	}

	published, err := h.clips.CreateText(r.Context(), clip.TextClipRequest{
		Payload:        []byte(req.Content),
		OneTime:        req.OneTime,
		QuickShare:     req.QuickShare,
		HasPassword:    req.HasPassword,
		AccessCodeHash: req.AccessCodeHash,
		Retention:      req.Retention,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	WriteJSONOK(w, createTextResponse{
		ClipID:         published.ClipID,
		URL:            fmt.Sprintf("%s/clip/%s", h.baseURL, published.ClipID),
		ExpirationTime: published.ExpirationTime,
	})
}
