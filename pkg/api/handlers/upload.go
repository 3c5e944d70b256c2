package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/qopy-app/qopy/pkg/guard"
	"github.com/qopy-app/qopy/pkg/models"
	"github.com/qopy-app/qopy/pkg/storage"
	"github.com/qopy-app/qopy/pkg/upload"
)

// maxInitBody caps the JSON body of an upload initiation.
const maxInitBody = 16 << 10

// UploadHandler serves the chunked upload endpoints.
type UploadHandler struct {
	manager *upload.Manager
	guard   *guard.Guard
	baseURL string
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(manager *upload.Manager, g *guard.Guard, baseURL string) *UploadHandler {
	return &UploadHandler{
		manager: manager,
		guard:   g,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type initRequest struct {
	Filename       string `json:"filename"`
	Filesize       int64  `json:"filesize"`
	MimeType       string `json:"mimeType"`
	ChunkSize      int64  `json:"chunkSize,omitempty"`
	OneTime        bool   `json:"oneTime"`
	QuickShare     bool   `json:"quickShare"`
	IsTextContent  bool   `json:"isTextContent,omitempty"`
	HasPassword    bool   `json:"hasPassword"`
	AccessCodeHash string `json:"accessCodeHash,omitempty"`
	Retention      string `json:"retention"`
}

type initResponse struct {
	UploadID    string `json:"uploadId"`
	TotalChunks int    `json:"totalChunks"`
	ChunkSize   int64  `json:"chunkSize"`
}

// Init handles POST /api/upload/init.
func (h *UploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !h.guard.Allow(ip, guard.BucketCreate) {
		TooManyRequests(w, h.guard.RetryAfter(ip, guard.BucketCreate), "upload rate limit exceeded")
		return
	}

	var req initRequest
	if err := decodeJSONBody(w, r, &req, maxInitBody); err != nil {
		BadRequest(w, err.Error())
		return
	}

	session, err := h.manager.Initiate(r.Context(), upload.InitRequest{
		Filename:       req.Filename,
		Filesize:       req.Filesize,
		MimeType:       req.MimeType,
		ChunkSize:      req.ChunkSize,
		OneTime:        req.OneTime,
		QuickShare:     req.QuickShare,
		IsTextContent:  req.IsTextContent,
		HasPassword:    req.HasPassword,
		AccessCodeHash: req.AccessCodeHash,
		Retention:      req.Retention,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	WriteJSONOK(w, initResponse{
		UploadID:    session.UploadID,
		TotalChunks: session.TotalChunks,
		ChunkSize:   session.ChunkSize,
	})
}

type chunkResponse struct {
	Uploaded int `json:"uploaded"`
	Total    int `json:"total"`
}

// Chunk handles POST /api/upload/{uploadId}/chunk/{n}. The body is the raw
// chunk bytes, streamed straight into the chunk store.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")
	if !storage.ValidUploadID(uploadID) {
		NotFound(w, "upload session not found")
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 0 {
		BadRequest(w, "chunk number must be a non-negative integer")
		return
	}

	progress, err := h.manager.ReceiveChunk(r.Context(), uploadID, n, r.Body)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	WriteJSONOK(w, chunkResponse{Uploaded: progress.Uploaded, Total: progress.Total})
}

type completeResponse struct {
	ClipID         string `json:"clipId"`
	URL            string `json:"url"`
	ExpirationTime int64  `json:"expirationTime"`
}

// Complete handles POST /api/upload/{uploadId}/complete.
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")
	if !storage.ValidUploadID(uploadID) {
		NotFound(w, "upload session not found")
		return
	}

	clip, err := h.manager.Complete(r.Context(), uploadID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	// File clips are fetched through the file endpoints, text clips through
	// the clip endpoints.
	resource := "file"
	if clip.ContentType == models.ContentTypeText {
		resource = "clip"
	}
	WriteJSONOK(w, completeResponse{
		ClipID:         clip.ClipID,
		URL:            fmt.Sprintf("%s/%s/%s", h.baseURL, resource, clip.ClipID),
		ExpirationTime: clip.ExpirationTime,
	})
}

// Abort handles DELETE /api/upload/{uploadId}.
func (h *UploadHandler) Abort(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")
	if !storage.ValidUploadID(uploadID) {
		NotFound(w, "upload session not found")
		return
	}

	if err := h.manager.Abort(r.Context(), uploadID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteNoContent(w)
}
