package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/qopy-app/qopy/pkg/clip"
	"github.com/qopy-app/qopy/pkg/storage"
	"github.com/qopy-app/qopy/pkg/store"
	"github.com/qopy-app/qopy/pkg/sweeper"
)

// AdminHandler serves the token-protected operational endpoints.
type AdminHandler struct {
	store   *store.GORMStore
	clips   *clip.Service
	sweeper *sweeper.Sweeper
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(st *store.GORMStore, clips *clip.Service, sw *sweeper.Sweeper) *AdminHandler {
	return &AdminHandler{store: st, clips: clips, sweeper: sw}
}

// adminClip is the admin view of a clip row. It exposes lifecycle fields but
// never payload bytes.
type adminClip struct {
	ClipID         string `json:"clipId"`
	ContentType    string `json:"contentType"`
	Filename       string `json:"filename,omitempty"`
	Filesize       int64  `json:"filesize,omitempty"`
	OneTime        bool   `json:"oneTime"`
	QuickShare     bool   `json:"quickShare"`
	HasPassword    bool   `json:"hasPassword"`
	AccessCount    int64  `json:"accessCount"`
	ExpirationTime int64  `json:"expirationTime"`
	CreatedAt      int64  `json:"createdAt"`
}

// ListClips handles GET /api/admin/clips.
func (h *AdminHandler) ListClips(w http.ResponseWriter, r *http.Request) {
	clips, err := h.store.ListClips(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := make([]adminClip, 0, len(clips))
	for _, c := range clips {
		out = append(out, adminClip{
			ClipID:         c.ClipID,
			ContentType:    c.ContentType,
			Filename:       c.OriginalFilename,
			Filesize:       c.Filesize,
			OneTime:        c.OneTime,
			QuickShare:     c.QuickShare,
			HasPassword:    c.HasPassword(),
			AccessCount:    c.AccessCount,
			ExpirationTime: c.ExpirationTime,
			CreatedAt:      c.CreatedAt.UnixMilli(),
		})
	}
	WriteJSONOK(w, map[string]any{"clips": out, "count": len(out)})
}

// DeleteClip handles DELETE /api/admin/clips/{clipId}.
func (h *AdminHandler) DeleteClip(w http.ResponseWriter, r *http.Request) {
	clipID := strings.ToUpper(chi.URLParam(r, "clipId"))
	if !storage.ValidClipID(clipID) {
		NotFound(w, "clip not found")
		return
	}

	if err := h.clips.Delete(r.Context(), clipID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	WriteNoContent(w)
}

// Sweep handles POST /api/admin/sweep: it runs one sweeper pass inline and
// reports what was removed.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result := h.sweeper.Sweep(r.Context())
	WriteJSONOK(w, result)
}

// statsResponse aggregates the singleton counters and the per-day uploads.
type statsResponse struct {
	TotalUploads int64            `json:"totalUploads"`
	TotalClips   int64            `json:"totalClips"`
	TotalBytes   int64            `json:"totalBytes"`
	TotalAccess  int64            `json:"totalAccess"`
	SweptClips   int64            `json:"sweptClips"`
	DailyUploads map[string]int64 `json:"dailyUploads"`
}

// statsDays is how many days of the upload counter the stats endpoint returns.
const statsDays = 30

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStatistics(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	daily, err := h.store.ListDailyStats(r.Context(), statsDays)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := statsResponse{
		TotalUploads: stats.TotalUploads,
		TotalClips:   stats.TotalClips,
		TotalBytes:   stats.TotalBytes,
		TotalAccess:  stats.TotalAccess,
		SweptClips:   stats.SweptClips,
		DailyUploads: make(map[string]int64, len(daily)),
	}
	for _, d := range daily {
		resp.DailyUploads[d.Day] = d.Uploads
	}
	WriteJSONOK(w, resp)
}
