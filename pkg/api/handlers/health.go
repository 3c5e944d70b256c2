package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/qopy-app/qopy/pkg/store"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store       *store.GORMStore
	storagePath string
}

// NewHealthHandler creates a health handler. storagePath is probed for
// writability on readiness checks.
func NewHealthHandler(st *store.GORMStore, storagePath string) *HealthHandler {
	return &HealthHandler{store: st, storagePath: storagePath}
}

// healthResponse is the envelope for probe responses.
type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Liveness handles GET /health. It answers 200 as long as the process serves
// requests; it deliberately touches no dependencies.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// Readiness handles GET /health/ready: database ping plus a storage-root
// write probe. Any failure answers 503 with the failing checks named.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"database": "ok",
		"storage":  "ok",
	}
	healthy := true

	if err := h.store.Healthcheck(r.Context()); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if err := h.probeStorage(); err != nil {
		checks["storage"] = err.Error()
		healthy = false
	}

	resp := healthResponse{Status: "healthy", Timestamp: time.Now().UTC(), Checks: checks}
	if !healthy {
		resp.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	WriteJSONOK(w, resp)
}

// probeStorage verifies the storage root accepts writes.
func (h *HealthHandler) probeStorage() error {
	probe, err := os.CreateTemp(h.storagePath, ".readycheck-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(filepath.Clean(name))
}
