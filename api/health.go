package api

import (
	"net/http"

	"github.com/sagekit/sage/internal/index"
	"github.com/sagekit/sage/internal/log"
)

// HealthHandler handles the liveness and readiness probes.
type HealthHandler struct {
	idx    *index.Index
	logger log.Logger
}

// NewHealthHandler creates a health handler. idx is probed for readiness.
func NewHealthHandler(idx *index.Index, logger log.Logger) *HealthHandler {
	return &HealthHandler{idx: idx, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness reports 200 once the vector index answers queries.
func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.idx == nil {
		http.Error(w, "vector index not configured", http.StatusServiceUnavailable)
		return
	}
	if _, err := h.idx.Count(r.Context(), ""); err != nil {
		h.logger.Error("readiness check failed", "error", err)
		http.Error(w, "vector index not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
