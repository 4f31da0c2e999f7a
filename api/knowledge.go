package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sagekit/sage/internal/index"
	"github.com/sagekit/sage/internal/log"
)

// KnowledgeHandler exposes knowledge-base inspection and maintenance.
//
// Endpoints:
//   - GET  /api/knowledge/count  - chunk count, optionally per knowledge base
//   - POST /api/knowledge/delete - delete chunks by ID
type KnowledgeHandler struct {
	idx    *index.Index
	logger log.Logger
}

// NewKnowledgeHandler creates a knowledge handler.
func NewKnowledgeHandler(idx *index.Index, logger log.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{idx: idx, logger: logger}
}

// RegisterRoutes registers knowledge routes on the given mux.
func (h *KnowledgeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/knowledge/count", h.handleCount)
	mux.HandleFunc("POST /api/knowledge/delete", h.handleDelete)
}

func (h *KnowledgeHandler) handleCount(w http.ResponseWriter, r *http.Request) {
	kb := r.URL.Query().Get("knowledge_base")
	count, err := h.idx.Count(r.Context(), kb)
	if err != nil {
		h.logger.Error("counting chunks", "knowledge_base", kb, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to count chunks")
		return
	}

	resp := map[string]any{"count": count}
	if kb != "" {
		resp["knowledge_base"] = kb
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteRequest is the body of POST /api/knowledge/delete.
type DeleteRequest struct {
	IDs []string `json:"ids"`
}

func (h *KnowledgeHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "MISSING_IDS", "ids is required")
		return
	}

	if err := h.idx.Delete(r.Context(), req.IDs...); err != nil {
		h.logger.Error("deleting chunks", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to delete chunks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": len(req.IDs)})
}
