package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sagekit/sage/internal/log"
)

// Describer is the slice of the vision service the API calls. A nil
// Describer disables the endpoint.
type Describer interface {
	Describe(ctx context.Context, imageURL, prompt string) (string, error)
}

// VisionHandler handles POST /api/describe-image.
type VisionHandler struct {
	describer Describer
	logger    log.Logger
}

// NewVisionHandler creates a vision handler. describer may be nil.
func NewVisionHandler(describer Describer, logger log.Logger) *VisionHandler {
	return &VisionHandler{describer: describer, logger: logger}
}

// RegisterRoutes registers vision routes on the given mux.
func (h *VisionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/describe-image", h.handleDescribe)
}

// DescribeRequest is the body of POST /api/describe-image. ImageURL may be
// an https URL or a base64 data URL.
type DescribeRequest struct {
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt,omitempty"`
}

// DescribeResponse carries the model's description.
type DescribeResponse struct {
	Description string `json:"description"`
}

func (h *VisionHandler) handleDescribe(w http.ResponseWriter, r *http.Request) {
	if h.describer == nil {
		writeError(w, http.StatusServiceUnavailable, "VISION_DISABLED", "no vision model is configured")
		return
	}

	var req DescribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "MISSING_IMAGE_URL", "image_url is required")
		return
	}

	description, err := h.describer.Describe(r.Context(), req.ImageURL, req.Prompt)
	if err != nil {
		h.logger.Error("describing image", "error", err)
		writeError(w, http.StatusInternalServerError, "DESCRIPTION_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, DescribeResponse{Description: description})
}
