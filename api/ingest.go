package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sagekit/sage/internal/index"
	"github.com/sagekit/sage/internal/ingest"
	"github.com/sagekit/sage/internal/log"
)

// maxUploadBytes caps document uploads.
const maxUploadBytes = 50 << 20

// IngestHandler handles document ingestion endpoints.
//
// Endpoints:
//   - POST /api/upload-document - multipart file upload
//   - POST /api/ingest-url      - fetch and ingest a web page
type IngestHandler struct {
	ingestor *ingest.Ingestor
	logger   log.Logger
}

// NewIngestHandler creates an ingest handler.
func NewIngestHandler(ingestor *ingest.Ingestor, logger log.Logger) *IngestHandler {
	return &IngestHandler{ingestor: ingestor, logger: logger}
}

// RegisterRoutes registers ingestion routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/upload-document", h.handleUpload)
	mux.HandleFunc("POST /api/ingest-url", h.handleURL)
}

// UploadResponse is the reply of both ingestion endpoints.
type UploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Chunks  int    `json:"chunks,omitempty"`
}

// handleUpload accepts a multipart form with a "file" part and optional
// "doc_id" and "knowledge_base" values. The file lands in a temp path that
// is removed once ingestion finishes, successful or not.
func (h *IngestHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("reading upload: %v", err))
		return
	}
	defer file.Close()

	if !h.ingestor.IsSupported(header.Filename) {
		writeJSON(w, http.StatusBadRequest, UploadResponse{
			Success: false,
			Message: fmt.Sprintf("unsupported file type: %s", filepath.Ext(header.Filename)),
		})
		return
	}

	docID := formValue(r, "doc_id", "default")
	kb := formValue(r, "knowledge_base", index.DefaultKnowledgeBase)

	tempPath, err := saveUpload(file, header.Filename)
	if err != nil {
		h.logger.Error("saving upload", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to store upload")
		return
	}
	defer func() {
		if err := os.Remove(tempPath); err != nil {
			h.logger.Warn("removing temp upload", "path", tempPath, "error", err)
		}
	}()

	chunks, err := h.ingestor.AddDocument(r.Context(), tempPath, docID, kb)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ingest.ErrUnsupportedFormat) {
			status = http.StatusBadRequest
		}
		h.logger.Error("ingesting upload", "file", header.Filename, "error", err)
		writeJSON(w, status, UploadResponse{Success: false, Message: fmt.Sprintf("ingestion failed: %v", err)})
		return
	}

	h.logger.Info("document ingested",
		"file", header.Filename, "doc_id", docID, "knowledge_base", kb, "chunks", chunks)
	writeJSON(w, http.StatusOK, UploadResponse{
		Success: true,
		Message: "document uploaded and indexed",
		Chunks:  chunks,
	})
}

// IngestURLRequest is the body of POST /api/ingest-url.
type IngestURLRequest struct {
	URL           string `json:"url"`
	DocID         string `json:"doc_id,omitempty"`
	KnowledgeBase string `json:"knowledge_base,omitempty"`
}

func (h *IngestHandler) handleURL(w http.ResponseWriter, r *http.Request) {
	var req IngestURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "MISSING_URL", "url is required")
		return
	}
	if req.DocID == "" {
		req.DocID = "url-" + req.URL
	}
	if req.KnowledgeBase == "" {
		req.KnowledgeBase = index.DefaultKnowledgeBase
	}

	chunks, err := h.ingestor.AddURL(r.Context(), req.URL, req.DocID, req.KnowledgeBase)
	if err != nil {
		h.logger.Error("ingesting url", "url", req.URL, "error", err)
		writeJSON(w, http.StatusBadGateway, UploadResponse{Success: false, Message: fmt.Sprintf("ingestion failed: %v", err)})
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Success: true,
		Message: "page fetched and indexed",
		Chunks:  chunks,
	})
}

func formValue(r *http.Request, key, fallback string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return fallback
}

// saveUpload copies the uploaded content into a temp file keeping the
// original extension, since the loader dispatches on it.
func saveUpload(file io.Reader, filename string) (string, error) {
	tmp, err := os.CreateTemp("", "sage-upload-*"+filepath.Ext(filename))
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	return tmp.Name(), nil
}
