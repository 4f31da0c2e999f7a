package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	"github.com/sagekit/sage/internal/assistant"
	"github.com/sagekit/sage/internal/chatlog"
	"github.com/sagekit/sage/internal/gateway"
	"github.com/sagekit/sage/internal/index"
	"github.com/sagekit/sage/internal/ingest"
	"github.com/sagekit/sage/internal/log"
)

// DefaultAssistantType is used when a chat request does not name one.
const DefaultAssistantType = "general"

// ChatLog is the slice of the chat log store the API writes through.
// A nil ChatLog disables persistence.
type ChatLog interface {
	SaveAsync(ctx context.Context, sessionID string, messages []string)
	Recent(ctx context.Context, limit int) ([]chatlog.Record, error)
}

// ChatHandler handles assistant chat endpoints.
//
// Endpoints:
//   - POST /api/chat-assistant - synchronous chat (JSON request/response)
//   - POST /api/chat/stream    - streaming chat (Server-Sent Events)
//   - GET  /api/models         - list logical model names
//   - GET  /api/chat-records   - recent persisted conversations
type ChatHandler struct {
	assistants *assistant.Service
	gw         *gateway.Gateway
	ingestor   *ingest.Ingestor
	records    ChatLog
	logger     log.Logger
}

// NewChatHandler creates a chat handler. records may be nil.
func NewChatHandler(assistants *assistant.Service, gw *gateway.Gateway, ingestor *ingest.Ingestor, records ChatLog, logger log.Logger) *ChatHandler {
	return &ChatHandler{
		assistants: assistants,
		gw:         gw,
		ingestor:   ingestor,
		records:    records,
		logger:     logger,
	}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat-assistant", h.handleChat)
	mux.HandleFunc("POST /api/chat/stream", h.handleStream)
	mux.HandleFunc("GET /api/models", h.handleModels)
	mux.HandleFunc("GET /api/chat-records", h.handleRecords)
}

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	// AssistantType selects the persona; defaults to "general".
	AssistantType string `json:"assistant_type,omitempty"`

	// SessionID resumes an existing conversation when set; a new session
	// is started otherwise.
	SessionID string `json:"session_id,omitempty"`

	// Messages are appended as user turns; the last one is the current
	// input and gets grounded in retrieved context.
	Messages []string `json:"messages"`
}

// ChatResponse is the synchronous chat reply. Data holds the parsed JSON
// payload when the model answered with one, the raw text otherwise.
type ChatResponse struct {
	Data      any    `json:"data"`
	SessionID string `json:"session_id"`
}

func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "MISSING_MESSAGES", "messages is required")
		return
	}

	a, err := h.newAssistant(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNKNOWN_ASSISTANT", err.Error())
		return
	}

	h.persistRequest(r.Context(), a.SessionID(), req.Messages)

	response, err := a.Chat(r.Context(), req.Messages)
	if err != nil {
		h.writeChatError(w, err)
		return
	}

	h.indexTurn(r.Context(), a.SessionID(), req.Messages[len(req.Messages)-1])

	writeJSON(w, http.StatusOK, ChatResponse{
		Data:      parseStructured(response),
		SessionID: a.SessionID(),
	})
}

func (h *ChatHandler) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.gw.Models()})
}

func (h *ChatHandler) handleRecords(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeError(w, http.StatusServiceUnavailable, "CHATLOG_DISABLED", "chat log persistence is not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.records.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing chat records", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list chat records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *ChatHandler) newAssistant(req ChatRequest) (*assistant.Assistant, error) {
	typ := req.AssistantType
	if typ == "" {
		typ = DefaultAssistantType
	}
	return h.assistants.Assistant(typ, req.SessionID)
}

// persistRequest writes the incoming messages to the chat log. Failures
// never block the chat itself.
func (h *ChatHandler) persistRequest(ctx context.Context, sessionID string, messages []string) {
	if h.records == nil {
		return
	}
	h.records.SaveAsync(ctx, sessionID, messages)
}

// indexTurn stores the user's latest message as a retrievable pseudo
// document, so later conversations can surface it.
func (h *ChatHandler) indexTurn(ctx context.Context, sessionID, message string) {
	if h.ingestor == nil {
		return
	}
	docID := "chat-" + uuid.NewString()
	if _, err := h.ingestor.AddText(ctx, message, docID, sessionID, index.DefaultKnowledgeBase); err != nil {
		h.logger.Warn("indexing chat turn", "session_id", sessionID, "error", err)
	}
}

func (h *ChatHandler) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrModelNotFound):
		writeError(w, http.StatusBadRequest, "MODEL_NOT_FOUND", err.Error())
	case errors.Is(err, index.ErrNoScope):
		writeError(w, http.StatusBadRequest, "NO_KNOWLEDGE_BASE", err.Error())
	default:
		h.logger.Error("chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "CHAT_FAILED", err.Error())
	}
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// parseStructured attempts to interpret the model's answer as JSON, either
// inside a fenced code block or bare. Non-JSON answers pass through as the
// raw string.
func parseStructured(response string) any {
	payload := response
	if m := fencedJSON.FindStringSubmatch(response); m != nil {
		payload = m[1]
	}

	var parsed any
	if err := json.Unmarshal([]byte(payload), &parsed); err == nil {
		return parsed
	}
	return response
}

// SSEEvent names used on the stream: "chunk" for partial text, "done" for
// the final output, "error" for failures.
type SSEChunkData struct {
	Text string `json:"text"`
}

// SSEDoneData is the payload of the final event.
type SSEDoneData struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// SSEErrorData is the payload of error events.
type SSEErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, flusher, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		h.writeSSEError(w, flusher, "MISSING_MESSAGES", "messages is required")
		return
	}

	a, err := h.newAssistant(req)
	if err != nil {
		h.writeSSEError(w, flusher, "UNKNOWN_ASSISTANT", err.Error())
		return
	}

	h.persistRequest(r.Context(), a.SessionID(), req.Messages)
	h.logger.Info("SSE stream started", "session_id", a.SessionID())

	ctx := r.Context()
	response, err := a.ChatStream(ctx, req.Messages, func(_ context.Context, chunk string) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.writeSSEChunk(w, flusher, chunk)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "session_id", a.SessionID())
			return
		}
		h.logger.Error("stream failed", "error", err, "session_id", a.SessionID())
		h.writeSSEError(w, flusher, "STREAM_ERROR", err.Error())
		return
	}

	h.indexTurn(ctx, a.SessionID(), req.Messages[len(req.Messages)-1])
	h.writeSSEDone(w, flusher, response, a.SessionID())
	h.logger.Info("SSE stream completed",
		"session_id", a.SessionID(),
		"response_len", len(response))
}

func (h *ChatHandler) writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, text string) {
	data, _ := json.Marshal(SSEChunkData{Text: text})
	fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data)
	flusher.Flush()
}

func (h *ChatHandler) writeSSEDone(w http.ResponseWriter, flusher http.Flusher, response, sessionID string) {
	data, _ := json.Marshal(SSEDoneData{Response: response, SessionID: sessionID})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	flusher.Flush()
}

func (h *ChatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	data, _ := json.Marshal(SSEErrorData{Code: code, Message: message})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	flusher.Flush()
}
