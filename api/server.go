// Package api provides the HTTP REST API for sage.
//
// Endpoints:
//
//	GET  /health              - liveness probe
//	GET  /ready               - readiness probe
//	GET  /api/models          - list logical model names
//	POST /api/chat-assistant  - synchronous assistant chat
//	POST /api/chat/stream     - streaming assistant chat (SSE)
//	POST /api/upload-document - upload a file into a knowledge base
//	POST /api/ingest-url      - ingest a web page into a knowledge base
//	POST /api/describe-image  - one-shot image description
//	GET  /api/knowledge/count - chunk counts per knowledge base
//	POST /api/knowledge/delete- delete documents by chunk ID
//	GET  /api/chat-records    - recent persisted conversations
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints
//   - chat.go: assistant chat endpoints (sync and SSE)
//   - ingest.go: document upload and URL ingestion
//   - knowledge.go: knowledge-base inspection and deletion
//   - vision.go: image description endpoint
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sagekit/sage/internal/assistant"
	"github.com/sagekit/sage/internal/gateway"
	"github.com/sagekit/sage/internal/index"
	"github.com/sagekit/sage/internal/ingest"
	"github.com/sagekit/sage/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8000"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to block Slowloris-style
	// connection hoarding.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 60 * time.Second

	// WriteTimeout is generous because streaming chat responses can run
	// for minutes.
	WriteTimeout = 5 * time.Minute

	// IdleTimeout is the keep-alive limit between requests.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for sage's REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health    *HealthHandler
	chat      *ChatHandler
	ingest    *IngestHandler
	knowledge *KnowledgeHandler
	vision    *VisionHandler
}

// Config carries the server dependencies. ChatLog and Describer are
// optional; their endpoints respond 503 when absent.
type Config struct {
	Assistants *assistant.Service
	Gateway    *gateway.Gateway
	Ingestor   *ingest.Ingestor
	Index      *index.Index
	ChatLog    ChatLog
	Describer  Describer
	Logger     log.Logger
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(cfg *Config) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:       mux,
		logger:    cfg.Logger,
		health:    NewHealthHandler(cfg.Index, cfg.Logger),
		chat:      NewChatHandler(cfg.Assistants, cfg.Gateway, cfg.Ingestor, cfg.ChatLog, cfg.Logger),
		ingest:    NewIngestHandler(cfg.Ingestor, cfg.Logger),
		knowledge: NewKnowledgeHandler(cfg.Index, cfg.Logger),
		vision:    NewVisionHandler(cfg.Describer, cfg.Logger),
	}

	s.health.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.ingest.RegisterRoutes(mux)
	s.knowledge.RegisterRoutes(mux)
	s.vision.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
