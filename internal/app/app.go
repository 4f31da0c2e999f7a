// Package app is the composition root. Setup builds every component from
// configuration and returns an App whose Close releases them in reverse
// order.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagekit/sage/internal/assistant"
	"github.com/sagekit/sage/internal/chatlog"
	"github.com/sagekit/sage/internal/config"
	"github.com/sagekit/sage/internal/gateway"
	"github.com/sagekit/sage/internal/index"
	"github.com/sagekit/sage/internal/ingest"
	"github.com/sagekit/sage/internal/log"
	"github.com/sagekit/sage/internal/retrieval"
	"github.com/sagekit/sage/internal/vision"
)

// App holds the fully wired application.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	Index      *index.Index
	Engine     *retrieval.Engine
	Gateway    *gateway.Gateway
	Assistants *assistant.Service
	Ingestor   *ingest.Ingestor

	// ChatLog and Describer are nil when the corresponding config
	// sections are absent. Handlers degrade to 503 for their endpoints.
	ChatLog   *chatlog.Store
	Describer *vision.Describer

	dbPool      *pgxpool.Pool
	otelCleanup func()
}

// Close releases application resources. Safe to call on a partially
// initialized App; Setup calls it itself when wiring fails midway.
func (a *App) Close() {
	if a.ChatLog != nil {
		a.ChatLog.Wait()
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	if a.Logger != nil {
		a.Logger.Info("application closed")
	}
}
