package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sagekit/sage/api"
	"github.com/sagekit/sage/internal/app"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	serverCfg := &api.Config{
		Assistants: a.Assistants,
		Gateway:    a.Gateway,
		Ingestor:   a.Ingestor,
		Index:      a.Index,
		Logger:     logger.With("component", "api"),
	}
	// Assign only when present: a typed nil in the interface field would
	// defeat the handlers' nil checks.
	if a.ChatLog != nil {
		serverCfg.ChatLog = a.ChatLog
	}
	if a.Describer != nil {
		serverCfg.Describer = a.Describer
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	return api.NewServer(serverCfg).Run(ctx, addr)
}
