package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sagekit/sage/internal/app"
	"github.com/sagekit/sage/internal/index"
)

var (
	ingestDocID string
	ingestKB    string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path-or-url> [...]",
	Short: "Add documents or web pages to the knowledge base",
	Long: `Ingest loads each argument, splits it into chunks and writes them to
the vector store. Arguments starting with http:// or https:// are fetched
and reduced to readable text; everything else is read as a local file.

Re-ingesting with the same --doc-id replaces the previous chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDocID, "doc-id", "", "document id (default: derived from the file name or URL)")
	ingestCmd.Flags().StringVar(&ingestKB, "knowledge-base", index.DefaultKnowledgeBase, "knowledge base tag")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	if ingestDocID != "" && len(args) > 1 {
		return fmt.Errorf("--doc-id applies to a single document, got %d", len(args))
	}

	for _, arg := range args {
		docID := ingestDocID
		var chunks int

		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
			if docID == "" {
				docID = "url-" + arg
			}
			chunks, err = a.Ingestor.AddURL(ctx, arg, docID, ingestKB)
		} else {
			if docID == "" {
				docID = strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg))
			}
			chunks, err = a.Ingestor.AddDocument(ctx, arg, docID, ingestKB)
		}
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", arg, err)
		}

		fmt.Printf("%s: %d chunks indexed into %q as %q\n", arg, chunks, ingestKB, docID)
	}
	return nil
}
