package ingest

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes an external command and returns its stdout. The
// indirection exists for tests; production code uses execRunner.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// loadPDF extracts text with pdftotext (poppler-utils), writing to stdout.
// Pure-Go PDF text extraction is unreliable for anything but the simplest
// documents; poppler handles encodings, ligatures and layout.
func (l *Loader) loadPDF(ctx context.Context, path, name string) ([]Unit, error) {
	out, err := l.runner.Run(ctx, "pdftotext", "-layout", path, "-")
	if err != nil {
		return nil, fmt.Errorf("extracting text from %s (is pdftotext installed?): %w", name, err)
	}

	text := strings.TrimSpace(string(out))
	if text == "" {
		return nil, nil
	}
	return []Unit{{
		Text:     text,
		Metadata: map[string]string{unitSource: name},
	}}, nil
}
