// Package ingest converts source documents into chunks for the vector
// index.
//
// The pipeline is Loader (file → text units with source metadata) →
// Chunker (units → bounded overlapping segments) → Ingestor (segments →
// index chunks with knowledge-base tags and derived IDs).
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrUnsupportedFormat indicates a file extension outside the configured
// allow-list. Ingestion aborts for that file; nothing is committed.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Unit is one loaded text unit with its source metadata. A plain text file
// loads as a single unit; tabular files load as one unit per row.
type Unit struct {
	Text     string
	Metadata map[string]string
}

// unitSource is the metadata key every loader sets to the file name.
const unitSource = "source"

// Loader converts a source file into text units based on its extension.
type Loader struct {
	supported map[string]struct{}
	runner    CommandRunner
}

// NewLoader creates a Loader restricted to the given extensions (with
// leading dot, e.g. ".txt"). A nil or empty list allows the full default
// set. runner executes external text extractors (pdftotext); nil uses the
// real command runner.
func NewLoader(extensions []string, runner CommandRunner) *Loader {
	if len(extensions) == 0 {
		extensions = []string{".txt", ".pdf", ".docx", ".md", ".xlsx", ".csv", ".json"}
	}
	supported := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		supported[strings.ToLower(ext)] = struct{}{}
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &Loader{supported: supported, runner: runner}
}

// IsSupported reports whether the file's extension is in the allow-list.
func (l *Loader) IsSupported(path string) bool {
	_, ok := l.supported[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load reads a file and returns its text units. The extension selects the
// parser; unsupported extensions fail with ErrUnsupportedFormat. Every unit
// carries source = file name.
func (l *Loader) Load(ctx context.Context, path string) ([]Unit, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !l.IsSupported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	name := filepath.Base(path)

	var (
		units []Unit
		err   error
	)
	switch ext {
	case ".txt", ".md":
		units, err = loadPlainText(path, name)
	case ".csv":
		units, err = loadCSV(path, name)
	case ".docx":
		units, err = loadDocx(path, name)
	case ".pdf":
		units, err = l.loadPDF(ctx, path, name)
	case ".xlsx":
		units, err = loadExcel(path, name)
	case ".json":
		units, err = loadTranscript(path, name)
	default:
		// Extension passed the allow-list but has no parser; treat as a
		// configuration mistake rather than silently skipping content.
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	return units, nil
}

func loadPlainText(path, name string) ([]Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	return []Unit{{
		Text:     text,
		Metadata: map[string]string{unitSource: name},
	}}, nil
}

// loadCSV emits one unit per row as a tab-joined line, mirroring the
// spreadsheet handling so large files never load wholesale.
func loadCSV(path, name string) ([]Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows are data, not errors

	var units []Unit
	row := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s row %d: %w", name, row+1, err)
		}
		row++

		line := strings.TrimSpace(strings.Join(record, "\t"))
		if line == "" {
			continue
		}
		units = append(units, Unit{
			Text: line,
			Metadata: map[string]string{
				unitSource:  name,
				"row_number": strconv.Itoa(row),
			},
		})
	}
	return units, nil
}
