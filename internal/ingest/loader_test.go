package ingest

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// fakeRunner replaces the external pdftotext invocation in tests.
type fakeRunner struct {
	output []byte
	err    error

	gotName string
	gotArgs []string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.gotName = name
	r.gotArgs = args
	return r.output, r.err
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestLoaderUnsupportedFormat(t *testing.T) {
	loader := NewLoader(nil, nil)
	path := writeTempFile(t, "image.png", "not text")

	if loader.IsSupported(path) {
		t.Error("IsSupported(.png) = true, want false")
	}
	if _, err := loader.Load(context.Background(), path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Load() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestLoaderAllowListRestriction(t *testing.T) {
	loader := NewLoader([]string{".txt"}, nil)
	if loader.IsSupported("notes.md") {
		t.Error("IsSupported(.md) = true with .txt-only allow-list")
	}
	if !loader.IsSupported("NOTES.TXT") {
		t.Error("IsSupported should ignore extension case")
	}
}

func TestLoaderPlainText(t *testing.T) {
	loader := NewLoader(nil, nil)
	path := writeTempFile(t, "notes.txt", "  line one\nline two  \n")

	units, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if units[0].Text != "line one\nline two" {
		t.Errorf("text = %q", units[0].Text)
	}
	if units[0].Metadata[unitSource] != "notes.txt" {
		t.Errorf("source = %q, want notes.txt", units[0].Metadata[unitSource])
	}
}

func TestLoaderEmptyTextFile(t *testing.T) {
	loader := NewLoader(nil, nil)
	path := writeTempFile(t, "empty.txt", "   \n ")

	units, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(units) != 0 {
		t.Errorf("got %d units from blank file, want 0", len(units))
	}
}

func TestLoaderCSV(t *testing.T) {
	loader := NewLoader(nil, nil)
	path := writeTempFile(t, "table.csv", "name,dept\nAlice,Math\n\nBob,Physics,extra\n")

	units, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}
	if units[1].Text != "Alice\tMath" {
		t.Errorf("row 2 = %q", units[1].Text)
	}
	if units[2].Text != "Bob\tPhysics\textra" {
		t.Errorf("ragged row = %q", units[2].Text)
	}
	if units[1].Metadata["row_number"] != "2" {
		t.Errorf("row_number = %q, want 2", units[1].Metadata["row_number"])
	}
}

func TestLoaderPDF(t *testing.T) {
	runner := &fakeRunner{output: []byte("Extracted page text.\n")}
	loader := NewLoader(nil, runner)
	path := writeTempFile(t, "paper.pdf", "%PDF-1.4")

	units, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(units) != 1 || units[0].Text != "Extracted page text." {
		t.Fatalf("units = %+v", units)
	}
	if runner.gotName != "pdftotext" {
		t.Errorf("ran %q, want pdftotext", runner.gotName)
	}
}

func TestLoaderPDFExtractorFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exec: pdftotext: not found")}
	loader := NewLoader(nil, runner)
	path := writeTempFile(t, "paper.pdf", "%PDF-1.4")

	if _, err := loader.Load(context.Background(), path); err == nil {
		t.Error("Load() succeeded with failing extractor")
	}
}

func TestLoaderDocx(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.docx")
	writeDocxFixture(t, path, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	loader := NewLoader(nil, nil)
	units, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	want := "First paragraph.\nSecond paragraph."
	if units[0].Text != want {
		t.Errorf("text = %q, want %q", units[0].Text, want)
	}
}

func TestLoaderDocxWithoutDocumentXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	loader := NewLoader(nil, nil)
	if _, err := loader.Load(context.Background(), path); err == nil {
		t.Error("Load() succeeded on archive without word/document.xml")
	}
}

func TestLoaderExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grades.xlsx")
	f := excelize.NewFile()
	if err := f.SetSheetRow("Sheet1", "A1", &[]any{"name", "score"}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Sheet1", "A2", &[]any{"Alice", 95}); err != nil {
		t.Fatal(err)
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("saving workbook fixture: %v", err)
	}

	loader := NewLoader(nil, nil)
	units, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if units[0].Text != "name\tscore" {
		t.Errorf("header row = %q", units[0].Text)
	}
	if units[1].Text != "Alice\t95" {
		t.Errorf("data row = %q", units[1].Text)
	}
	if units[1].Metadata["sheet_name"] != "Sheet1" || units[1].Metadata["row_number"] != "2" {
		t.Errorf("metadata = %v", units[1].Metadata)
	}
	if units[1].Metadata[unitSource] != "grades.xlsx:Sheet1" {
		t.Errorf("source = %q", units[1].Metadata[unitSource])
	}
}

func TestLoaderTranscript(t *testing.T) {
	loader := NewLoader(nil, nil)
	path := writeTempFile(t, "chat.json",
		`[{"name":"alice","msg":"hello"},{"msg":"hi there"}]`)

	units, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if units[0].Text != "alice: hello" {
		t.Errorf("unit 0 = %q", units[0].Text)
	}
	if units[1].Text != "Unknown: hi there" {
		t.Errorf("anonymous unit = %q", units[1].Text)
	}
	if units[0].Metadata[unitSource] != "chat.json:alice" {
		t.Errorf("source = %q", units[0].Metadata[unitSource])
	}
}

func TestLoaderTranscriptRejectsMalformedJSON(t *testing.T) {
	loader := NewLoader(nil, nil)
	path := writeTempFile(t, "chat.json", `{"name":"not an array"}`)

	if _, err := loader.Load(context.Background(), path); err == nil {
		t.Error("Load() succeeded on non-array transcript")
	}
}

func writeDocxFixture(t *testing.T, path, documentXML string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}
