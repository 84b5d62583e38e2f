package extractor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

type storageFake struct {
	objects map[string][]byte
}

func (s *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.objects[key] = raw
	return nil
}

func (s *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := s.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func newExtractor(objects map[string][]byte) *Extractor {
	return NewExtractor(&storageFake{objects: objects})
}

func TestExtractPlainTextAndMarkdown(t *testing.T) {
	ex := newExtractor(map[string][]byte{
		"p1/notes.md":  []byte("\ufeff# Listening session\r\nResidents fear displacement.\r\n"),
		"p1/blank.txt": []byte("  \n\t "),
	})

	text, err := ex.Extract(context.Background(), &domain.File{Name: "notes.md", StorageKey: "p1/notes.md"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "# Listening session\nResidents fear displacement." {
		t.Fatalf("unexpected text %q", text)
	}

	blank, err := ex.Extract(context.Background(), &domain.File{Name: "blank.txt", StorageKey: "p1/blank.txt"})
	if err != nil || blank != "" {
		t.Fatalf("expected empty text, got %q, %v", blank, err)
	}
}

func TestExtractSpreadsheetRows(t *testing.T) {
	book := excelize.NewFile()
	defer book.Close()
	_ = book.SetCellValue("Sheet1", "A1", "Respondent")
	_ = book.SetCellValue("Sheet1", "B1", "Comment")
	_ = book.SetCellValue("Sheet1", "A2", "R-12")
	_ = book.SetCellValue("Sheet1", "B2", "The bus stopped coming after the rezoning.")
	if _, err := book.NewSheet("Empty"); err != nil {
		t.Fatalf("NewSheet() error = %v", err)
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}

	ex := newExtractor(map[string][]byte{"p1/survey.xlsx": buf.Bytes()})
	text, err := ex.Extract(context.Background(), &domain.File{Name: "survey.xlsx", StorageKey: "p1/survey.xlsx"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := "## Sheet1\nRespondent | Comment\nR-12 | The bus stopped coming after the rezoning."
	if text != want {
		t.Fatalf("unexpected text:\n%s", text)
	}
	if strings.Contains(text, "Empty") {
		t.Fatalf("empty sheets must be skipped")
	}
}

func TestExtractReportsExtractionFailure(t *testing.T) {
	ex := newExtractor(map[string][]byte{
		"p1/broken.pdf":  []byte("%PDF-1.7 this is not really a pdf"),
		"p1/binary.txt":  {0xff, 0xfe, 0x00, 0x81},
		"p1/broken.xlsx": []byte("PK\x03\x04 truncated"),
	})

	for _, name := range []string{"broken.pdf", "binary.txt", "broken.xlsx"} {
		t.Run(name, func(t *testing.T) {
			_, err := ex.Extract(context.Background(), &domain.File{Name: name, StorageKey: "p1/" + name})
			if !domain.IsKind(err, domain.ErrExtractionFailed) {
				t.Fatalf("expected ErrExtractionFailed, got %v", err)
			}
		})
	}
}

func TestExtractEnforcesSizeLimit(t *testing.T) {
	ex := NewExtractorWithLimit(&storageFake{objects: map[string][]byte{
		"p1/long.txt": []byte(strings.Repeat("a", 64)),
	}}, 32)

	_, err := ex.Extract(context.Background(), &domain.File{Name: "long.txt", StorageKey: "p1/long.txt"})
	if !domain.IsKind(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
}

func TestExtractMissingObject(t *testing.T) {
	_, err := newExtractor(map[string][]byte{}).Extract(context.Background(), &domain.File{Name: "gone.txt", StorageKey: "p1/gone.txt"})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected storage error to propagate, got %v", err)
	}
}

func TestDetectFormatPrefersMagicBytes(t *testing.T) {
	tests := []struct {
		name string
		mime string
		raw  string
		want format
	}{
		{name: "report.txt", raw: "%PDF-1.4", want: formatPDF},
		{name: "upload", raw: "PK\x03\x04", want: formatSpreadsheet},
		{name: "report.pdf", raw: "garbage", want: formatPDF},
		{name: "upload", mime: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", raw: "x", want: formatSpreadsheet},
		{name: "notes.md", raw: "# hi", want: formatText},
	}
	for _, tc := range tests {
		if got := detectFormat(tc.name, tc.mime, []byte(tc.raw)); got != tc.want {
			t.Fatalf("detectFormat(%q) = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestCollapseWhitespace(t *testing.T) {
	got := collapseWhitespace("  Rents   are\trising \r\n\r\n\r\n  near the station  \n")
	if got != "Rents are rising\n\nnear the station" {
		t.Fatalf("unexpected %q", got)
	}
}
