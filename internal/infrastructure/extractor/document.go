// Package extractor turns stored documents into plain text for insight
// extraction. PDF, xlsx, plain text and markdown are supported.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
)

const defaultMaxBytes = 32 << 20

type format string

const (
	formatPDF         format = "pdf"
	formatSpreadsheet format = "xlsx"
	formatText        format = "text"
)

type Extractor struct {
	storage  ports.ObjectStorage
	maxBytes int64
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return NewExtractorWithLimit(storage, 0)
}

// NewExtractorWithLimit caps how many bytes are read from storage per file.
func NewExtractorWithLimit(storage ports.ObjectStorage, maxBytes int64) *Extractor {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Extractor{storage: storage, maxBytes: maxBytes}
}

func (e *Extractor) Extract(ctx context.Context, file *domain.File) (string, error) {
	if file == nil {
		return "", domain.WrapError(domain.ErrExtractionFailed, "extract text", errors.New("file is nil"))
	}
	reader, err := e.storage.Open(ctx, file.StorageKey)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, e.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	if int64(len(raw)) > e.maxBytes {
		return "", domain.WrapError(
			domain.ErrExtractionFailed,
			"extract text",
			fmt.Errorf("%s exceeds %d bytes", file.Name, e.maxBytes),
		)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", nil
	}

	var text string
	switch detectFormat(file.Name, file.MimeType, raw) {
	case formatPDF:
		text, err = extractPDF(raw)
	case formatSpreadsheet:
		text, err = extractSpreadsheet(raw)
	default:
		text, err = extractPlainText(file.Name, raw)
	}
	if err != nil {
		return "", domain.WrapError(domain.ErrExtractionFailed, "extract text", err)
	}
	return strings.TrimSpace(text), nil
}

// detectFormat trusts magic bytes over the name and content type.
func detectFormat(filename, mimeType string, raw []byte) format {
	switch {
	case bytes.HasPrefix(raw, []byte("%PDF-")):
		return formatPDF
	case bytes.HasPrefix(raw, []byte("PK\x03\x04")):
		return formatSpreadsheet
	}

	ext := strings.ToLower(filepath.Ext(filename))
	mime := strings.ToLower(mimeType)
	switch {
	case ext == ".pdf" || strings.HasPrefix(mime, "application/pdf"):
		return formatPDF
	case ext == ".xlsx" || strings.Contains(mime, "spreadsheetml"):
		return formatSpreadsheet
	default:
		return formatText
	}
}
