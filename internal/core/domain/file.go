package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type FileKind string

const (
	FileKindDocument   FileKind = "document"
	FileKindGeospatial FileKind = "geospatial"
)

func ParseFileKind(raw string) (FileKind, error) {
	switch FileKind(strings.TrimSpace(raw)) {
	case FileKindDocument:
		return FileKindDocument, nil
	case FileKindGeospatial:
		return FileKindGeospatial, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse file kind", fmt.Errorf("unknown kind %q", raw))
	}
}

// DetectFileKind maps an uploaded name and content type onto a kind.
// Accepted documents are pdf, plain text, markdown and xlsx; geospatial files
// are GeoJSON.
func DetectFileKind(filename, mimeType string) (FileKind, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	mime := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	if ext == ".geojson" || mime == "application/geo+json" {
		return FileKindGeospatial, nil
	}
	switch ext {
	case ".pdf", ".txt", ".md", ".markdown", ".xlsx":
		return FileKindDocument, nil
	}
	switch mime {
	case "application/pdf", "text/plain", "text/markdown",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FileKindDocument, nil
	}
	return "", WrapError(
		ErrInvalidInput,
		"detect file kind",
		fmt.Errorf("unsupported file type: name=%s mime=%s", filename, mimeType),
	)
}

type FileStatus string

const (
	FileStatusUploaded   FileStatus = "uploaded"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusFailed     FileStatus = "failed"
)

func ParseFileStatus(raw string) (FileStatus, error) {
	switch FileStatus(strings.TrimSpace(raw)) {
	case FileStatusUploaded:
		return FileStatusUploaded, nil
	case FileStatusProcessing:
		return FileStatusProcessing, nil
	case FileStatusCompleted:
		return FileStatusCompleted, nil
	case FileStatusFailed:
		return FileStatusFailed, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse file status", fmt.Errorf("unknown status %q", raw))
	}
}

func (s FileStatus) IsTerminal() bool {
	switch s {
	case FileStatusCompleted, FileStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo encodes uploaded -> processing -> {completed, failed}.
// uploaded -> failed covers a trigger that could not be enqueued.
func (s FileStatus) CanTransitionTo(next FileStatus) bool {
	switch s {
	case FileStatusUploaded:
		return next == FileStatusProcessing || next == FileStatusFailed
	case FileStatusProcessing:
		return next == FileStatusCompleted || next == FileStatusFailed
	case FileStatusCompleted, FileStatusFailed:
		return false
	default:
		return false
	}
}

// CheckTransition returns ErrInvalidTransition for any edge outside the lifecycle.
func CheckTransition(from, to FileStatus) error {
	if from.CanTransitionTo(to) {
		return nil
	}
	return WrapError(ErrInvalidTransition, "file status", fmt.Errorf("%s -> %s", from, to))
}

type File struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	OwnerID    string     `json:"owner_id"`
	Name       string     `json:"name"`
	MimeType   string     `json:"mime_type"`
	StorageKey string     `json:"storage_key"`
	Kind       FileKind   `json:"kind"`
	Status     FileStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type FileFilter struct {
	Kind FileKind
}

// ProcessResult reports the outcome of one pipeline run for a file.
type ProcessResult struct {
	FileID            string     `json:"file_id"`
	Kind              FileKind   `json:"kind"`
	Status            FileStatus `json:"status"`
	Skipped           bool       `json:"skipped"`
	InsightsWritten   int        `json:"insights_written"`
	CandidatesDropped int        `json:"candidates_dropped"`
	FailureReason     string     `json:"failure_reason,omitempty"`
}
