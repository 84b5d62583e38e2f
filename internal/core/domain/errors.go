package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrFileNotFound    = errors.New("file not found")
	ErrInsightNotFound = errors.New("insight not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTemporary       = errors.New("temporary failure")

	// Pipeline and review failure kinds.
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrValidationFailed    = errors.New("validation failed")
	ErrPersistenceFailed   = errors.New("persistence failed")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrAnalysisUnavailable = errors.New("analysis unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsNotFound reports whether err carries any of the not-found kinds.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrFileNotFound) ||
		errors.Is(err, ErrInsightNotFound)
}
