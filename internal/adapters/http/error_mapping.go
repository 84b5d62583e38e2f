package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

// kindStatuses is checked in order; the first matching kind wins.
var kindStatuses = []struct {
	kind   error
	status int
}{
	{domain.ErrInvalidInput, http.StatusBadRequest},
	{domain.ErrUnauthorized, http.StatusUnauthorized},
	{domain.ErrProjectNotFound, http.StatusNotFound},
	{domain.ErrFileNotFound, http.StatusNotFound},
	{domain.ErrInsightNotFound, http.StatusNotFound},
	{domain.ErrInvalidTransition, http.StatusConflict},
	{domain.ErrAnalysisUnavailable, http.StatusBadGateway},
	{domain.ErrTemporary, http.StatusServiceUnavailable},
}

func mapErrorToHTTPStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	for _, entry := range kindStatuses {
		if domain.IsKind(err, entry.kind) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

// publicMessage hides internal failure detail from clients.
func publicMessage(status int, err error) string {
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		return "internal error"
	}
	return err.Error()
}
