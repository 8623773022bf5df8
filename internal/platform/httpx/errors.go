// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/karoseri/quotedesk/internal/shared"
)

// ErrUnauthenticated marks requests without a resolvable session.
var ErrUnauthenticated = errors.New("authentication required")

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInvalidState),
		errors.Is(err, shared.ErrSequenceConflict),
		errors.Is(err, shared.ErrAlreadyExists),
		errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807. Unclassified
// errors are logged and answered without detail.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("unhandled error", slog.Any("error", err))
		}
		Problem(w, status, "Internal Error", "")
		return
	}
	Problem(w, status, titleFor(err), err.Error())
}

func titleFor(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "Unauthorized"
	case errors.Is(err, shared.ErrValidation):
		return "Validation Failed"
	case errors.Is(err, shared.ErrNotAuthorized):
		return "Forbidden"
	case errors.Is(err, shared.ErrNotFound):
		return "Not Found"
	case errors.Is(err, shared.ErrSequenceConflict):
		return "Sequence Conflict"
	case errors.Is(err, shared.ErrAlreadyExists), errors.Is(err, shared.ErrIdempotencyConflict):
		return "Duplicate"
	default:
		return "Invalid State"
	}
}
