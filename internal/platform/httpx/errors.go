// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Sentinel errors for transport concerns.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
)

// RetryAfter is advertised on contention responses.
var RetryAfter = time.Second

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	if verr, ok := accounting.AsValidation(err); ok {
		WriteProblem(w, ProblemDetail{
			Type:       "validation",
			Title:      "Validation Failed",
			Status:     http.StatusUnprocessableEntity,
			Detail:     accounting.ErrValidation.Error(),
			Violations: verr.Violations,
		})
		return
	}
	if ierr, ok := accounting.AsIntegrity(err); ok {
		WriteProblem(w, ProblemDetail{
			Type:       "inconsistent",
			Title:      "Ledger Inconsistent",
			Status:     http.StatusInternalServerError,
			Detail:     ierr.Kind,
			AccountIDs: ierr.AccountIDs,
		})
		return
	}
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, accounting.ErrChartInvalid):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, ErrNotFound),
		errors.Is(err, accounting.ErrJournalNotFound),
		errors.Is(err, accounting.ErrAccountNotFound),
		errors.Is(err, accounting.ErrPeriodNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, accounting.ErrInvalidTransition),
		errors.Is(err, accounting.ErrAlreadyPosted),
		errors.Is(err, accounting.ErrAlreadyReversed),
		errors.Is(err, accounting.ErrDuplicateReference),
		errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyMismatch):
		Problem(w, http.StatusUnprocessableEntity, "Idempotency Key Reused", err.Error())
	case errors.Is(err, accounting.ErrLockTimeout):
		w.Header().Set("Retry-After", strconv.Itoa(int(RetryAfter.Seconds())))
		Problem(w, http.StatusServiceUnavailable, "Busy", accounting.ErrLockTimeout.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
