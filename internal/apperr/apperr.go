package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the request lifecycle. Handlers map these to HTTP
// responses; everything else is treated as internal.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrNotEligible  = errors.New("provider not eligible for service type")
	ErrNotAccepted  = errors.New("provider has not accepted this request")
	ErrInvalidState = errors.New("operation not valid in current status")
	ErrConflict     = errors.New("concurrent update conflict")
)

// Wrap prefixes err with the failing operation, keeping the sentinel
// reachable through errors.Is.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Code returns the machine-readable error code surfaced to clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrNotAccepted):
		return "not_accepted"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "internal_error"
}

// HTTPStatus maps an error to its transport status. Business-rule
// violations and write conflicts are both 409; a conflict is safe for the
// client to retry, the others are not.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotEligible),
		errors.Is(err, ErrNotAccepted),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
