// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Error classes a handler maps its domain errors onto before calling RespondError.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("conflict")
	ErrUnprocessable = errors.New("unprocessable")
	ErrUnavailable   = errors.New("service unavailable")
)

// RespondError writes err as a problem document. Unclassified errors become a
// 500 without detail so internals do not leak.
func RespondError(w http.ResponseWriter, err error) {
	p := ProblemDetail{Detail: err.Error()}
	switch {
	case errors.Is(err, ErrValidation):
		p.Status, p.Title, p.Type = http.StatusBadRequest, "Validation Failed", "validation"
		var fe FieldError
		if errors.As(err, &fe) {
			p.Field = fe.FieldName()
		}
	case errors.Is(err, ErrNotFound):
		p.Status, p.Title, p.Type = http.StatusNotFound, "Not Found", "not-found"
	case errors.Is(err, ErrConflict):
		p.Status, p.Title, p.Type = http.StatusConflict, "Conflict", "conflict"
	case errors.Is(err, ErrUnprocessable):
		p.Status, p.Title, p.Type = http.StatusUnprocessableEntity, "Unprocessable", "unprocessable"
	case errors.Is(err, ErrUnavailable):
		p.Status, p.Title, p.Type = http.StatusServiceUnavailable, "Unavailable", "unavailable"
	default:
		p = ProblemDetail{Status: http.StatusInternalServerError, Title: "Internal Error"}
	}
	writeProblem(w, p)
}
