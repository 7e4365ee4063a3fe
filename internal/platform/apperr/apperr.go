// Package apperr defines the typed failures surfaced by the clinic services.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies an Error.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindInsufficientStock Kind = "InsufficientStock"
	KindValidation        Kind = "ValidationError"
	KindConflict          Kind = "Conflict"
)

// Error is a typed application failure. Two errors match under errors.Is when
// their kinds are equal, so callers can test against the exported sentinels.
type Error struct {
	Kind    Kind   `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Details == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Details)
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus returns the HTTP status code for the error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation, KindInsufficientStock:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock, Message: "insufficient stock"}
	ErrValidation        = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "conflict"}
)

func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found", Details: "id: " + id}
}

func InsufficientStock(itemID string, available, requested int) *Error {
	return &Error{
		Kind:    KindInsufficientStock,
		Message: "insufficient stock available",
		Details: fmt.Sprintf("item: %s, available: %d, requested: %d", itemID, available, requested),
	}
}

func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: "field: " + field}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Status maps any error to an HTTP status, defaulting to 500 for untyped errors.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// HTTPError converts err into an echo error carrying the mapped status.
func HTTPError(err error) *echo.HTTPError {
	return echo.NewHTTPError(Status(err), err.Error())
}
