package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is an HTTP-facing error rendered as {"error":{...}}.
type Error struct {
	Status  int
	Code    string
	Message string
	Details []map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorBody is the inner object of the error envelope.
type ErrorBody struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Details []map[string]any `json:"details,omitempty"`
}

// ErrorEnvelope is the wire shape of every error response.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// Envelope is the wire shape of every success response.
type Envelope struct {
	Data any            `json:"data"`
	Meta map[string]any `json:"meta"`
}

// NotFoundError creates a 404 error.
func NotFoundError(resource, id string) error {
	return &Error{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// InvalidArgumentError creates a 400 error.
func InvalidArgumentError(field, reason string) error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("invalid %s: %s", field, reason),
		Details: []map[string]any{{"field": field, "reason": reason}},
	}
}

// FailedPreconditionError creates a 409 error.
func FailedPreconditionError(reason string) error {
	return &Error{
		Status:  http.StatusConflict,
		Code:    "FAILED_PRECONDITION",
		Message: reason,
	}
}

// UnavailableError creates a 503 error.
func UnavailableError(service string) error {
	return &Error{
		Status:  http.StatusServiceUnavailable,
		Code:    "UNAVAILABLE",
		Message: fmt.Sprintf("%s is temporarily unavailable", service),
	}
}

// InternalError creates a 500 error.
func InternalError(err error) error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: err.Error(),
	}
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if an error is a 404 error.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// WriteError renders err as an error envelope. Errors that are not *Error
// become INTERNAL_ERROR without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{
			Status:  http.StatusInternalServerError,
			Code:    "INTERNAL_ERROR",
			Message: "internal server error",
		}
	}
	writeJSON(w, e.Status, ErrorEnvelope{Error: ErrorBody{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}})
}

// WriteData renders data inside a success envelope.
func WriteData(w http.ResponseWriter, status int, data any, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	writeJSON(w, status, Envelope{Data: data, Meta: meta})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
