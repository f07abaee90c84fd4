package types

import (
	"errors"
	"net/http"
)

// Error kinds shared by the engine, memory, registry and sync layers.
// Callers wrap them with context and test with errors.Is.
var (
	ErrInvalidConfig      = errors.New("invalid config")
	ErrAlreadyExists      = errors.New("already exists")
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrEndpointOffline    = errors.New("endpoint offline")
	ErrWatchdogExceeded   = errors.New("watchdog exceeded")
	ErrPersistenceFailure = errors.New("persistence failure")
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// HTTPStatus maps an error kind to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrTypeMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrEndpointOffline):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
