package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lumina-bi/lumina-engine/pkg/apperrors"
)

// ApiResponse provides a consistent response structure
type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteServiceError translates a service-layer error into an HTTP error
// response. Sentinel errors carry client-safe text and map to specific
// statuses; anything unrecognized is logged and answered with an opaque 500
// using fallback as the message. Execution failures are also kept opaque so
// backend SQL and connection details never reach clients.
func WriteServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string) {
	var statusCode int
	var errorCode, message string

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		statusCode, errorCode, message = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, apperrors.ErrConflict):
		statusCode, errorCode, message = http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, apperrors.ErrUnsafeSQL):
		statusCode, errorCode, message = http.StatusBadRequest, "unsafe_sql", err.Error()
	case errors.Is(err, apperrors.ErrInvalidInput):
		statusCode, errorCode, message = http.StatusBadRequest, "invalid_input", err.Error()
	case errors.Is(err, apperrors.ErrExecutionFailed), errors.Is(err, apperrors.ErrBackendUnavailable):
		logger.Error("Query execution failed", zap.Error(err))
		statusCode, errorCode, message = http.StatusBadGateway, "execution_failed", "Query execution failed on all configured backends"
	default:
		logger.Error(fallback, zap.Error(err))
		statusCode, errorCode, message = http.StatusInternalServerError, "internal_error", fallback
	}

	if werr := ErrorResponse(w, statusCode, errorCode, message); werr != nil {
		logger.Error("Failed to write error response", zap.Error(werr))
	}
}
