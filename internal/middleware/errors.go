package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

const maxClientMessage = 200

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorSanitizer maps errors to status codes and client-safe messages
type ErrorSanitizer struct {
	logger *zap.Logger
}

// NewErrorSanitizer creates a new error sanitizer
func NewErrorSanitizer(logger *zap.Logger) *ErrorSanitizer {
	return &ErrorSanitizer{
		logger: logger,
	}
}

// StatusFor returns the HTTP status for err: 400 for invalid arguments, 404
// for unknown entities or metrics, 500 otherwise.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, timeseries.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, timeseries.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Respond logs err and writes it with the status chosen by StatusFor
func (es *ErrorSanitizer) Respond(w http.ResponseWriter, r *http.Request, err error) {
	es.RespondWithStatus(w, r, err, StatusFor(err))
}

// RespondWithStatus logs err and writes a sanitized JSON error with statusCode
func (es *ErrorSanitizer) RespondWithStatus(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	fields := []zap.Field{
		zap.Error(err),
		zap.Int("status_code", statusCode),
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	}
	if statusCode >= http.StatusInternalServerError {
		es.logger.Error("Request failed", fields...)
	} else {
		es.logger.Debug("Request rejected", fields...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     sanitizeErrorMessage(err.Error(), statusCode),
		Status:    statusCode,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// sanitizeErrorMessage passes client errors through (first line, truncated)
// and hides server-side failures behind a generic message.
func sanitizeErrorMessage(message string, statusCode int) string {
	if statusCode >= http.StatusInternalServerError {
		return genericErrorMessage(statusCode)
	}

	sensitivePatterns := []string{
		"sql", "database", "prometheus", "kubernetes", "connection", "dial tcp",
	}
	lower := strings.ToLower(message)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lower, pattern) {
			return genericErrorMessage(statusCode)
		}
	}

	if idx := strings.IndexByte(message, '\n'); idx != -1 {
		message = message[:idx]
	}
	if len(message) > maxClientMessage {
		message = message[:maxClientMessage] + "..."
	}
	if strings.TrimSpace(message) == "" {
		return genericErrorMessage(statusCode)
	}
	return message
}

// genericErrorMessage returns appropriate generic messages based on HTTP status
func genericErrorMessage(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "Invalid request. Please check your input and try again."
	case http.StatusNotFound:
		return "The requested resource was not found."
	case http.StatusMethodNotAllowed:
		return "Method not allowed for this resource."
	case http.StatusRequestEntityTooLarge:
		return "The request body is too large."
	case http.StatusTooManyRequests:
		return "Too many requests. Please wait a moment and try again."
	case http.StatusInternalServerError:
		return "An internal server error occurred. Please try again later."
	case http.StatusGatewayTimeout:
		return "The request timed out. Please try again later."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
