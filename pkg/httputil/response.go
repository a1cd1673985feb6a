package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/errors"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/logger"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/validator"
)

// ErrorBody is the envelope used for every error response.
type ErrorBody struct {
	Error *ErrorResponse `json:"error"`
}

// ErrorResponse describes a single error.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// MessageResponse acknowledges a write that returns no resource.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorCode writes an error envelope with an explicit status and code.
func WriteErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{Error: &ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	}})
}

// WriteError maps err to a status code and writes the error envelope.
// Field-level validation failures are reported with their fields; 5xx and
// persistence errors are logged with the request-scoped logger, falling back
// to fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}

	requestID := logger.CorrelationIDFromContext(r.Context())

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, ErrorBody{Error: &ErrorResponse{
			Code:      "VALIDATION_ERROR",
			Message:   "request validation failed",
			Fields:    valErr.Fields(),
			RequestID: requestID,
		}})
		return
	}

	resp := &ErrorResponse{
		Code:      "INTERNAL_ERROR",
		Message:   "an internal error occurred",
		RequestID: requestID,
	}
	status := apperrors.HTTPStatus(err)

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Code = appErr.Code
		resp.Message = appErr.Message
	} else {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			resp.Code, resp.Message = "NOT_FOUND", "resource not found"
		case errors.Is(err, apperrors.ErrConflict):
			resp.Code, resp.Message = "CONFLICT", "resource conflict"
		case errors.Is(err, apperrors.ErrInvalidInput):
			resp.Code, resp.Message = "INVALID_INPUT", err.Error()
		case errors.Is(err, apperrors.ErrPersistence):
			resp.Code, resp.Message = "PERSISTENCE_FAILURE", "database operation failed"
		}
	}

	if status >= http.StatusInternalServerError || errors.Is(err, apperrors.ErrPersistence) {
		l.ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.String("code", resp.Code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, status, ErrorBody{Error: resp})
}
