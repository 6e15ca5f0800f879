package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	domain "github.com/framefox/foxconnect/internal/domain"
	"github.com/framefox/foxconnect/internal/platform/requestctx"
)

// Error is the JSON error envelope of the operator HTTP surface. Details are merged into
// the top level of the body.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an Error; a zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: singleLine(code, 80), Message: singleLine(message, 512), Status: status}
}

// WithDetails returns a copy of e carrying details.
func (e Error) WithDetails(details map[string]any) Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// errorMapping pairs an engine sentinel with its envelope code and status. Order matters:
// the first match wins.
var errorMapping = []struct {
	target error
	code   string
	status int
}{
	{domain.ErrValidation, "invalid_request", http.StatusBadRequest},
	{domain.ErrInvalidOperation, "invalid_request", http.StatusBadRequest},
	{domain.ErrNotFound, "not_found", http.StatusNotFound},
	{domain.ErrConcurrentModification, "concurrent_modification", http.StatusConflict},
	{domain.ErrInvalidTransition, "invalid_transition", http.StatusConflict},
	{domain.ErrAlreadyCaptured, "already_captured", http.StatusConflict},
	{domain.ErrInvariantViolation, "invariant_violation", http.StatusUnprocessableEntity},
}

// FromError maps an engine error onto the envelope. Anything unrecognised becomes an opaque
// 500 so storage details stay out of responses.
func FromError(err error) Error {
	if err == nil {
		return NewError("internal_server_error", "internal server error", http.StatusInternalServerError)
	}
	if guard, ok := domain.FailedGuard(err); ok {
		return NewError("guard_failed", err.Error(), http.StatusConflict).
			WithDetails(map[string]any{"guard": string(guard)})
	}
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return NewError(m.code, err.Error(), m.status)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError("timeout", "request timed out", http.StatusGatewayTimeout)
	}
	return NewError("internal_server_error", "internal server error", http.StatusInternalServerError)
}

// WriteJSON encodes payload with status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError writes e, stamped with the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	body := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		body[k] = v
	}
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status
	if id := singleLine(middleware.GetReqID(ctx), 80); id != "" {
		body["request_id"] = id
	}
	if id := singleLine(requestctx.TraceID(ctx), 64); id != "" {
		body["trace_id"] = id
	}
	WriteJSON(w, e.Status, body)
}

func singleLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
