// Package httpx holds the shared HTTP error envelope used by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/star-cafe/api/internal/platform/requestctx"
)

// Error is the JSON error envelope every handler returns. Request and trace
// identifiers are filled from context when the caller leaves them empty.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError constructs an Error with the provided code, message and status.
func NewError(code, message string, status int) Error {
	return Error{
		Code:    clip(code, 80),
		Message: clip(message, 512),
		Status:  statusOrDefault(status),
	}
}

// WithRequestID sets the request identifier on the error payload.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clip(id, 80)
	return e
}

// WithTraceID sets the trace identifier on the error payload.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clip(id, 64)
	return e
}

// WithDetails attaches additional JSON-serialisable metadata.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	copied := make(map[string]any, len(details))
	for k, v := range details {
		copied[k] = v
	}
	e.Details = copied
	return e
}

// envelope resolves missing identifiers from ctx and builds the wire payload.
func (e Error) envelope(ctx context.Context) map[string]any {
	payload := map[string]any{
		"error":   e.Code,
		"message": e.Message,
		"status":  statusOrDefault(e.Status),
	}

	if requestID := firstNonEmpty(e.RequestID, clip(middleware.GetReqID(ctx), 80)); requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID := firstNonEmpty(e.TraceID, clip(requestctx.TraceID(ctx), 64)); traceID != "" {
		payload["trace_id"] = traceID
	}
	for k, v := range e.Details {
		payload[k] = v
	}
	return payload
}

// WriteError writes the structured error as JSON to the response writer.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOrDefault(err.Status))
	_ = json.NewEncoder(w).Encode(err.envelope(ctx))
}

func statusOrDefault(status int) int {
	if status == 0 {
		return http.StatusInternalServerError
	}
	return status
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var lineBreaks = strings.NewReplacer("\n", " ", "\r", " ")

// clip flattens newlines and bounds the value length so log and wire payloads
// stay single-line.
func clip(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.TrimSpace(lineBreaks.Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
