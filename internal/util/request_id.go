package util

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// RequestIDHeader carries the request id between the gateway, the services and clients.
const RequestIDHeader = "X-Request-Id"

const maxRequestIDLength = 64

type requestIDKey struct{}

// WithRequestID tags each request with an id. A well-formed incoming
// X-Request-Id is kept and anything else is replaced by a fresh id. The id is
// echoed in the response and attached to the context logger as "request_id".
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if !validRequestID(id) {
			id = NewID()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = ContextWithLogger(ctx, LoggerFromContext(r.Context()).With(slog.String("request_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID accepts at most 64 letters, digits, '-', '_' or '.'.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}

// RequestIDFromContext returns the id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDFromRequest returns the id of r, or "".
func RequestIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	return RequestIDFromContext(r.Context())
}
