// Package requestid tags HTTP requests with an identifier that follows them
// into the logs.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is echoed on every response.
const Header = "X-Request-ID"

// deliveryHeader carries GitHub's webhook delivery GUID. Reusing it lets a
// log line be matched to the delivery in the repository settings.
const deliveryHeader = "X-GitHub-Delivery"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or "" when none is set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Logger returns logger with the request ID of ctx attached, if any.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id := FromContext(ctx); id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}

// Middleware assigns each request an ID: the GitHub delivery GUID, an
// incoming X-Request-ID, or a fresh UUID, in that order.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(deliveryHeader)
		if id == "" {
			id = r.Header.Get(Header)
		}
		var ctx context.Context
		if id == "" {
			ctx, id = New(r.Context())
		} else {
			ctx = WithRequestID(r.Context(), id)
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
