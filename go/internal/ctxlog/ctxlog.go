// Package ctxlog carries request-scoped zerolog loggers through context.Context.
package ctxlog

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestIDHeader is echoed back on every HTTP response
const RequestIDHeader = "X-Request-Id"

// From returns the logger stored in ctx, or the global logger
func From(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

// With stores a child of ctx's logger carrying one extra string field
func With(ctx context.Context, key, value string) context.Context {
	l := From(ctx).With().Str(key, value).Logger()
	return l.WithContext(ctx)
}

// WithRequestID tags ctx's logger with request_id
func WithRequestID(ctx context.Context, id string) context.Context {
	return With(ctx, "request_id", id)
}

// Component tags ctx's logger with component
func Component(ctx context.Context, name string) context.Context {
	return With(ctx, "component", name)
}

// Middleware gives every request a request id, reusing the caller's when present
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
