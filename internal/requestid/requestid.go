// Package requestid carries a correlation ID through contexts and log lines.
// The bot tags each run with one; the ops server tags each request.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header used to pass the ID in and out.
const Header = "X-Request-ID"

type ctxKey struct{}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the ID in ctx, or a fresh one when there is none.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates an ID and returns the enriched context and the ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// OrNew returns id when it parses as a UUID, otherwise a fresh one.
func OrNew(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.New().String()
}

// Logger returns logger with the ID attached under field.
func Logger(ctx context.Context, logger zerolog.Logger, field string) zerolog.Logger {
	return logger.With().Str(field, FromContext(ctx)).Logger()
}
