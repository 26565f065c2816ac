package trace

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// NewID returns a fresh trace id.
func NewID() string { return uuid.NewString() }

// WithTraceID attaches a trace id to the context.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the trace id carried by ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

// Ensure returns ctx carrying a trace id, minting one when absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := FromContext(ctx); ok && id != "" {
		return ctx, id
	}
	id := NewID()
	return WithTraceID(ctx, id), id
}
