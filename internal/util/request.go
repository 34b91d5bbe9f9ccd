package util

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const requestIDRandBytes = 3

// GenerateRequestID produces ids of the form req_<ms-since-epoch>_<rand6>,
// sortable by creation time with enough entropy to avoid collisions within
// one millisecond.
func GenerateRequestID() string {
	suffix := fmt.Sprintf("%06x", rand.Intn(1<<(8*requestIDRandBytes)))
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), suffix)
}

type requestIDKey struct{}

// WithRequestID stores a request id in the context. Assigned once at the
// edge; every component downstream reuses the same id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the stored request id, or empty when the
// request never passed through the logging middleware.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
