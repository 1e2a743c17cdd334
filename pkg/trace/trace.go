// Package trace carries per-request correlation data through the call tree.
//
// A TraceContext is minted (or adopted from the X-Trace-ID header) at the
// gateway and attached to the request context. Every log line, audit record
// and published event downstream carries the same trace id.
package trace

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// HeaderName is the HTTP header used to propagate trace ids.
const HeaderName = "X-Trace-ID"

// TraceContext correlates all work done on behalf of a single request.
type TraceContext struct {
	TraceID   string
	StartedAt time.Time
	// Deadline is zero when the caller imposed none. Suspension points
	// honour it through the derived context.Context, not by reading it.
	Deadline time.Time
}

// New mints a TraceContext with a fresh uuid v4 trace id.
func New() TraceContext {
	return TraceContext{
		TraceID:   uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
}

// FromID adopts a caller-supplied trace id, minting one if it is empty.
func FromID(traceID string) TraceContext {
	if traceID == "" {
		return New()
	}
	return TraceContext{TraceID: traceID, StartedAt: time.Now().UTC()}
}

type ctxKey struct{}

// WithContext attaches tc to ctx. If tc carries a deadline, the returned
// context expires at it; the CancelFunc must be called on all exits.
func WithContext(ctx context.Context, tc TraceContext) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, ctxKey{}, tc)
	if !tc.Deadline.IsZero() {
		return context.WithDeadline(ctx, tc.Deadline)
	}
	return ctx, func() {}
}

// FromContext returns the TraceContext attached to ctx, or a zero value
// with ok=false when none is present.
func FromContext(ctx context.Context) (TraceContext, bool) {
	tc, ok := ctx.Value(ctxKey{}).(TraceContext)
	return tc, ok
}

// ID is a convenience accessor: the trace id in ctx, or "" when absent.
func ID(ctx context.Context) string {
	if tc, ok := FromContext(ctx); ok {
		return tc.TraceID
	}
	return ""
}
