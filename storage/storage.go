// Package storage defines what the collector needs from a span store.
// Implementations live in the subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/types"
)

// ErrTraceNotFound is returned by TraceGetter implementations when no span
// of the trace is stored.
var ErrTraceNotFound = errors.New("trace not found")

// SpanConsumer writes batches of spans. Accept does no work itself; the
// returned Call performs the write when it is run.
type SpanConsumer interface {
	Accept(spans []*types.Span) call.Call[struct{}]
}

// Component is a configured storage backend.
type Component interface {
	SpanConsumer() SpanConsumer
	// Check reports whether the backend is reachable.
	Check(ctx context.Context) error
	Close() error
}

// TraceGetter is implemented by backends that can read a trace back.
type TraceGetter interface {
	GetTrace(ctx context.Context, traceID types.TraceID) ([]*types.Span, error)
}

// ConsumerFunc adapts a function to SpanConsumer.
type ConsumerFunc func(spans []*types.Span) call.Call[struct{}]

func (f ConsumerFunc) Accept(spans []*types.Span) call.Call[struct{}] {
	return f(spans)
}
