package types

import "github.com/openzipkin/zipkin-go/model"

// Span is the unit that flows through the pipeline. It is the zipkin span
// model; every wire format decodes into it.
type Span = model.SpanModel

// TraceID is a 64 or 128 bit trace identifier. Low always holds the lower
// 64 bits.
type TraceID = model.TraceID

// SpanID is a 64 bit span identifier.
type SpanID = model.ID

// ContextKey namespaces values this module stores on a context.
type ContextKey string

// RequestIDContextKey carries a per-request id used in log lines.
const RequestIDContextKey ContextKey = "request_id"

// IDString renders a span's trace and span id as "traceID/spanID", the form
// used in log lines.
func IDString(s *Span) string {
	if s == nil {
		return "<nil>"
	}
	return s.TraceID.String() + "/" + s.ID.String()
}

// IDStrings renders at most max span ids, for log lines describing a batch.
func IDStrings(spans []*Span, max int) []string {
	if len(spans) < max {
		max = len(spans)
	}
	ids := make([]string, 0, max)
	for _, s := range spans[:max] {
		ids = append(ids, IDString(s))
	}
	return ids
}

// ParseTraceID accepts a 16 or 32 character lowercase hex string.
func ParseTraceID(s string) (TraceID, error) {
	return model.TraceIDFromHex(s)
}

// IsDebug reports whether the span was flagged for forced retention.
func IsDebug(s *Span) bool {
	return s != nil && s.Debug
}
