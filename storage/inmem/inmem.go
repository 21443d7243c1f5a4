// Package inmem keeps spans in process memory. It backs tests and
// single-node deployments that only need recent traces.
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/storage"
	"github.com/honeycombio/intake/types"
)

const defaultMaxSpans = 500000

// Storage holds at most MaxSpans spans. When a write pushes it over, whole
// traces are evicted oldest first.
type Storage struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`

	MaxSpans int

	mut       sync.Mutex
	traces    map[types.TraceID][]*types.Span
	order     []types.TraceID
	spanCount int
}

var _ storage.Component = (*Storage)(nil)
var _ storage.TraceGetter = (*Storage)(nil)

var inmemMetrics = []metrics.Metadata{
	{Name: "inmem_spans", Type: metrics.Gauge, Unit: metrics.Dimensionless, Description: "Number of spans held in memory"},
	{Name: "inmem_evicted_traces", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of traces evicted to stay within MaxSpans"},
}

// New returns a started Storage without dependencies, for tests and embedded
// use.
func New(maxSpans int) *Storage {
	s := &Storage{MaxSpans: maxSpans}
	s.Start()
	return s
}

func (s *Storage) Start() error {
	if s.Logger == nil {
		s.Logger = &logger.NullLogger{}
	}
	if s.Metrics == nil {
		s.Metrics = &metrics.NullMetrics{}
	}
	if s.MaxSpans == 0 && s.Config != nil {
		s.MaxSpans = s.Config.GetStorageConfig().InMem.MaxSpans
	}
	if s.MaxSpans <= 0 {
		s.MaxSpans = defaultMaxSpans
	}
	for _, metric := range inmemMetrics {
		s.Metrics.Register(metric)
	}
	s.traces = make(map[types.TraceID][]*types.Span)
	return nil
}

func (s *Storage) SpanConsumer() storage.SpanConsumer {
	return storage.ConsumerFunc(s.Accept)
}

// Accept returns a call that stores the spans on the calling goroutine.
func (s *Storage) Accept(spans []*types.Span) call.Call[struct{}] {
	return call.InlineFunc(func(ctx context.Context) (struct{}, error) {
		if err := ctx.Err(); err != nil {
			return struct{}{}, err
		}
		s.add(spans)
		return struct{}{}, nil
	})
}

func (s *Storage) add(spans []*types.Span) {
	s.mut.Lock()
	defer s.mut.Unlock()

	for _, span := range spans {
		existing, ok := s.traces[span.TraceID]
		if !ok {
			s.order = append(s.order, span.TraceID)
		}
		s.traces[span.TraceID] = append(existing, span)
		s.spanCount++
	}

	evicted := 0
	// never evict the last trace standing, even if it alone is too big
	for s.spanCount > s.MaxSpans && len(s.order) > 1 {
		oldest := s.order[0]
		s.order = s.order[1:]
		s.spanCount -= len(s.traces[oldest])
		delete(s.traces, oldest)
		evicted++
	}
	if evicted > 0 {
		s.Metrics.Count("inmem_evicted_traces", evicted)
		s.Logger.Debug().WithField("evicted", evicted).Logf("evicted traces to stay under MaxSpans")
	}
	s.Metrics.Gauge("inmem_spans", s.spanCount)
}

func (s *Storage) GetTrace(_ context.Context, traceID types.TraceID) ([]*types.Span, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	spans, ok := s.traces[traceID]
	if !ok {
		return nil, storage.ErrTraceNotFound
	}
	return append([]*types.Span(nil), spans...), nil
}

// GetTraces returns every stored trace, oldest first. Spans in each trace are
// ordered by timestamp.
func (s *Storage) GetTraces() [][]*types.Span {
	s.mut.Lock()
	defer s.mut.Unlock()

	traces := make([][]*types.Span, 0, len(s.order))
	for _, id := range s.order {
		spans := append([]*types.Span(nil), s.traces[id]...)
		sort.SliceStable(spans, func(i, j int) bool {
			return spans[i].Timestamp.Before(spans[j].Timestamp)
		})
		traces = append(traces, spans)
	}
	return traces
}

func (s *Storage) SpanCount() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.spanCount
}

func (s *Storage) Clear() {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.traces = make(map[types.TraceID][]*types.Span)
	s.order = nil
	s.spanCount = 0
}

func (s *Storage) Check(context.Context) error { return nil }

func (s *Storage) Close() error { return nil }

func (s *Storage) Stop() error { return s.Close() }
