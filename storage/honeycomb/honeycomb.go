// Package honeycomb sends spans to Honeycomb as events.
package honeycomb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	libhoney "github.com/honeycombio/libhoney-go"
	"github.com/honeycombio/libhoney-go/transmission"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/storage"
	"github.com/honeycombio/intake/types"
)

// Storage turns each span into a libhoney event. A batch's call completes
// once Honeycomb has answered for every event in it.
type Storage struct {
	Config            config.Config   `inject:""`
	Logger            logger.Logger   `inject:""`
	Metrics           metrics.Metrics `inject:"metrics"`
	UpstreamTransport *http.Transport `inject:"upstreamTransport"`
	Version           string          `inject:"version"`

	client  *libhoney.Client
	builder *libhoney.Builder
	done    chan struct{}

	// sender overrides the transmission; used by tests
	sender transmission.Sender
}

var _ storage.Component = (*Storage)(nil)

const (
	counterEventsSent      = "honeycomb_events_sent"
	counterResponse20x     = "honeycomb_response_20x"
	counterResponseErrors  = "honeycomb_response_errors"
	counterEnqueueErrors   = "honeycomb_enqueue_errors"
	counterAbandoned       = "honeycomb_batches_abandoned"
	histogramResponseTimes = "honeycomb_response_duration"
)

var honeycombMetrics = []metrics.Metadata{
	{Name: counterEventsSent, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of span events handed to libhoney"},
	{Name: counterResponse20x, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of successful responses from Honeycomb"},
	{Name: counterResponseErrors, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of failed responses from Honeycomb"},
	{Name: counterEnqueueErrors, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of events libhoney refused to enqueue"},
	{Name: counterAbandoned, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of batches whose caller stopped waiting after the events were queued"},
	{Name: histogramResponseTimes, Type: metrics.Histogram, Unit: metrics.Milliseconds, Description: "Time taken by Honeycomb to answer a batch"},
}

func (s *Storage) Start() error {
	if s.Logger == nil {
		s.Logger = &logger.NullLogger{}
	}
	if s.Metrics == nil {
		s.Metrics = &metrics.NullMetrics{}
	}
	opts := s.Config.GetStorageConfig().Honeycomb

	tx := s.sender
	if tx == nil {
		if opts.APIKey == "" {
			return errors.New("honeycomb storage requires an API key")
		}
		hny := &transmission.Honeycomb{
			MaxBatchSize:         uint(opts.MaxBatchSize),
			BatchTimeout:         time.Duration(opts.BatchTimeout),
			MaxConcurrentBatches: libhoney.DefaultMaxConcurrentBatches,
			PendingWorkCapacity:  libhoney.DefaultPendingWorkCapacity,
			// a full queue should slow writers down rather than drop spans
			BlockOnSend:       true,
			UserAgentAddition: "intake/" + s.Version,
		}
		if s.UpstreamTransport != nil {
			hny.Transport = s.UpstreamTransport
		}
		tx = hny
	}

	client, err := libhoney.NewClient(libhoney.ClientConfig{
		APIHost:      opts.APIHost,
		APIKey:       opts.APIKey,
		Dataset:      opts.Dataset,
		Transmission: tx,
	})
	if err != nil {
		return err
	}
	s.client = client
	s.builder = client.NewBuilder()

	for _, metric := range honeycombMetrics {
		s.Metrics.Register(metric)
	}

	s.done = make(chan struct{})
	go s.readResponses()
	return nil
}

func (s *Storage) SpanConsumer() storage.SpanConsumer {
	return storage.ConsumerFunc(s.Accept)
}

// Accept returns a call that queues one event per span and completes when
// Honeycomb has answered for all of them. Canceling the call after the events
// are queued does not unsend them: the caller sees a cancellation and counts
// the spans as dropped, but libhoney still delivers them. Such batches are
// counted in honeycomb_batches_abandoned, and their late responses still
// count towards the response counters.
func (s *Storage) Accept(spans []*types.Span) call.Call[struct{}] {
	return call.Func(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.send(ctx, spans)
	})
}

func (s *Storage) send(ctx context.Context, spans []*types.Span) error {
	if len(spans) == 0 {
		return nil
	}
	batch := newPendingBatch(len(spans))
	for _, span := range spans {
		ev := s.builder.NewEvent()
		ev.Metadata = batch
		ev.Timestamp = span.Timestamp
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		ev.Add(spanFields(span))
		if err := ev.SendPresampled(); err != nil {
			s.Metrics.Increment(counterEnqueueErrors)
			batch.report(err)
			continue
		}
		s.Metrics.Increment(counterEventsSent)
	}

	select {
	case <-batch.done:
		s.Metrics.Histogram(histogramResponseTimes, float64(time.Since(batch.start).Milliseconds()))
		return batch.err()
	case <-ctx.Done():
		s.Metrics.Increment(counterAbandoned)
		return ctx.Err()
	}
}

func spanFields(span *types.Span) map[string]any {
	fields := make(map[string]any, len(span.Tags)+8)
	for k, v := range span.Tags {
		fields[k] = v
	}
	fields["trace.trace_id"] = span.TraceID.String()
	fields["trace.span_id"] = span.ID.String()
	if span.ParentID != nil {
		fields["trace.parent_id"] = span.ParentID.String()
	}
	fields["name"] = span.Name
	if span.Kind != "" {
		fields["span.kind"] = string(span.Kind)
	}
	fields["duration_ms"] = float64(span.Duration) / float64(time.Millisecond)
	if span.LocalEndpoint != nil {
		fields["service.name"] = span.LocalEndpoint.ServiceName
	}
	if span.RemoteEndpoint != nil && span.RemoteEndpoint.ServiceName != "" {
		fields["remote_service.name"] = span.RemoteEndpoint.ServiceName
	}
	if len(span.Annotations) > 0 {
		fields["annotation_count"] = len(span.Annotations)
	}
	return fields
}

func (s *Storage) readResponses() {
	responses := s.client.TxResponses()
	for {
		select {
		case <-s.done:
			return
		case resp, ok := <-responses:
			if !ok {
				return
			}
			batch, ok := resp.Metadata.(*pendingBatch)
			if !ok {
				continue
			}
			var err error
			switch {
			case resp.Err != nil:
				err = resp.Err
			case resp.StatusCode < 200 || resp.StatusCode > 202:
				err = fmt.Errorf("honeycomb returned status %d: %s", resp.StatusCode, resp.Body)
			}
			if err != nil {
				s.Metrics.Increment(counterResponseErrors)
				s.Logger.Debug().WithField("status_code", resp.StatusCode).Logf("failed to send span: %v", err)
			} else {
				s.Metrics.Increment(counterResponse20x)
			}
			batch.report(err)
		}
	}
}

func (s *Storage) Check(context.Context) error {
	if s.client == nil {
		return errors.New("honeycomb storage not started")
	}
	return nil
}

func (s *Storage) Close() error {
	if s.client == nil {
		return nil
	}
	s.client.Flush()
	close(s.done)
	s.client.Close()
	s.client = nil
	return nil
}

func (s *Storage) Stop() error { return s.Close() }

// pendingBatch counts down the responses still owed for one Accept call.
type pendingBatch struct {
	start     time.Time
	remaining atomic.Int64
	done      chan struct{}

	mut      sync.Mutex
	firstErr error
}

func newPendingBatch(n int) *pendingBatch {
	b := &pendingBatch{start: time.Now(), done: make(chan struct{})}
	b.remaining.Store(int64(n))
	return b
}

func (b *pendingBatch) report(err error) {
	if err != nil {
		b.mut.Lock()
		if b.firstErr == nil {
			b.firstErr = err
		}
		b.mut.Unlock()
	}
	if b.remaining.Add(-1) == 0 {
		close(b.done)
	}
}

func (b *pendingBatch) err() error {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.firstErr
}
