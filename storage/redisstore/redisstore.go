// Package redisstore keeps spans in Redis, one list per trace, so that every
// collector in a cluster writes to the same place.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/codec"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/internal/redis"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/storage"
	"github.com/honeycombio/intake/types"
)

const (
	defaultKeyPrefix = "intake:trace:"
	defaultTTL       = 72 * time.Hour
)

// Storage appends each span, JSON encoded, to a list keyed by its trace id.
// Every write refreshes the list's TTL.
type Storage struct {
	Config      config.Config   `inject:""`
	Logger      logger.Logger   `inject:""`
	Metrics     metrics.Metrics `inject:"metrics"`
	RedisClient *redis.Client   `inject:""`

	keyPrefix string
	ttl       time.Duration
}

var _ storage.Component = (*Storage)(nil)
var _ storage.TraceGetter = (*Storage)(nil)

var redisStoreMetrics = []metrics.Metadata{
	{Name: "redisstore_write_errors", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of span batches that failed to write to Redis"},
	{Name: "redisstore_spans_written", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of spans written to Redis"},
	{Name: "redisstore_write_latency", Type: metrics.Histogram, Unit: metrics.Milliseconds, Description: "Time taken to write a batch of spans to Redis"},
}

func (s *Storage) Start() error {
	if s.RedisClient == nil || s.RedisClient.Universal() == nil {
		return errors.New("missing Redis connection in redisstore")
	}
	if s.Logger == nil {
		s.Logger = &logger.NullLogger{}
	}
	if s.Metrics == nil {
		s.Metrics = &metrics.NullMetrics{}
	}

	s.keyPrefix = defaultKeyPrefix
	s.ttl = defaultTTL
	if s.Config != nil {
		opts := s.Config.GetStorageConfig().Redis
		if opts.KeyPrefix != "" {
			s.keyPrefix = opts.KeyPrefix
		}
		if opts.TTL > 0 {
			s.ttl = time.Duration(opts.TTL)
		}
	}

	for _, metric := range redisStoreMetrics {
		s.Metrics.Register(metric)
	}
	return nil
}

func (s *Storage) key(traceID types.TraceID) string {
	return s.keyPrefix + traceID.String()
}

func (s *Storage) SpanConsumer() storage.SpanConsumer {
	return storage.ConsumerFunc(s.Accept)
}

// Accept returns a call that writes the spans in one transaction. The write
// runs on its own goroutine when the call is enqueued.
func (s *Storage) Accept(spans []*types.Span) call.Call[struct{}] {
	write := call.Func(func(ctx context.Context) (int, error) {
		return s.write(ctx, spans)
	})
	return call.Map(write, func(written int) struct{} {
		s.Metrics.Count("redisstore_spans_written", written)
		return struct{}{}
	})
}

// write returns the number of spans committed.
func (s *Storage) write(ctx context.Context, spans []*types.Span) (int, error) {
	// encode up front so a bad span doesn't leave a half-written batch
	encoded := make(map[string][]any)
	var keys []string
	for _, span := range spans {
		b, err := codec.JSONV2.EncodeSpan(span)
		if err != nil {
			return 0, fmt.Errorf("encoding span %s: %w", types.IDString(span), err)
		}
		k := s.key(span.TraceID)
		if _, ok := encoded[k]; !ok {
			keys = append(keys, k)
		}
		encoded[k] = append(encoded[k], b)
	}

	start := time.Now()
	pipe := s.RedisClient.Universal().TxPipeline()
	for _, k := range keys {
		pipe.RPush(ctx, k, encoded[k]...)
		pipe.Expire(ctx, k, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	s.Metrics.Histogram("redisstore_write_latency", float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.Metrics.Increment("redisstore_write_errors")
		return 0, err
	}
	return len(spans), nil
}

func (s *Storage) GetTrace(ctx context.Context, traceID types.TraceID) ([]*types.Span, error) {
	values, err := s.RedisClient.Universal().LRange(ctx, s.key(traceID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, storage.ErrTraceNotFound
	}

	spans := make([]*types.Span, 0, len(values))
	for _, v := range values {
		span, err := codec.JSONV2.DecodeSpan([]byte(v))
		if err != nil {
			s.Logger.Warn().WithField("trace_id", traceID.String()).Logf("skipping unreadable span: %v", err)
			continue
		}
		spans = append(spans, span)
	}
	return spans, nil
}

func (s *Storage) Check(ctx context.Context) error {
	return s.RedisClient.Check(ctx)
}

// Close is a no-op; the Redis connection belongs to the redis.Client.
func (s *Storage) Close() error { return nil }
