// Package sample decides which traces are kept. Decisions depend only on the
// trace id and the current rate, so every collector instance that sees a span
// of the same trace makes the same call.
package sample

import (
	"fmt"
	"math"
	"time"

	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/internal/redis"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/types"
)

type Sampler interface {
	// Keep reports whether spans of the trace should be retained.
	Keep(traceID types.TraceID) bool
}

type constSampler bool

func (c constSampler) Keep(types.TraceID) bool { return bool(c) }

func (c constSampler) String() string {
	if c {
		return "AlwaysKeep"
	}
	return "NeverKeep"
}

var (
	AlwaysKeep Sampler = constSampler(true)
	NeverKeep  Sampler = constSampler(false)
)

// WithRate returns a sampler keeping the given fraction of traces. A rate of
// 1 returns AlwaysKeep and a rate of 0 returns NeverKeep.
func WithRate(rate float64) (Sampler, error) {
	if err := checkRate(rate); err != nil {
		return nil, err
	}
	switch rate {
	case 0:
		return NeverKeep, nil
	case 1:
		return AlwaysKeep, nil
	}
	return &DeterministicSampler{boundary: boundaryFor(rate), rate: rate}, nil
}

func checkRate(rate float64) error {
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		return fmt.Errorf("sample rate should be between 0 and 1: was %v", rate)
	}
	return nil
}

// boundaryFor maps a rate onto [0, MaxInt64]. A trace is kept when its
// derived value is strictly below the boundary.
func boundaryFor(rate float64) int64 {
	b := math.Round(float64(math.MaxInt64) * rate)
	// float64(MaxInt64) rounds up to 2^63, which does not fit
	if b >= float64(math.MaxInt64) {
		return math.MaxInt64
	}
	if b <= 0 {
		return 0
	}
	return int64(b)
}

// keepLow compares the lower 64 bits of a trace id against a boundary. Only
// the low bits are used, so a 64-bit id and the 128-bit id that extends it
// get the same answer.
func keepLow(low uint64, boundary int64) bool {
	t := int64(low)
	// abs(MinInt64) overflows; treat it as the largest value instead
	if t == math.MinInt64 {
		t = math.MaxInt64
	} else if t < 0 {
		t = -t
	}
	return t < boundary
}

// SamplerFactory builds the process-wide sampler from the collector config.
type SamplerFactory struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`
	Redis   *redis.Client   `inject:""`

	refreshing *RefreshingSampler
}

// GetSampler returns a fixed-rate sampler, or a refreshing one when a target
// throughput is configured. A refreshing sampler is started before it is
// returned; Stop stops it.
func (s *SamplerFactory) GetSampler() (Sampler, error) {
	c := s.Config.GetCollectorConfig()

	if c.TargetSpansPerSecond <= 0 {
		sampler, err := WithRate(c.GetSampleRate())
		if err != nil {
			return nil, err
		}
		s.Logger.Debug().WithField("sample_rate", c.GetSampleRate()).Logf("created fixed rate sampler")
		return sampler, nil
	}

	var source RateSource
	switch c.RateSource {
	case "local", "":
		source = &LocalThroughput{Target: c.TargetSpansPerSecond}
	case "redis":
		if s.Redis == nil || s.Redis.Universal() == nil {
			return nil, fmt.Errorf("rate source redis requires a redis connection")
		}
		source = &RedisRateSource{
			Client: s.Redis.Universal(),
			Target: c.TargetSpansPerSecond,
		}
	default:
		return nil, fmt.Errorf("unknown rate source %q", c.RateSource)
	}

	rs := &RefreshingSampler{
		Source:   source,
		Interval: time.Duration(c.RefreshInterval),
		Logger:   s.Logger,
		Metrics:  s.Metrics,
	}
	if err := rs.Start(c.GetSampleRate()); err != nil {
		return nil, err
	}
	s.refreshing = rs
	s.Logger.Info().WithFields(map[string]any{
		"target_spans_per_second": c.TargetSpansPerSecond,
		"rate_source":             c.RateSource,
	}).Logf("created refreshing sampler")
	return rs, nil
}

func (s *SamplerFactory) Stop() error {
	if s.refreshing != nil {
		s.refreshing.Stop()
	}
	return nil
}
