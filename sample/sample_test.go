package sample

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/types"
)

var edgeTraceIDs = []types.TraceID{
	{Low: 0},
	{Low: 1},
	{Low: 1 << 63}, // MinInt64 when read as signed
	{Low: math.MaxUint64},
	{Low: math.MaxInt64},
	{High: math.MaxUint64, Low: 12345},
}

func TestWithRateBoundaryLaws(t *testing.T) {
	always, err := WithRate(1)
	require.NoError(t, err)
	assert.Equal(t, AlwaysKeep, always)

	never, err := WithRate(0)
	require.NoError(t, err)
	assert.Equal(t, NeverKeep, never)

	for _, id := range edgeTraceIDs {
		assert.True(t, always.Keep(id), "rate 1 should keep %v", id)
		assert.False(t, never.Keep(id), "rate 0 should drop %v", id)
	}
}

func TestWithRateRejectsOutOfRange(t *testing.T) {
	for _, rate := range []float64{-0.01, 1.01, math.NaN(), math.Inf(1)} {
		_, err := WithRate(rate)
		assert.Error(t, err, "rate %v", rate)
	}
}

func TestBoundaryFor(t *testing.T) {
	assert.Equal(t, int64(1<<62), boundaryFor(0.5))
	assert.Equal(t, int64(math.MaxInt64), boundaryFor(1))
	assert.Equal(t, int64(0), boundaryFor(0))

	s, err := WithRate(0.5)
	require.NoError(t, err)
	ds := s.(*DeterministicSampler)
	assert.Equal(t, 0.5, ds.Rate())
	assert.Equal(t, int64(1<<62), ds.Boundary())
}

func TestKeepLow(t *testing.T) {
	// -1 becomes 1
	assert.True(t, keepLow(math.MaxUint64, 2))
	assert.False(t, keepLow(math.MaxUint64, 1))
	// MinInt64 has no positive counterpart and is treated as the maximum
	assert.False(t, keepLow(1<<63, math.MaxInt64))
	assert.True(t, keepLow(0, 1))
	assert.False(t, keepLow(0, 0))
}

func TestDeterministicDecisions(t *testing.T) {
	s, err := WithRate(0.3)
	require.NoError(t, err)
	other, err := WithRate(0.3)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(42))
	ids := make([]types.TraceID, 10000)
	first := make([]bool, len(ids))
	for i := range ids {
		ids[i] = types.TraceID{High: r.Uint64(), Low: r.Uint64()}
		first[i] = s.Keep(ids[i])
	}

	kept := 0
	// a second pass, in reverse, from a separately built sampler
	for i := len(ids) - 1; i >= 0; i-- {
		decision := other.Keep(ids[i])
		assert.Equal(t, first[i], decision)
		if decision {
			kept++
		}
	}
	assert.InDelta(t, 0.3, float64(kept)/float64(len(ids)), 0.03)
}

func TestHighBitsDoNotAffectDecision(t *testing.T) {
	s, err := WithRate(0.5)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		low := r.Uint64()
		assert.Equal(t,
			s.Keep(types.TraceID{Low: low}),
			s.Keep(types.TraceID{High: r.Uint64(), Low: low}))
	}
}

func TestSamplerFactory(t *testing.T) {
	rate := 0.25
	tests := []struct {
		name      string
		collector config.CollectorConfig
		check     func(t *testing.T, s Sampler)
		wantErr   bool
	}{
		{
			name:      "fixed rate",
			collector: config.CollectorConfig{SampleRate: &rate},
			check: func(t *testing.T, s Sampler) {
				require.IsType(t, &DeterministicSampler{}, s)
				assert.Equal(t, 0.25, s.(*DeterministicSampler).Rate())
			},
		},
		{
			name:      "unset rate keeps everything",
			collector: config.CollectorConfig{},
			check: func(t *testing.T, s Sampler) {
				assert.Equal(t, AlwaysKeep, s)
			},
		},
		{
			name: "local target",
			collector: config.CollectorConfig{
				SampleRate:           &rate,
				TargetSpansPerSecond: 100,
				RateSource:           "local",
				RefreshInterval:      config.Duration(60_000_000_000),
			},
			check: func(t *testing.T, s Sampler) {
				require.IsType(t, &RefreshingSampler{}, s)
				assert.Equal(t, 0.25, s.(*RefreshingSampler).Rate())
			},
		},
		{
			name: "redis target without redis",
			collector: config.CollectorConfig{
				TargetSpansPerSecond: 100,
				RateSource:           "redis",
			},
			wantErr: true,
		},
		{
			name: "unknown source",
			collector: config.CollectorConfig{
				TargetSpansPerSecond: 100,
				RateSource:           "zookeeper",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &SamplerFactory{
				Config:  &config.MockConfig{GetCollectorConfigVal: tt.collector},
				Logger:  &logger.NullLogger{},
				Metrics: &metrics.NullMetrics{},
			}
			defer f.Stop()

			s, err := f.GetSampler()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, s)
		})
	}
}
