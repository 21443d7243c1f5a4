package sample

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeycombio/intake/internal/redis"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/types"
)

type stubSource struct {
	mut  sync.Mutex
	kept []int64
	next float64
	err  error
}

func (s *stubSource) NextRate(_ context.Context, kept int64, _ time.Duration, _ float64) (float64, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.kept = append(s.kept, kept)
	return s.next, s.err
}

func (s *stubSource) reports() []int64 {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]int64(nil), s.kept...)
}

func TestRefreshingSamplerSwapsRate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	source := &stubSource{next: 0}
	m := &metrics.MockMetrics{}
	m.Start()
	rs := &RefreshingSampler{
		Source:   source,
		Interval: 10 * time.Second,
		Clock:    clock,
		Logger:   &logger.NullLogger{},
		Metrics:  m,
	}
	require.NoError(t, rs.Start(1))
	defer rs.Stop()

	for i := uint64(0); i < 5; i++ {
		assert.True(t, rs.Keep(types.TraceID{Low: i}))
	}
	// MinInt64 is kept while the rate is 1
	assert.True(t, rs.Keep(types.TraceID{Low: 1 << 63}))

	clock.Advance(10 * time.Second)
	assert.Eventually(t, func() bool { return rs.Rate() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{6}, source.reports())
	assert.False(t, rs.Keep(types.TraceID{Low: 1}))

	v, ok := m.Get("sample_rate")
	assert.True(t, ok)
	assert.Equal(t, float64(0), v)
}

func TestRefreshingSamplerKeepsRateOnError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	source := &stubSource{err: errors.New("unreachable")}
	m := &metrics.MockMetrics{}
	m.Start()
	rs := &RefreshingSampler{
		Source:   source,
		Interval: time.Second,
		Clock:    clock,
		Metrics:  m,
	}
	require.NoError(t, rs.Start(0.5))
	defer rs.Stop()

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool {
		v, _ := m.Get("sample_rate_refresh_errors")
		return v == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.5, rs.Rate())
}

func TestRefreshingSamplerRejectsBadInitialRate(t *testing.T) {
	rs := &RefreshingSampler{Source: &LocalThroughput{Target: 1}}
	assert.Error(t, rs.Start(2))
}

func TestRateForThroughput(t *testing.T) {
	tests := []struct {
		name     string
		target   int
		kept     int64
		interval time.Duration
		current  float64
		want     float64
	}{
		{"nothing kept", 10, 0, 10 * time.Second, 0.2, 1},
		{"twice the target", 10, 200, 10 * time.Second, 1, 0.5},
		{"on target", 10, 100, 10 * time.Second, 0.4, 0.4},
		{"under target", 10, 50, 10 * time.Second, 0.5, 1},
		{"far over target", 10, 1000, 10 * time.Second, 0.1, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&LocalThroughput{Target: tt.target}).NextRate(context.Background(), tt.kept, tt.interval, tt.current)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRedisRateSource(t *testing.T) {
	ts := redis.NewTestService(t)
	ctx := context.Background()
	interval := 10 * time.Second

	a := &RedisRateSource{Client: ts.Universal(), Target: 10, Clock: ts.Clock}
	b := &RedisRateSource{Client: ts.Universal(), Target: 10, Clock: ts.Clock}

	// no complete window yet
	rate, err := a.NextRate(ctx, 120, interval, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(1), rate)
	rate, err = b.NextRate(ctx, 80, interval, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(1), rate)

	window := ts.Clock.Now().Unix() / 10
	key := defaultRateKeyPrefix + itoa(window)
	total, err := ts.Service.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "200", total)
	assert.Equal(t, 30*time.Second, ts.Service.TTL(key))

	ts.Advance(interval)

	// the cluster kept 200 spans in 10s against a target of 10/s
	rate, err = a.NextRate(ctx, 0, interval, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rate, 1e-9)
	rate, err = b.NextRate(ctx, 0, interval, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rate, 1e-9)

	ts.Advance(interval)

	// nobody kept anything in the previous window
	rate, err = a.NextRate(ctx, 0, interval, 0.5)
	require.NoError(t, err)
	assert.Equal(t, float64(1), rate)
}

func TestRedisRateSourceError(t *testing.T) {
	ts := redis.NewTestService(t)
	ts.Service.SetError("LOADING server is loading")

	src := &RedisRateSource{Client: ts.Universal(), Target: 10, Clock: ts.Clock}
	rate, err := src.NextRate(context.Background(), 5, time.Second, 0.7)
	assert.Error(t, err)
	assert.Equal(t, 0.7, rate)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
