package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"

	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
)

// TestService is a started Client backed by an in-process miniredis. Its
// clock drives miniredis time, so TTLs can be tested with FastForward.
type TestService struct {
	*Client
	Clock   *clockwork.FakeClock
	Service *miniredis.Miniredis
}

// NewTestService starts a miniredis server and a Client connected to it.
// Both are stopped when the test finishes.
func NewTestService(t testing.TB) *TestService {
	t.Helper()

	s := miniredis.RunT(t)
	clock := clockwork.NewFakeClock()
	s.SetTime(clock.Now())

	c := &Client{
		Config: &config.MockConfig{
			GetRedisConfigVal: config.RedisConfig{Host: s.Addr()},
		},
		Logger:  &logger.NullLogger{},
		Metrics: &metrics.NullMetrics{},
	}
	if err := c.Start(); err != nil {
		t.Fatalf("starting redis client: %v", err)
	}
	t.Cleanup(func() { c.Stop() })

	return &TestService{Client: c, Clock: clock, Service: s}
}

// Advance moves both the fake clock and miniredis' notion of time forward,
// expiring keys whose TTL has passed.
func (s *TestService) Advance(d time.Duration) {
	s.Clock.Advance(d)
	s.Service.SetTime(s.Clock.Now())
	s.Service.FastForward(d)
}
