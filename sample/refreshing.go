package sample

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/types"
)

// RateSource decides the next sample rate. kept is the number of spans this
// process kept during the last interval, while current was in effect.
type RateSource interface {
	NextRate(ctx context.Context, kept int64, interval time.Duration, current float64) (float64, error)
}

// RefreshingSampler aims for a target throughput of kept spans. Every
// Interval it asks its RateSource for a new rate and swaps it in; Keep is
// deterministic for as long as a rate is in effect.
type RefreshingSampler struct {
	Source   RateSource
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   logger.Logger
	Metrics  metrics.Metrics

	current atomic.Pointer[rateState]
	kept    atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

type rateState struct {
	rate    float64
	sampler Sampler
}

var refreshingSamplerMetrics = []metrics.Metadata{
	{Name: "sample_rate", Type: metrics.Gauge, Unit: metrics.Dimensionless, Description: "The fraction of traces currently being kept"},
	{Name: "sample_rate_refresh_errors", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of times a new sample rate could not be computed"},
}

// Start installs the initial rate and begins refreshing it.
func (r *RefreshingSampler) Start(initialRate float64) error {
	if r.Clock == nil {
		r.Clock = clockwork.NewRealClock()
	}
	if r.Logger == nil {
		r.Logger = &logger.NullLogger{}
	}
	if r.Metrics == nil {
		r.Metrics = &metrics.NullMetrics{}
	}
	if r.Interval <= 0 {
		r.Interval = 10 * time.Second
	}
	for _, metric := range refreshingSamplerMetrics {
		r.Metrics.Register(metric)
	}
	if err := r.setRate(initialRate); err != nil {
		return err
	}

	r.done = make(chan struct{})
	ticker := r.Clock.NewTicker(r.Interval)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.Chan():
				ctx, cancel := context.WithTimeout(context.Background(), r.Interval)
				r.refresh(ctx)
				cancel()
			}
		}
	}()
	return nil
}

func (r *RefreshingSampler) Stop() {
	if r.done == nil {
		return
	}
	close(r.done)
	r.wg.Wait()
	r.done = nil
}

func (r *RefreshingSampler) Keep(traceID types.TraceID) bool {
	if r.current.Load().sampler.Keep(traceID) {
		r.kept.Add(1)
		return true
	}
	return false
}

// Rate returns the rate currently in effect.
func (r *RefreshingSampler) Rate() float64 {
	return r.current.Load().rate
}

func (r *RefreshingSampler) setRate(rate float64) error {
	s, err := WithRate(rate)
	if err != nil {
		return err
	}
	r.current.Store(&rateState{rate: rate, sampler: s})
	r.Metrics.Gauge("sample_rate", rate)
	return nil
}

func (r *RefreshingSampler) refresh(ctx context.Context) {
	kept := r.kept.Swap(0)
	current := r.Rate()

	next, err := r.Source.NextRate(ctx, kept, r.Interval, current)
	if err != nil {
		r.Metrics.Increment("sample_rate_refresh_errors")
		r.Logger.Warn().WithField("error", err.Error()).Logf("failed to refresh sample rate, keeping %v", current)
		return
	}
	next = clampRate(next)
	if next == current {
		return
	}
	if err := r.setRate(next); err != nil {
		r.Logger.Error().WithField("error", err.Error()).Logf("invalid sample rate")
		return
	}
	r.Logger.Debug().WithFields(map[string]any{
		"kept":     kept,
		"old_rate": current,
		"new_rate": next,
	}).Logf("sample rate changed")
}

// LocalThroughput targets a throughput for this process alone.
type LocalThroughput struct {
	Target int
}

func (l *LocalThroughput) NextRate(_ context.Context, kept int64, interval time.Duration, current float64) (float64, error) {
	return rateForThroughput(l.Target, kept, interval, current), nil
}

// rateForThroughput scales the current rate by how far the observed
// throughput of kept spans is from the target. Nothing kept means the rate
// opens up fully.
func rateForThroughput(target int, kept int64, interval time.Duration, current float64) float64 {
	observed := float64(kept) / interval.Seconds()
	if observed <= 0 {
		return 1
	}
	return clampRate(current * float64(target) / observed)
}

func clampRate(rate float64) float64 {
	switch {
	case math.IsNaN(rate), rate < 0:
		return 0
	case rate > 1:
		return 1
	}
	return rate
}
