package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/metrics"
)

// ErrOverCapacity means the call was rejected without running because the
// concurrency limit was reached.
var ErrOverCapacity = errors.New("storage throttle max concurrency reached")

// Throttle is the long-lived state shared by every throttled call: the
// limiter plus its metrics.
type Throttle struct {
	Limiter Limiter
	Metrics metrics.Metrics
	Clock   clockwork.Clock

	// IsOverCapacity decides which delegate errors shrink the limit. By
	// default these are ErrOverCapacity from a nested throttle and timeouts.
	IsOverCapacity func(error) bool
}

var throttleMetrics = []metrics.Metadata{
	{Name: "requests", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of storage calls admitted"},
	{Name: "requests_succeeded", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of admitted storage calls that succeeded"},
	{Name: "requests_dropped", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of admitted storage calls that failed from overload"},
	{Name: "requests_ignored", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of admitted storage calls that failed for other reasons"},
	{Name: "requests_rejected", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of storage calls rejected over the concurrency limit"},
	{Name: "limit", Type: metrics.Gauge, Unit: metrics.Dimensionless, Description: "Current concurrency limit"},
	{Name: "in_flight", Type: metrics.Gauge, Unit: metrics.Dimensionless, Description: "Storage calls currently in flight"},
}

// New wraps a limiter. Metric names are prefixed with "throttle_".
func New(l Limiter, m metrics.Metrics) *Throttle {
	if m == nil {
		m = &metrics.NullMetrics{}
	}
	prefixed := metrics.NewMetricsPrefixer("throttle")
	prefixed.Metrics = m
	for _, metric := range throttleMetrics {
		prefixed.Register(metric)
	}
	t := &Throttle{
		Limiter: l,
		Metrics: prefixed,
		Clock:   clockwork.NewRealClock(),
	}
	t.updateGauges()
	return t
}

// FromConfig returns nil when throttling is disabled.
func FromConfig(c config.ThrottleConfig, m metrics.Metrics) (*Throttle, error) {
	if !c.Enabled {
		return nil, nil
	}
	switch c.Limiter {
	case "fixed":
		return New(NewFixedLimiter(c.ConcurrencyLimit), m), nil
	case "aimd", "":
		return New(NewAIMDLimiter(AIMDOptions{
			InitialLimit:     c.ConcurrencyLimit,
			MinLimit:         c.MinConcurrency,
			MaxLimit:         c.MaxConcurrency,
			BackoffRatio:     c.BackoffRatio,
			LatencyThreshold: time.Duration(c.LatencyThreshold),
		}), m), nil
	}
	return nil, fmt.Errorf("unknown limiter %q", c.Limiter)
}

func (t *Throttle) isOverCapacity(err error) bool {
	if t.IsOverCapacity != nil {
		return t.IsOverCapacity(err)
	}
	return errors.Is(err, ErrOverCapacity) || errors.Is(err, context.DeadlineExceeded)
}

func (t *Throttle) acquire() (Token, bool) {
	tok, ok := t.Limiter.TryAcquire()
	if !ok {
		t.Metrics.Increment("requests_rejected")
		return nil, false
	}
	t.Metrics.Increment("requests")
	t.updateGauges()
	return tok, true
}

func (t *Throttle) release(tok Token, start time.Time, err error) {
	switch {
	case err == nil:
		t.Metrics.Increment("requests_succeeded")
		tok.OnSuccess(t.Clock.Since(start))
	case t.isOverCapacity(err):
		t.Metrics.Increment("requests_dropped")
		tok.OnDropped()
	default:
		t.Metrics.Increment("requests_ignored")
		tok.OnIgnore()
	}
	t.updateGauges()
}

func (t *Throttle) updateGauges() {
	t.Metrics.Gauge("limit", t.Limiter.Limit())
	t.Metrics.Gauge("in_flight", t.Limiter.InFlight())
}

// NewCall wraps delegate so that it only runs when the throttle admits it.
// Clones share the throttle and wrap a clone of the delegate.
func NewCall[V any](t *Throttle, delegate call.Call[V]) call.Call[V] {
	return &throttledCall[V]{throttle: t, delegate: delegate}
}

type throttledCall[V any] struct {
	call.Base
	throttle *Throttle
	delegate call.Call[V]

	mut   sync.Mutex
	token Token
}

// admit acquires a permit for this call. A call canceled before it gets one
// releases it straight away.
func (c *throttledCall[V]) admit() (Token, bool) {
	tok, ok := c.throttle.acquire()
	if !ok {
		return nil, false
	}
	c.mut.Lock()
	c.token = tok
	c.mut.Unlock()
	if c.IsCanceled() {
		c.releaseCanceled()
	}
	return tok, true
}

func (c *throttledCall[V]) releaseCanceled() {
	c.mut.Lock()
	tok := c.token
	c.mut.Unlock()
	if tok != nil {
		tok.OnIgnore()
		c.throttle.updateGauges()
	}
}

func (c *throttledCall[V]) Execute(ctx context.Context) (V, error) {
	var zero V
	ctx, err := c.Begin(ctx)
	if err != nil {
		return zero, err
	}
	tok, ok := c.admit()
	if !ok {
		return zero, c.End(ErrOverCapacity)
	}
	start := c.throttle.Clock.Now()
	v, err := c.delegate.Execute(ctx)
	c.throttle.release(tok, start, err)
	if err = c.End(err); err != nil {
		return zero, err
	}
	return v, nil
}

func (c *throttledCall[V]) Enqueue(ctx context.Context, cb call.Callback[V]) {
	ctx, err := c.Begin(ctx)
	if err != nil {
		cb.OnError(err)
		return
	}
	tok, ok := c.admit()
	if !ok {
		cb.OnError(c.End(ErrOverCapacity))
		return
	}
	start := c.throttle.Clock.Now()
	c.delegate.Enqueue(ctx, call.FuncCallback[V](func(v V, err error) {
		c.throttle.release(tok, start, err)
		if err = c.End(err); err != nil {
			cb.OnError(err)
			return
		}
		cb.OnSuccess(v)
	}))
}

// Cancel gives the permit back immediately, even if the delegate is slow to
// notice.
func (c *throttledCall[V]) Cancel() {
	c.Base.Cancel()
	c.delegate.Cancel()
	c.releaseCanceled()
}

func (c *throttledCall[V]) Clone() call.Call[V] {
	return NewCall(c.throttle, c.delegate.Clone())
}

func (c *throttledCall[V]) String() string {
	return fmt.Sprintf("Throttled(%v)", c.delegate)
}
