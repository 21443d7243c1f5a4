// Package throttle bounds the number of storage writes in flight. Work over
// the limit is rejected immediately with ErrOverCapacity instead of queuing.
package throttle

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Token is a permit from a Limiter. Exactly one of its methods should be
// called when the admitted work finishes; later calls are ignored.
type Token interface {
	// OnSuccess reports completed work and how long it took.
	OnSuccess(latency time.Duration)
	// OnDropped reports work that failed because the backend is overloaded.
	OnDropped()
	// OnIgnore releases the permit without influencing the limit.
	OnIgnore()
}

type Limiter interface {
	// TryAcquire returns a token if fewer than Limit calls are in flight.
	TryAcquire() (Token, bool)
	Limit() int
	InFlight() int
}

// adaptFunc recomputes the limit after an outcome. It runs with the
// limiter's lock held.
type adaptFunc func(limit float64, inFlight int, latency time.Duration, dropped bool) float64

type limiter struct {
	mut      sync.Mutex
	limit    float64
	inFlight int
	adapt    adaptFunc
}

func (l *limiter) TryAcquire() (Token, bool) {
	l.mut.Lock()
	defer l.mut.Unlock()
	if float64(l.inFlight) >= math.Floor(l.limit) {
		return nil, false
	}
	l.inFlight++
	return &token{l: l}, true
}

func (l *limiter) Limit() int {
	l.mut.Lock()
	defer l.mut.Unlock()
	return int(l.limit)
}

func (l *limiter) InFlight() int {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.inFlight
}

func (l *limiter) release(latency time.Duration, dropped, ignore bool) {
	l.mut.Lock()
	defer l.mut.Unlock()
	// the limit is adapted against the load seen when the call was running
	inFlight := l.inFlight
	l.inFlight--
	if !ignore && l.adapt != nil {
		l.limit = l.adapt(l.limit, inFlight, latency, dropped)
	}
}

type token struct {
	l        *limiter
	released atomic.Bool
}

func (t *token) OnSuccess(latency time.Duration) {
	if t.released.CompareAndSwap(false, true) {
		t.l.release(latency, false, false)
	}
}

func (t *token) OnDropped() {
	if t.released.CompareAndSwap(false, true) {
		t.l.release(0, true, false)
	}
}

func (t *token) OnIgnore() {
	if t.released.CompareAndSwap(false, true) {
		t.l.release(0, false, true)
	}
}

// NewFixedLimiter admits at most n concurrent calls, forever.
func NewFixedLimiter(n int) Limiter {
	return &limiter{limit: float64(n)}
}

type AIMDOptions struct {
	InitialLimit int
	MinLimit     int
	MaxLimit     int
	// BackoffRatio multiplies the limit on overload. Defaults to 0.9.
	BackoffRatio float64
	// LatencyThreshold marks successes slower than it as overload. Zero
	// disables the latency check.
	LatencyThreshold time.Duration
}

// NewAIMDLimiter grows the limit by one after a fast success that used most
// of the current limit, and shrinks it by BackoffRatio after a drop or a slow
// success.
func NewAIMDLimiter(opts AIMDOptions) Limiter {
	if opts.MinLimit < 1 {
		opts.MinLimit = 1
	}
	if opts.MaxLimit < opts.MinLimit {
		opts.MaxLimit = opts.MinLimit
	}
	if opts.InitialLimit < opts.MinLimit {
		opts.InitialLimit = opts.MinLimit
	}
	if opts.InitialLimit > opts.MaxLimit {
		opts.InitialLimit = opts.MaxLimit
	}
	if opts.BackoffRatio <= 0 || opts.BackoffRatio >= 1 {
		opts.BackoffRatio = 0.9
	}

	minLimit, maxLimit := float64(opts.MinLimit), float64(opts.MaxLimit)
	return &limiter{
		limit: float64(opts.InitialLimit),
		adapt: func(limit float64, inFlight int, latency time.Duration, dropped bool) float64 {
			overloaded := dropped || (opts.LatencyThreshold > 0 && latency > opts.LatencyThreshold)
			switch {
			case overloaded:
				limit = math.Max(minLimit, limit*opts.BackoffRatio)
			// only grow when the limit is actually being used
			case float64(inFlight)*2 >= limit:
				limit = math.Min(maxLimit, limit+1)
			}
			return limit
		},
	}
}
