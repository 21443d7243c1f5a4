// Package call provides a single-shot asynchronous operation. Every storage
// write is a Call, and so is anything that wraps one.
//
// A Call starts out idle and may be run exactly once, either synchronously with
// Execute or asynchronously with Enqueue. Once it has been run it cannot be run
// again; use Clone to get a fresh instance for a retry.
package call

import (
	"context"
	"errors"
)

var (
	// ErrCanceled is the outcome of any Call that was canceled before it
	// completed.
	ErrCanceled = errors.New("call canceled")

	// ErrAlreadyExecuted is returned when Execute or Enqueue is invoked on a
	// Call that has already been started. It indicates a programming error.
	ErrAlreadyExecuted = errors.New("call already executed")
)

// Callback receives the outcome of an enqueued Call. Exactly one of its methods
// is invoked, exactly once, from an unspecified goroutine.
type Callback[V any] interface {
	OnSuccess(value V)
	OnError(err error)
}

// Call is a single-shot unit of work producing a V.
type Call[V any] interface {
	// Execute runs the call on the current goroutine and blocks until it is
	// done.
	Execute(ctx context.Context) (V, error)
	// Enqueue schedules the call and returns immediately. The callback is
	// invoked exactly once with the outcome.
	Enqueue(ctx context.Context, cb Callback[V])
	// Cancel is idempotent. If the call has not completed yet, its outcome
	// will be ErrCanceled.
	Cancel()
	IsCanceled() bool
	// Clone returns an idle call representing the same request.
	Clone() Call[V]
}

// FuncCallback adapts a function to the Callback interface. On error the
// function receives the zero value of V.
type FuncCallback[V any] func(V, error)

func (f FuncCallback[V]) OnSuccess(value V) { f(value, nil) }

func (f FuncCallback[V]) OnError(err error) {
	var zero V
	f(zero, err)
}

// Wait blocks until an enqueued call reports back, or the context is done.
// It is mostly useful to transports that need a synchronous answer, such as
// an HTTP handler deciding which status code to return.
type Wait[V any] struct {
	ch chan result[V]
}

type result[V any] struct {
	value V
	err   error
}

// NewWait returns a callback that can be waited on.
func NewWait[V any]() *Wait[V] {
	return &Wait[V]{ch: make(chan result[V], 1)}
}

func (w *Wait[V]) OnSuccess(value V) { w.ch <- result[V]{value: value} }
func (w *Wait[V]) OnError(err error) { w.ch <- result[V]{err: err} }

// Result blocks until the callback has fired or ctx is done.
func (w *Wait[V]) Result(ctx context.Context) (V, error) {
	select {
	case r := <-w.ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
