package call

import "context"

// Map returns a Call that transforms the successful result of delegate.
// Errors pass through untouched.
func Map[V, R any](delegate Call[V], fn func(V) R) Call[R] {
	return &mapCall[V, R]{delegate: delegate, fn: fn}
}

type mapCall[V, R any] struct {
	Base
	delegate Call[V]
	fn       func(V) R
}

func (c *mapCall[V, R]) Execute(ctx context.Context) (R, error) {
	var zero R
	ctx, err := c.Begin(ctx)
	if err != nil {
		return zero, err
	}
	v, err := c.delegate.Execute(ctx)
	if err = c.End(err); err != nil {
		return zero, err
	}
	return c.fn(v), nil
}

func (c *mapCall[V, R]) Enqueue(ctx context.Context, cb Callback[R]) {
	ctx, err := c.Begin(ctx)
	if err != nil {
		cb.OnError(err)
		return
	}
	c.delegate.Enqueue(ctx, FuncCallback[V](func(v V, err error) {
		if err = c.End(err); err != nil {
			cb.OnError(err)
			return
		}
		cb.OnSuccess(c.fn(v))
	}))
}

func (c *mapCall[V, R]) Cancel() {
	c.Base.Cancel()
	c.delegate.Cancel()
}

func (c *mapCall[V, R]) Clone() Call[R] {
	return Map(c.delegate.Clone(), c.fn)
}

// FlatMap returns a Call that, once delegate succeeds, runs the Call produced
// by fn and reports its outcome.
func FlatMap[V, R any](delegate Call[V], fn func(V) Call[R]) Call[R] {
	return &flatMapCall[V, R]{delegate: delegate, fn: fn}
}

type flatMapCall[V, R any] struct {
	Base
	delegate Call[V]
	fn       func(V) Call[R]
}

func (c *flatMapCall[V, R]) Execute(ctx context.Context) (R, error) {
	var zero R
	ctx, err := c.Begin(ctx)
	if err != nil {
		return zero, err
	}
	v, err := c.delegate.Execute(ctx)
	if err != nil {
		return zero, c.End(err)
	}
	r, err := c.fn(v).Execute(ctx)
	if err = c.End(err); err != nil {
		return zero, err
	}
	return r, nil
}

func (c *flatMapCall[V, R]) Enqueue(ctx context.Context, cb Callback[R]) {
	ctx, err := c.Begin(ctx)
	if err != nil {
		cb.OnError(err)
		return
	}
	c.delegate.Enqueue(ctx, FuncCallback[V](func(v V, err error) {
		if err != nil {
			cb.OnError(c.End(err))
			return
		}
		c.fn(v).Enqueue(ctx, FuncCallback[R](func(r R, err error) {
			if err = c.End(err); err != nil {
				cb.OnError(err)
				return
			}
			cb.OnSuccess(r)
		}))
	}))
}

func (c *flatMapCall[V, R]) Cancel() {
	c.Base.Cancel()
	c.delegate.Cancel()
}

func (c *flatMapCall[V, R]) Clone() Call[R] {
	return FlatMap(c.delegate.Clone(), c.fn)
}

// HandleError returns a Call that gives fn a chance to recover from a failure
// of delegate. fn either returns a replacement value or an error, which may be
// the one it was given. Cancellation is never handed to fn.
func HandleError[V any](delegate Call[V], fn func(error) (V, error)) Call[V] {
	return &errorCall[V]{delegate: delegate, fn: fn}
}

type errorCall[V any] struct {
	Base
	delegate Call[V]
	fn       func(error) (V, error)
}

func (c *errorCall[V]) recover(v V, err error) (V, error) {
	err = c.End(err)
	if err == nil {
		return v, nil
	}
	if c.IsCanceled() {
		var zero V
		return zero, err
	}
	return c.fn(err)
}

func (c *errorCall[V]) Execute(ctx context.Context) (V, error) {
	ctx, err := c.Begin(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	return c.recover(c.delegate.Execute(ctx))
}

func (c *errorCall[V]) Enqueue(ctx context.Context, cb Callback[V]) {
	ctx, err := c.Begin(ctx)
	if err != nil {
		cb.OnError(err)
		return
	}
	c.delegate.Enqueue(ctx, FuncCallback[V](func(v V, err error) {
		v, err = c.recover(v, err)
		if err != nil {
			cb.OnError(err)
			return
		}
		cb.OnSuccess(v)
	}))
}

func (c *errorCall[V]) Cancel() {
	c.Base.Cancel()
	c.delegate.Cancel()
}

func (c *errorCall[V]) Clone() Call[V] {
	return HandleError(c.delegate.Clone(), c.fn)
}
