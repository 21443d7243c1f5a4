package call

import "context"

// funcCall runs a function once. async controls whether Enqueue hands the
// work to a new goroutine or runs it on the caller's.
type funcCall[V any] struct {
	Base
	fn    func(ctx context.Context) (V, error)
	async bool
}

// Func returns a Call that runs fn. Enqueue runs fn on its own goroutine.
func Func[V any](fn func(ctx context.Context) (V, error)) Call[V] {
	return &funcCall[V]{fn: fn, async: true}
}

// InlineFunc returns a Call that runs fn. Enqueue runs fn on the calling
// goroutine and the callback fires before Enqueue returns. It suits work that
// never blocks, such as appending to an in-memory store.
func InlineFunc[V any](fn func(ctx context.Context) (V, error)) Call[V] {
	return &funcCall[V]{fn: fn}
}

// Create returns a Call that completes with value.
func Create[V any](value V) Call[V] {
	return InlineFunc(func(context.Context) (V, error) { return value, nil })
}

// Fail returns a Call that completes with err.
func Fail[V any](err error) Call[V] {
	return InlineFunc(func(context.Context) (V, error) {
		var zero V
		return zero, err
	})
}

func (c *funcCall[V]) Execute(ctx context.Context) (V, error) {
	var zero V
	ctx, err := c.Begin(ctx)
	if err != nil {
		return zero, err
	}
	v, err := c.fn(ctx)
	if err = c.End(err); err != nil {
		return zero, err
	}
	return v, nil
}

func (c *funcCall[V]) Enqueue(ctx context.Context, cb Callback[V]) {
	ctx, err := c.Begin(ctx)
	if err != nil {
		cb.OnError(err)
		return
	}
	run := func() {
		v, err := c.fn(ctx)
		if err = c.End(err); err != nil {
			cb.OnError(err)
			return
		}
		cb.OnSuccess(v)
	}
	if c.async {
		go run()
		return
	}
	run()
}

func (c *funcCall[V]) Clone() Call[V] {
	return &funcCall[V]{fn: c.fn, async: c.async}
}
