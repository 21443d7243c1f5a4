// Package processor holds the stages a span passes through after it has been
// decoded. A stage may rewrite a span or drop it by returning nil.
package processor

import (
	"fmt"
	"runtime/debug"

	"github.com/honeycombio/intake/types"
)

type Handler interface {
	// Handle returns the span to keep, which may be a modified copy of the
	// input, or nil to drop it. Handlers must not modify the span they are
	// given in place.
	Handle(span *types.Span) (*types.Span, error)
}

type HandlerFunc func(span *types.Span) (*types.Span, error)

func (f HandlerFunc) Handle(span *types.Span) (*types.Span, error) {
	return f(span)
}

// Noop passes every span through unchanged.
var Noop Handler = HandlerFunc(func(span *types.Span) (*types.Span, error) {
	return span, nil
})

// Error reports which stage of a Chain failed. Panics inside a stage are
// recovered and reported the same way.
type Error struct {
	Stage int
	Span  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("processor stage %d failed on span %s: %v", e.Stage, e.Span, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Chain runs its handlers in order. It is fixed once built.
type Chain []Handler

// NewChain copies handlers so later changes to the slice do not affect the
// chain.
func NewChain(handlers ...Handler) Chain {
	return append(Chain(nil), handlers...)
}

// Apply passes span through every stage. As soon as a stage drops the span
// no later stage sees it.
func (c Chain) Apply(span *types.Span) (*types.Span, error) {
	for i, h := range c {
		out, err := runStage(h, span)
		if err != nil {
			return nil, &Error{Stage: i, Span: types.IDString(span), Err: err}
		}
		if out == nil {
			return nil, nil
		}
		span = out
	}
	return span, nil
}

func (c Chain) Handle(span *types.Span) (*types.Span, error) {
	return c.Apply(span)
}

func runStage(h Handler, span *types.Span) (out *types.Span, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h.Handle(span)
}

// copySpan returns a shallow copy whose Tags map can be modified freely.
func copySpan(span *types.Span) *types.Span {
	cp := *span
	cp.Tags = make(map[string]string, len(span.Tags))
	for k, v := range span.Tags {
		cp.Tags[k] = v
	}
	return &cp
}
