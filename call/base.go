package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of a Call.
type State int32

const (
	Idle State = iota
	Running
	Done
	Canceled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Done:
		return "done"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Base holds the execute-once state machine. Implementations embed it, call
// Begin before doing any work and End with the outcome.
//
// The zero value is an idle call.
type Base struct {
	state    atomic.Int32
	canceled atomic.Bool

	mut    sync.Mutex
	cancel context.CancelFunc
}

// Begin moves the call from idle to running. Exactly one caller wins; every
// other caller gets ErrAlreadyExecuted. The returned context is canceled when
// Cancel is invoked or when End is reached.
func (b *Base) Begin(ctx context.Context) (context.Context, error) {
	if !b.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return nil, ErrAlreadyExecuted
	}
	if b.canceled.Load() {
		b.state.Store(int32(Canceled))
		return nil, ErrCanceled
	}

	ctx, cancel := context.WithCancel(ctx)
	b.mut.Lock()
	b.cancel = cancel
	b.mut.Unlock()

	// Cancel may have run between the check above and storing the func
	if b.canceled.Load() {
		cancel()
	}
	return ctx, nil
}

// End records completion of the work and returns the error that should be
// reported to the caller. A canceled call always reports ErrCanceled.
func (b *Base) End(err error) error {
	b.mut.Lock()
	cancel := b.cancel
	b.mut.Unlock()
	if cancel != nil {
		cancel()
	}

	if b.canceled.Load() {
		b.state.Store(int32(Canceled))
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		return ErrCanceled
	}
	b.state.Store(int32(Done))
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return err
}

// Cancel marks the call canceled and interrupts in-flight work that honours
// the context returned by Begin.
func (b *Base) Cancel() {
	b.canceled.Store(true)
	b.mut.Lock()
	cancel := b.cancel
	b.mut.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (b *Base) IsCanceled() bool {
	return b.canceled.Load()
}

func (b *Base) State() State {
	return State(b.state.Load())
}
