// Package collect is the path every receiver funnels spans through on their
// way to storage: decode, sample, process, then store.
package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/codec"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/processor"
	"github.com/honeycombio/intake/sample"
	"github.com/honeycombio/intake/storage"
	"github.com/honeycombio/intake/throttle"
	"github.com/honeycombio/intake/types"
)

// ProcessorError is returned when a processor stage fails or panics. The
// whole batch is dropped.
type ProcessorError = processor.Error

// StorageError is returned when the storage call for a batch fails. Err may
// be throttle.ErrOverCapacity if the batch was never admitted.
type StorageError struct {
	// Spans lists up to three "traceID/spanID" pairs from the batch.
	Spans string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cannot store spans %s: %v", e.Spans, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Unretryable reports whether err will recur if the same message is accepted
// again: the bytes could not be decoded, or a processor stage rejected the
// spans they decode to. Queue receivers acknowledge such messages instead of
// asking for redelivery.
func Unretryable(err error) bool {
	var decodeErr *codec.DecodeError
	var procErr *ProcessorError
	return errors.As(err, &decodeErr) ||
		errors.Is(err, codec.ErrUnknownFormat) ||
		errors.As(err, &procErr)
}

// Options configures a Collector. Only Storage is required.
type Options struct {
	Storage storage.Component
	// Sampler defaults to sample.AlwaysKeep.
	Sampler sample.Sampler
	// Metrics defaults to metrics.NoopCollectorMetrics.
	Metrics metrics.CollectorMetrics
	// Handlers run in order on every span that survives sampling.
	Handlers processor.Chain
	// Throttle, if set, bounds concurrent storage calls.
	Throttle *throttle.Throttle
	// ProcessBeforeSample runs Handlers ahead of the sampler.
	ProcessBeforeSample bool
	Logger              logger.Logger
}

// Collector is safe for concurrent use. It holds no state of its own beyond
// its collaborators. It is either built by New or provided to the injection
// graph, in which case Start assembles it from config.
type Collector struct {
	Config         config.Config          `inject:""`
	Logger         logger.Logger          `inject:""`
	Metrics        metrics.Metrics        `inject:"metrics"`
	Storage        storage.Component      `inject:"storage"`
	SamplerFactory *sample.SamplerFactory `inject:""`

	storage      storage.Component
	sampler      sample.Sampler
	counters     metrics.CollectorMetrics
	chain        processor.Chain
	throttle     *throttle.Throttle
	processFirst bool
	logger       logger.Logger
}

var ErrNoStorage = errors.New("collector requires storage")

func New(opts Options) (*Collector, error) {
	c := &Collector{}
	if err := c.init(opts); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) init(opts Options) error {
	if opts.Storage == nil {
		return ErrNoStorage
	}
	c.storage = opts.Storage
	c.sampler = opts.Sampler
	c.counters = opts.Metrics
	c.chain = processor.NewChain(opts.Handlers...)
	c.throttle = opts.Throttle
	c.processFirst = opts.ProcessBeforeSample
	c.logger = opts.Logger
	if c.sampler == nil {
		c.sampler = sample.AlwaysKeep
	}
	if c.counters == nil {
		c.counters = metrics.NoopCollectorMetrics
	}
	if c.logger == nil {
		c.logger = &logger.NullLogger{}
	}
	return nil
}

// Start builds the sampler, processor chain and throttle from config. It
// does nothing for a Collector made by New.
func (c *Collector) Start() error {
	if c.storage != nil {
		return nil
	}
	cfg := c.Config.GetCollectorConfig()

	sampler, err := c.SamplerFactory.GetSampler()
	if err != nil {
		return fmt.Errorf("failed to create sampler: %w", err)
	}
	chain, err := processor.FromConfig(c.Config.GetProcessorsConfig())
	if err != nil {
		return fmt.Errorf("failed to create processors: %w", err)
	}
	th, err := throttle.FromConfig(cfg.Throttle, c.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create throttle: %w", err)
	}

	err = c.init(Options{
		Storage:             c.Storage,
		Sampler:             sampler,
		Metrics:             metrics.NewCollectorMetrics(c.Metrics),
		Handlers:            chain,
		Throttle:            th,
		ProcessBeforeSample: cfg.ProcessBeforeSample,
		Logger:              c.Logger,
	})
	if err != nil {
		return err
	}
	c.Logger.Info().WithFields(map[string]any{
		"sampler":               sampler,
		"processors":            len(chain),
		"throttled":             th != nil,
		"process_before_sample": cfg.ProcessBeforeSample,
	}).Logf("collector started")
	return nil
}

// ForTransport returns a Collector sharing everything with c except that its
// counters are scoped to the named transport. Receivers call it once when
// they start.
func (c *Collector) ForTransport(name string) *Collector {
	scoped := *c
	scoped.counters = c.counters.ForTransport(name)
	return &scoped
}

// Counters returns the counters this Collector reports to. Receivers that
// decode messages themselves use it to count what they received.
func (c *Collector) Counters() metrics.CollectorMetrics {
	return c.counters
}

// AcceptSpans is AcceptEncoded with the decoder chosen from the message's
// first byte.
func (c *Collector) AcceptSpans(ctx context.Context, data []byte, cb call.Callback[struct{}]) {
	dec, err := codec.Detect(data)
	if err != nil {
		c.counters.IncrementMessages()
		c.counters.IncrementBytes(len(data))
		var decodeErr *codec.DecodeError
		if !errors.As(err, &decodeErr) {
			err = &codec.DecodeError{Encoding: "unknown", Err: err}
		}
		cb.OnError(c.errorReading(err))
		return
	}
	c.AcceptEncoded(ctx, data, dec, cb)
}

// AcceptEncoded decodes one received message and stores what survives
// sampling and processing. cb is invoked exactly once, possibly before
// AcceptEncoded returns and possibly on another goroutine.
func (c *Collector) AcceptEncoded(ctx context.Context, data []byte, dec codec.Decoder, cb call.Callback[struct{}]) {
	c.counters.IncrementMessages()
	c.counters.IncrementBytes(len(data))

	spans, err := dec.DecodeList(data)
	if err != nil {
		cb.OnError(c.errorReading(err))
		return
	}
	c.Accept(ctx, spans, cb)
}

// Accept is the entry point for receivers that decode spans themselves. The
// caller is responsible for counting the message and its bytes.
func (c *Collector) Accept(ctx context.Context, spans []*types.Span, cb call.Callback[struct{}]) {
	c.counters.IncrementSpans(len(spans))

	batch, err := c.prepare(spans)
	if err != nil {
		c.logger.Debug().
			WithString("spans", formatIDs(types.IDStrings(spans, 3), len(spans) > 3)).
			WithField("error", err.Error()).
			Logf("cannot process spans")
		cb.OnError(err)
		return
	}
	if len(batch) == 0 {
		cb.OnSuccess(struct{}{})
		return
	}

	c.store(ctx, batch, cb)
}

func (c *Collector) prepare(spans []*types.Span) ([]*types.Span, error) {
	if c.processFirst {
		processed, err := c.process(spans)
		if err != nil {
			return nil, err
		}
		return c.sample(processed), nil
	}
	return c.process(c.sample(spans))
}

// sample drops spans the sampler rejects. Debug spans are always kept.
func (c *Collector) sample(spans []*types.Span) []*types.Span {
	kept := make([]*types.Span, 0, len(spans))
	for _, s := range spans {
		if types.IsDebug(s) || c.sampler.Keep(s.TraceID) {
			kept = append(kept, s)
		}
	}
	if dropped := len(spans) - len(kept); dropped > 0 {
		c.counters.IncrementSpansDropped(dropped)
	}
	return kept
}

// process runs the chain over every span. If any stage fails, every span
// handed to process counts as dropped.
func (c *Collector) process(spans []*types.Span) ([]*types.Span, error) {
	if len(c.chain) == 0 {
		return spans, nil
	}
	out := make([]*types.Span, 0, len(spans))
	for _, s := range spans {
		processed, err := c.chain.Apply(s)
		if err != nil {
			c.counters.IncrementSpansDropped(len(spans))
			return nil, err
		}
		if processed != nil {
			out = append(out, processed)
		}
	}
	if dropped := len(spans) - len(out); dropped > 0 {
		c.counters.IncrementSpansDropped(dropped)
	}
	return out, nil
}

func (c *Collector) store(ctx context.Context, batch []*types.Span, cb call.Callback[struct{}]) {
	storeCall := c.storage.SpanConsumer().Accept(batch)
	if c.throttle != nil {
		storeCall = throttle.NewCall(c.throttle, storeCall)
	}

	storeCall.Enqueue(ctx, call.FuncCallback[struct{}](func(_ struct{}, err error) {
		if err != nil {
			cb.OnError(c.errorStoring(batch, err))
			return
		}
		cb.OnSuccess(struct{}{})
	}))
}

func (c *Collector) errorReading(err error) error {
	c.counters.IncrementMessagesDropped()
	c.logger.Debug().WithField("error", err.Error()).Logf("cannot decode spans")
	return err
}

func (c *Collector) errorStoring(batch []*types.Span, err error) error {
	c.counters.IncrementSpansDropped(len(batch))
	storageErr := &StorageError{
		Spans: formatIDs(types.IDStrings(batch, 3), len(batch) > 3),
		Err:   err,
	}
	c.logger.Debug().
		WithString("spans", storageErr.Spans).
		WithField("error", err.Error()).
		Logf("cannot store spans")
	return storageErr
}

// formatIDs renders ids as "[a, b, c...]".
func formatIDs(ids []string, truncated bool) string {
	var sb strings.Builder
	sb.WriteByte('[')
	sb.WriteString(strings.Join(ids, ", "))
	if truncated {
		sb.WriteString("...")
	}
	sb.WriteByte(']')
	return sb.String()
}
