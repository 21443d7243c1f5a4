// Package pulsar consumes encoded span lists from a Pulsar subscription.
package pulsar

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/sourcegraph/conc/pool"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/codec"
	"github.com/honeycombio/intake/collect"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/internal/health"
	"github.com/honeycombio/intake/logger"
)

const transport = "pulsar"

var (
	healthTimeout = 10 * time.Second
	retryBackoff  = time.Second
)

// consumer is the part of pulsar.Consumer the receiver uses.
type consumer interface {
	Receive(ctx context.Context) (pulsar.Message, error)
	Ack(msg pulsar.Message) error
	Nack(msg pulsar.Message)
	Close()
}

// Receiver reads a shared subscription. Messages are handled concurrently;
// each is acked once its spans are stored and nacked otherwise, so the
// broker redelivers it.
type Receiver struct {
	Config    config.Config      `inject:""`
	Logger    logger.Logger      `inject:""`
	Collector *collect.Collector `inject:""`
	Recorder  health.Recorder    `inject:""`

	client    pulsar.Client
	consumer  consumer
	collector *collect.Collector
	decoder   codec.Decoder
	receiving atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

func (r *Receiver) Start() error {
	cfg := r.Config.GetPulsarConfig()
	if !cfg.Enabled {
		return nil
	}

	var err error
	r.decoder, err = codec.ForEncoding(cfg.Encoding)
	if err != nil {
		return err
	}
	r.collector = r.Collector.ForTransport(transport)

	if r.consumer == nil {
		r.client, err = pulsar.NewClient(pulsar.ClientOptions{URL: cfg.URL})
		if err != nil {
			return fmt.Errorf("failed to create pulsar client: %w", err)
		}
		r.consumer, err = r.client.Subscribe(pulsar.ConsumerOptions{
			Topic:            cfg.Topic,
			SubscriptionName: cfg.Subscription,
			Type:             pulsar.Shared,
		})
		if err != nil {
			r.client.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", cfg.Topic, err)
		}
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.receiving.Store(true)

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.receiveLoop(ctx, concurrency)
	}()
	go func() {
		defer r.wg.Done()
		health.Heartbeat(r.Recorder, "receiver_"+transport, healthTimeout, r.receiving.Load, r.done)
	}()

	r.Logger.Info().WithFields(map[string]any{
		"topic":        cfg.Topic,
		"subscription": cfg.Subscription,
		"concurrency":  concurrency,
		"encoding":     r.decoder.Encoding(),
	}).Logf("started pulsar receiver")
	return nil
}

func (r *Receiver) receiveLoop(ctx context.Context, concurrency int) {
	workers := pool.New().WithMaxGoroutines(concurrency)
	defer workers.Wait()

	for {
		msg, err := r.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.receiving.Store(false)
			r.Logger.Error().WithField("error", err.Error()).Logf("failed to receive pulsar message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
			continue
		}
		r.receiving.Store(true)
		workers.Go(func() {
			r.handle(ctx, msg)
		})
	}
}

func (r *Receiver) handle(ctx context.Context, msg pulsar.Message) {
	w := call.NewWait[struct{}]()
	r.collector.AcceptEncoded(ctx, msg.Payload(), r.decoder, w)
	_, err := w.Result(ctx)

	if err == nil || collect.Unretryable(err) {
		if ackErr := r.consumer.Ack(msg); ackErr != nil {
			r.Logger.Warn().WithField("error", ackErr.Error()).Logf("failed to ack pulsar message")
		}
		return
	}
	r.Logger.Debug().WithField("error", err.Error()).Logf("nacking pulsar message")
	r.consumer.Nack(msg)
}

func (r *Receiver) Stop() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	close(r.done)
	r.wg.Wait()
	r.consumer.Close()
	if r.client != nil {
		r.client.Close()
	}
	return nil
}
