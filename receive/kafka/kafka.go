// Package kafka consumes encoded span lists from Kafka topics.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/codec"
	"github.com/honeycombio/intake/collect"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/internal/health"
	"github.com/honeycombio/intake/logger"
)

const transport = "kafka"

var healthTimeout = 10 * time.Second

// retryBackoff is how long a claim waits before giving up its session after
// a batch could not be stored, so the uncommitted message is redelivered.
var retryBackoff = time.Second

// Receiver runs one consumer group member. Each message is one encoded list
// of spans; its offset is marked only once the spans are stored, or once it
// is known that the bytes can never be decoded.
type Receiver struct {
	Config    config.Config      `inject:""`
	Logger    logger.Logger      `inject:""`
	Collector *collect.Collector `inject:""`
	Recorder  health.Recorder    `inject:""`

	// Group is created from config on Start when nil.
	Group sarama.ConsumerGroup

	collector *collect.Collector
	decoder   codec.Decoder
	topics    []string
	active    atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

func newSaramaConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	c := sarama.NewConfig()
	c.ClientID = "intake"
	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, err
	}
	c.Version = version
	switch cfg.InitialOffset {
	case "oldest":
		c.Consumer.Offsets.Initial = sarama.OffsetOldest
	case "newest", "":
		c.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		return nil, fmt.Errorf("unknown Kafka.InitialOffset %q", cfg.InitialOffset)
	}
	c.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	return c, nil
}

func (r *Receiver) Start() error {
	cfg := r.Config.GetKafkaConfig()
	if !cfg.Enabled {
		return nil
	}

	var err error
	r.decoder, err = codec.ForEncoding(cfg.Encoding)
	if err != nil {
		return err
	}
	r.topics = cfg.Topics
	r.collector = r.Collector.ForTransport(transport)

	if r.Group == nil {
		sc, err := newSaramaConfig(cfg)
		if err != nil {
			return err
		}
		r.Group, err = sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
		if err != nil {
			return fmt.Errorf("failed to create kafka consumer group: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.consumeLoop(ctx)
	}()
	go func() {
		defer r.wg.Done()
		health.Heartbeat(r.Recorder, "receiver_"+transport, healthTimeout, r.active.Load, r.done)
	}()

	r.Logger.Info().WithFields(map[string]any{
		"brokers":  cfg.Brokers,
		"topics":   cfg.Topics,
		"group_id": cfg.GroupID,
		"encoding": r.decoder.Encoding(),
	}).Logf("started kafka receiver")
	return nil
}

// consumeLoop rejoins the group after every rebalance until ctx is done.
func (r *Receiver) consumeLoop(ctx context.Context) {
	handler := &groupHandler{receiver: r}
	for {
		if err := r.Group.Consume(ctx, r.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			r.Logger.Error().WithField("error", err.Error()).Logf("error from kafka consumer group")
			select {
			case <-ctx.Done():
			case <-time.After(retryBackoff):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (r *Receiver) Stop() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	close(r.done)
	err := r.Group.Close()
	r.wg.Wait()
	return err
}

// accept hands one message to the collector and waits for the outcome.
func (r *Receiver) accept(ctx context.Context, msg *sarama.ConsumerMessage) error {
	w := call.NewWait[struct{}]()
	r.collector.AcceptEncoded(ctx, msg.Value, r.decoder, w)
	_, err := w.Result(ctx)
	return err
}

type groupHandler struct {
	receiver *Receiver
}

var _ sarama.ConsumerGroupHandler = (*groupHandler)(nil)

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.receiver.active.Store(true)
	h.receiver.Logger.Debug().WithField("claims", session.Claims()).Logf("joined kafka consumer group")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.receiver.active.Store(false)
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	r := h.receiver
	for msg := range claim.Messages() {
		err := r.accept(session.Context(), msg)
		if err == nil {
			session.MarkMessage(msg, "")
			continue
		}

		if collect.Unretryable(err) {
			// redelivery would fail the same way
			session.MarkMessage(msg, "")
			continue
		}

		r.Logger.Warn().WithFields(map[string]any{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"error":     err.Error(),
		}).Logf("failed to store kafka message, will retry")
		select {
		case <-session.Context().Done():
		case <-time.After(retryBackoff):
		}
		return err
	}
	return nil
}
