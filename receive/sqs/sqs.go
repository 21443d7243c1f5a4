// Package sqs long-polls an SQS queue for encoded span lists.
package sqs

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"golang.org/x/sync/errgroup"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/codec"
	"github.com/honeycombio/intake/collect"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/internal/health"
	"github.com/honeycombio/intake/logger"
)

const transport = "sqs"

var (
	healthTimeout = 60 * time.Second
	retryBackoff  = time.Second
)

// Receiver runs Parallelism pollers against one queue. A message is deleted
// once its spans are stored or once it is known to be undecodable; any other
// failure leaves it to reappear after its visibility timeout.
type Receiver struct {
	Config    config.Config      `inject:""`
	Logger    logger.Logger      `inject:""`
	Collector *collect.Collector `inject:""`
	Recorder  health.Recorder    `inject:""`

	// Client is created from config on Start when nil.
	Client sqsiface.SQSAPI

	collector *collect.Collector
	decoder   codec.Decoder
	queueURL  string
	polling   atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	eg     *errgroup.Group
}

func (r *Receiver) Start() error {
	cfg := r.Config.GetSQSConfig()
	if !cfg.Enabled {
		return nil
	}

	var err error
	r.decoder, err = codec.ForEncoding(cfg.Encoding)
	if err != nil {
		return err
	}
	r.collector = r.Collector.ForTransport(transport)
	r.queueURL = cfg.QueueURL

	if r.Client == nil {
		awsConfig := &aws.Config{Region: aws.String(cfg.Region)}
		if cfg.Endpoint != "" {
			awsConfig.Endpoint = aws.String(cfg.Endpoint)
		}
		sess, err := session.NewSession(awsConfig)
		if err != nil {
			return fmt.Errorf("failed to create aws session: %w", err)
		}
		r.Client = sqs.New(sess)
	}

	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(cfg.QueueURL),
		MaxNumberOfMessages: aws.Int64(int64(cfg.MaxMessages)),
		WaitTimeSeconds:     aws.Int64(int64(time.Duration(cfg.WaitTime) / time.Second)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.eg = &errgroup.Group{}
	r.polling.Store(true)

	for i := 0; i < parallelism; i++ {
		r.eg.Go(func() error {
			r.poll(ctx, input)
			return nil
		})
	}
	r.eg.Go(func() error {
		health.Heartbeat(r.Recorder, "receiver_"+transport, healthTimeout, r.polling.Load, r.done)
		return nil
	})

	r.Logger.Info().WithFields(map[string]any{
		"queue_url":   cfg.QueueURL,
		"parallelism": parallelism,
		"encoding":    r.decoder.Encoding(),
	}).Logf("started sqs receiver")
	return nil
}

func (r *Receiver) poll(ctx context.Context, input *sqs.ReceiveMessageInput) {
	for ctx.Err() == nil {
		out, err := r.Client.ReceiveMessageWithContext(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.polling.Store(false)
			r.Logger.Error().WithField("error", err.Error()).Logf("failed to receive sqs messages")
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
			continue
		}
		r.polling.Store(true)
		for _, msg := range out.Messages {
			r.handle(ctx, msg)
		}
	}
}

func (r *Receiver) handle(ctx context.Context, msg *sqs.Message) {
	data := messageBytes(aws.StringValue(msg.Body))

	w := call.NewWait[struct{}]()
	r.collector.AcceptEncoded(ctx, data, r.decoder, w)
	_, err := w.Result(ctx)

	if err != nil && !collect.Unretryable(err) {
		r.Logger.Debug().WithFields(map[string]any{
			"message_id": aws.StringValue(msg.MessageId),
			"error":      err.Error(),
		}).Logf("leaving sqs message for redelivery")
		return
	}

	_, err = r.Client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(r.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		r.Logger.Warn().WithFields(map[string]any{
			"message_id": aws.StringValue(msg.MessageId),
			"error":      err.Error(),
		}).Logf("failed to delete sqs message")
	}
}

// messageBytes returns the payload of a message body. SQS bodies are text,
// so binary encodings arrive base64 encoded; JSON arrives as is.
func messageBytes(body string) []byte {
	if len(body) > 0 && (body[0] == '[' || body[0] == '{') {
		return []byte(body)
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return []byte(body)
	}
	return data
}

func (r *Receiver) Stop() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	close(r.done)
	return r.eg.Wait()
}
