package sqs

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/openzipkin/zipkin-go/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/codec"
	"github.com/honeycombio/intake/collect"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/internal/health"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/processor"
	"github.com/honeycombio/intake/storage"
	"github.com/honeycombio/intake/storage/inmem"
	"github.com/honeycombio/intake/types"
)

func init() {
	healthTimeout = 20 * time.Millisecond
	retryBackoff = time.Millisecond
}

// testSQS hands out queued messages one at a time and records deletes.
type testSQS struct {
	sqsiface.SQSAPI

	mut        sync.Mutex
	queue      []*sqs.Message
	deleted    []string
	receiveErr error
	inputs     []*sqs.ReceiveMessageInput
}

func (q *testSQS) push(id, body string) {
	q.mut.Lock()
	defer q.mut.Unlock()
	q.queue = append(q.queue, &sqs.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("receipt-" + id),
		Body:          aws.String(body),
	})
}

func (q *testSQS) ReceiveMessageWithContext(ctx aws.Context, in *sqs.ReceiveMessageInput, _ ...request.Option) (*sqs.ReceiveMessageOutput, error) {
	q.mut.Lock()
	q.inputs = append(q.inputs, in)
	err := q.receiveErr
	var out []*sqs.Message
	if err == nil && len(q.queue) > 0 {
		out = q.queue[:1]
		q.queue = q.queue[1:]
	}
	q.mut.Unlock()

	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		// stand in for the long poll
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

func (q *testSQS) DeleteMessageWithContext(_ aws.Context, in *sqs.DeleteMessageInput, _ ...request.Option) (*sqs.DeleteMessageOutput, error) {
	q.mut.Lock()
	defer q.mut.Unlock()
	q.deleted = append(q.deleted, aws.StringValue(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (q *testSQS) setReceiveErr(err error) {
	q.mut.Lock()
	defer q.mut.Unlock()
	q.receiveErr = err
}

func (q *testSQS) state() (queued int, deleted []string) {
	q.mut.Lock()
	defer q.mut.Unlock()
	return len(q.queue), append([]string(nil), q.deleted...)
}

// flakyStorage fails writes of spans named "fail".
type flakyStorage struct {
	*inmem.Storage
}

var errWriteFailed = errors.New("write failed")

func (f flakyStorage) SpanConsumer() storage.SpanConsumer {
	return storage.ConsumerFunc(func(spans []*types.Span) call.Call[struct{}] {
		for _, s := range spans {
			if s.Name == "fail" {
				return call.Fail[struct{}](errWriteFailed)
			}
		}
		return f.Storage.Accept(spans)
	})
}

func testSpans(name string, traceLow uint64) []*types.Span {
	return []*types.Span{{
		SpanContext: model.SpanContext{TraceID: model.TraceID{Low: traceLow}, ID: 1},
		Name:        name,
	}}
}

type testReceiver struct {
	*Receiver
	client   *testSQS
	store    flakyStorage
	metrics  *metrics.InMemoryCollectorMetrics
	recorder *health.MockRecorder
}

func newTestReceiver(t *testing.T, encoding string) testReceiver {
	store := flakyStorage{inmem.New(1000)}
	m := metrics.NewInMemoryCollectorMetrics()
	c, err := collect.New(collect.Options{Storage: store, Metrics: m})
	require.NoError(t, err)

	client := &testSQS{}
	rec := &health.MockRecorder{}
	r := &Receiver{
		Config: &config.MockConfig{GetSQSConfigVal: config.SQSConfig{
			Enabled:     true,
			QueueURL:    "https://sqs.us-east-1.amazonaws.com/123456789012/zipkin",
			Encoding:    encoding,
			Parallelism: 2,
			MaxMessages: 10,
			WaitTime:    config.Duration(20 * time.Second),
		}},
		Logger:    &logger.NullLogger{},
		Collector: c,
		Recorder:  rec,
		Client:    client,
	}
	return testReceiver{Receiver: r, client: client, store: store, metrics: m, recorder: rec}
}

func TestDeletesHandledMessages(t *testing.T) {
	tr := newTestReceiver(t, "JSON_V2")
	ok, err := codec.JSONV2.EncodeList(testSpans("ok", 1))
	require.NoError(t, err)
	failing, err := codec.JSONV2.EncodeList(testSpans("fail", 2))
	require.NoError(t, err)

	tr.client.push("1", string(ok))
	tr.client.push("2", "not a span list")
	tr.client.push("3", string(failing))
	require.NoError(t, tr.Start())

	assert.Eventually(t, func() bool {
		_, deleted := tr.client.state()
		return len(deleted) == 2 && tr.metrics.Transport(transport).SpansDropped() == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, tr.Stop())

	_, deleted := tr.client.state()
	assert.ElementsMatch(t, []string{"receipt-1", "receipt-2"}, deleted)
	assert.Equal(t, 1, tr.store.SpanCount())
	assert.Equal(t, int64(3), tr.metrics.Transport(transport).Messages())

	tr.client.mut.Lock()
	in := tr.client.inputs[0]
	tr.client.mut.Unlock()
	assert.Equal(t, int64(10), aws.Int64Value(in.MaxNumberOfMessages))
	assert.Equal(t, int64(20), aws.Int64Value(in.WaitTimeSeconds))
}

func TestDeletesRejectedByProcessor(t *testing.T) {
	tr := newTestReceiver(t, "JSON_V2")
	c, err := collect.New(collect.Options{
		Storage: tr.store,
		Metrics: tr.metrics,
		Handlers: processor.NewChain(processor.HandlerFunc(func(s *types.Span) (*types.Span, error) {
			if s.Name == "reject" {
				return nil, errors.New("rejected")
			}
			return s, nil
		})),
	})
	require.NoError(t, err)
	tr.Collector = c

	rejected, err := codec.JSONV2.EncodeList(testSpans("reject", 1))
	require.NoError(t, err)
	failing, err := codec.JSONV2.EncodeList(testSpans("fail", 2))
	require.NoError(t, err)
	tr.client.push("1", string(rejected))
	tr.client.push("2", string(failing))
	require.NoError(t, tr.Start())

	assert.Eventually(t, func() bool {
		_, deleted := tr.client.state()
		return len(deleted) == 1 && tr.metrics.Transport(transport).SpansDropped() == 2
	}, time.Second, time.Millisecond)
	require.NoError(t, tr.Stop())

	_, deleted := tr.client.state()
	assert.Equal(t, []string{"receipt-1"}, deleted)
	assert.Equal(t, 0, tr.store.SpanCount())
}

func TestBase64Bodies(t *testing.T) {
	tr := newTestReceiver(t, "PROTO3")
	data, err := codec.Proto3.EncodeList(testSpans("ok", 7))
	require.NoError(t, err)
	tr.client.push("1", base64.StdEncoding.EncodeToString(data))
	require.NoError(t, tr.Start())
	defer tr.Stop()

	assert.Eventually(t, func() bool { return tr.store.SpanCount() == 1 }, time.Second, time.Millisecond)
}

func TestMessageBytes(t *testing.T) {
	assert.Equal(t, []byte(`[{"traceId":"1"}]`), messageBytes(`[{"traceId":"1"}]`))
	assert.Equal(t, []byte{0x0a, 0x01}, messageBytes("CgE="))
	assert.Equal(t, []byte("%%%"), messageBytes("%%%"))
}

func TestHealthFollowsPolling(t *testing.T) {
	tr := newTestReceiver(t, "JSON_V2")
	require.NoError(t, tr.Start())

	assert.Eventually(t, func() bool { return tr.recorder.IsReady("receiver_sqs") }, time.Second, time.Millisecond)
	tr.client.setReceiveErr(errors.New("access denied"))
	assert.Eventually(t, func() bool { return !tr.recorder.IsReady("receiver_sqs") }, time.Second, time.Millisecond)
	tr.client.setReceiveErr(nil)
	assert.Eventually(t, func() bool { return tr.recorder.IsReady("receiver_sqs") }, time.Second, time.Millisecond)

	require.NoError(t, tr.Stop())
	assert.False(t, tr.recorder.IsRegistered("receiver_sqs"))
}

func TestDisabled(t *testing.T) {
	r := &Receiver{Config: &config.MockConfig{}, Logger: &logger.NullLogger{}}
	require.NoError(t, r.Start())
	require.NoError(t, r.Stop())
}
