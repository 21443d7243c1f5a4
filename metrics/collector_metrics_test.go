package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryCollectorMetrics(t *testing.T) {
	m := NewInMemoryCollectorMetrics()
	http := m.ForTransport("http")
	http.IncrementMessages()
	http.IncrementMessagesDropped()
	http.IncrementBytes(100)
	http.IncrementSpans(3)
	http.IncrementSpansDropped(2)

	// a second scope with the same name accumulates into the same counters
	m.ForTransport("http").IncrementMessages()
	m.ForTransport("kafka").IncrementMessages()

	scoped := m.Transport("http")
	assert.Equal(t, int64(2), scoped.Messages())
	assert.Equal(t, int64(1), scoped.MessagesDropped())
	assert.Equal(t, int64(100), scoped.Bytes())
	assert.Equal(t, int64(3), scoped.Spans())
	assert.Equal(t, int64(2), scoped.SpansDropped())
	assert.Equal(t, int64(1), m.Transport("kafka").Messages())

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap["http.messages"])
	assert.Equal(t, int64(1), snap["http.messages.dropped"])
	assert.Equal(t, int64(2), snap["http.spans.dropped"])
}

func TestInMemoryCollectorMetricsConcurrent(t *testing.T) {
	m := NewInMemoryCollectorMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scope := m.ForTransport("grpc")
			for j := 0; j < 100; j++ {
				scope.IncrementSpans(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(2000), m.Transport("grpc").Spans())
}

func TestNoopCollectorMetrics(t *testing.T) {
	scope := NoopCollectorMetrics.ForTransport("http")
	scope.IncrementMessages()
	scope.IncrementSpansDropped(5)
	assert.Equal(t, NoopCollectorMetrics, scope)
}

func TestRegistryCollectorMetrics(t *testing.T) {
	mm := NewMultiMetrics()
	cm := NewCollectorMetrics(mm)
	scope := cm.ForTransport("kafka")
	scope.IncrementMessages()
	scope.IncrementMessagesDropped()
	scope.IncrementBytes(64)
	scope.IncrementSpans(4)
	scope.IncrementSpansDropped(1)

	for name, want := range map[string]float64{
		"kafka_messages":         1,
		"kafka_messages_dropped": 1,
		"kafka_bytes":            64,
		"kafka_spans":            4,
		"kafka_spans_dropped":    1,
	} {
		got, ok := mm.Get(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
}
