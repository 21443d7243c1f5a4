package metrics

import (
	"sync"
	"sync/atomic"
)

// CollectorMetrics counts what each transport receives and what is lost on
// the way to storage. Every method is safe for concurrent use and never
// blocks.
type CollectorMetrics interface {
	// ForTransport returns a view scoped to the named transport. Calling it
	// twice with the same name returns views over the same counters.
	ForTransport(name string) CollectorMetrics

	IncrementMessages()
	IncrementMessagesDropped()
	IncrementBytes(n int)
	IncrementSpans(n int)
	IncrementSpansDropped(n int)
}

// The suffixes of the per-transport metric names.
const (
	MessagesMetric        = "messages"
	MessagesDroppedMetric = "messages.dropped"
	BytesMetric           = "bytes"
	SpansMetric           = "spans"
	SpansDroppedMetric    = "spans.dropped"
)

// NoopCollectorMetrics discards everything.
var NoopCollectorMetrics CollectorMetrics = noopCollectorMetrics{}

type noopCollectorMetrics struct{}

func (noopCollectorMetrics) ForTransport(string) CollectorMetrics { return NoopCollectorMetrics }
func (noopCollectorMetrics) IncrementMessages()                   {}
func (noopCollectorMetrics) IncrementMessagesDropped()            {}
func (noopCollectorMetrics) IncrementBytes(int)                   {}
func (noopCollectorMetrics) IncrementSpans(int)                   {}
func (noopCollectorMetrics) IncrementSpansDropped(int)            {}

// InMemoryCollectorMetrics accumulates into atomic counters keyed by
// "<transport>.<metric>". Views obtained with ForTransport share the same
// counters as their parent.
type InMemoryCollectorMetrics struct {
	counters *counterSet
	prefix   string
}

var _ CollectorMetrics = (*InMemoryCollectorMetrics)(nil)

type counterSet struct {
	mut sync.RWMutex
	m   map[string]*atomic.Int64
}

func (c *counterSet) get(name string) *atomic.Int64 {
	c.mut.RLock()
	v, ok := c.m[name]
	c.mut.RUnlock()
	if ok {
		return v
	}

	c.mut.Lock()
	defer c.mut.Unlock()
	if v, ok = c.m[name]; !ok {
		v = &atomic.Int64{}
		c.m[name] = v
	}
	return v
}

func NewInMemoryCollectorMetrics() *InMemoryCollectorMetrics {
	return &InMemoryCollectorMetrics{
		counters: &counterSet{m: make(map[string]*atomic.Int64)},
	}
}

func (m *InMemoryCollectorMetrics) ForTransport(name string) CollectorMetrics {
	return m.forTransport(name)
}

func (m *InMemoryCollectorMetrics) forTransport(name string) *InMemoryCollectorMetrics {
	return &InMemoryCollectorMetrics{counters: m.counters, prefix: name + "."}
}

// Transport is ForTransport returning the concrete type, for tests that
// read the counters back.
func (m *InMemoryCollectorMetrics) Transport(name string) *InMemoryCollectorMetrics {
	return m.forTransport(name)
}

func (m *InMemoryCollectorMetrics) add(metric string, n int) {
	m.counters.get(m.prefix + metric).Add(int64(n))
}

func (m *InMemoryCollectorMetrics) IncrementMessages()          { m.add(MessagesMetric, 1) }
func (m *InMemoryCollectorMetrics) IncrementMessagesDropped()   { m.add(MessagesDroppedMetric, 1) }
func (m *InMemoryCollectorMetrics) IncrementBytes(n int)        { m.add(BytesMetric, n) }
func (m *InMemoryCollectorMetrics) IncrementSpans(n int)        { m.add(SpansMetric, n) }
func (m *InMemoryCollectorMetrics) IncrementSpansDropped(n int) { m.add(SpansDroppedMetric, n) }

func (m *InMemoryCollectorMetrics) load(metric string) int64 {
	return m.counters.get(m.prefix + metric).Load()
}

func (m *InMemoryCollectorMetrics) Messages() int64        { return m.load(MessagesMetric) }
func (m *InMemoryCollectorMetrics) MessagesDropped() int64 { return m.load(MessagesDroppedMetric) }
func (m *InMemoryCollectorMetrics) Bytes() int64           { return m.load(BytesMetric) }
func (m *InMemoryCollectorMetrics) Spans() int64           { return m.load(SpansMetric) }
func (m *InMemoryCollectorMetrics) SpansDropped() int64    { return m.load(SpansDroppedMetric) }

// Snapshot returns every counter by its full dotted name.
func (m *InMemoryCollectorMetrics) Snapshot() map[string]int64 {
	m.counters.mut.RLock()
	defer m.counters.mut.RUnlock()

	out := make(map[string]int64, len(m.counters.m))
	for k, v := range m.counters.m {
		out[k] = v.Load()
	}
	return out
}

// registryCollectorMetrics reports through a Metrics provider, which is what
// the running process exports.
type registryCollectorMetrics struct {
	m      Metrics
	prefix string
}

// NewCollectorMetrics returns CollectorMetrics reporting to m. Metric names
// take the form "<transport>_<metric>" with dots replaced by underscores, so
// "kafka.messages.dropped" is exported as "kafka_messages_dropped".
func NewCollectorMetrics(m Metrics) CollectorMetrics {
	return &registryCollectorMetrics{m: m}
}

func (r *registryCollectorMetrics) ForTransport(name string) CollectorMetrics {
	scoped := &registryCollectorMetrics{m: r.m, prefix: name + "_"}
	for _, metric := range []struct{ name, desc string }{
		{MessagesMetric, "messages received"},
		{MessagesDroppedMetric, "messages that could not be decoded"},
		{BytesMetric, "bytes received"},
		{SpansMetric, "spans decoded from received messages"},
		{SpansDroppedMetric, "spans dropped by sampling, processing, or storage failure"},
	} {
		r.m.Register(Metadata{
			Name:        scoped.name(metric.name),
			Type:        Counter,
			Unit:        Dimensionless,
			Description: name + " " + metric.desc,
		})
	}
	return scoped
}

func (r *registryCollectorMetrics) name(metric string) string {
	return promName(r.prefix + metric)
}

func (r *registryCollectorMetrics) IncrementMessages() {
	r.m.Increment(r.name(MessagesMetric))
}

func (r *registryCollectorMetrics) IncrementMessagesDropped() {
	r.m.Increment(r.name(MessagesDroppedMetric))
}

func (r *registryCollectorMetrics) IncrementBytes(n int) {
	r.m.Count(r.name(BytesMetric), n)
}

func (r *registryCollectorMetrics) IncrementSpans(n int) {
	r.m.Count(r.name(SpansMetric), n)
}

func (r *registryCollectorMetrics) IncrementSpansDropped(n int) {
	r.m.Count(r.name(SpansDroppedMetric), n)
}
