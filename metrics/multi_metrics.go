package metrics

import (
	"net/http"
	"sync"
)

// MultiMetrics is a metrics provider that sends metrics to zero or more other
// metrics providers.
//
// It intercepts Store and Get since the children don't need to know about
// them, and records the value of every counter, gauge and updown. Even with
// no children configured, this allows the rest of the code to read back the
// values it recorded.
type MultiMetrics struct {
	children []Metrics
	// values keeps a map of all the non-histogram metrics and their current
	// value so that we can retrieve them with Get()
	values map[string]float64
	lock   sync.RWMutex
}

func NewMultiMetrics() *MultiMetrics {
	return &MultiMetrics{
		values: make(map[string]float64),
	}
}

// AddChild must be called before the object graph is started.
func (m *MultiMetrics) AddChild(met Metrics) {
	m.children = append(m.children, met)
}

// Start starts the children, so that they are ready before anything that
// depends on the process-wide metrics registers with them.
func (m *MultiMetrics) Start() error {
	for _, ch := range m.children {
		if s, ok := ch.(interface{ Start() error }); ok {
			if err := s.Start(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MultiMetrics) Children() []Metrics {
	return m.children
}

// Handler returns the first child that can be scraped, or nil.
func (m *MultiMetrics) Handler() http.Handler {
	for _, ch := range m.children {
		if h, ok := ch.(Handler); ok {
			return h.Handler()
		}
	}
	return nil
}

func (m *MultiMetrics) Register(metadata Metadata) {
	for _, ch := range m.children {
		ch.Register(metadata)
	}
	if metadata.Type == Histogram {
		return
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.values[metadata.Name]; !ok {
		m.values[metadata.Name] = 0
	}
}

func (m *MultiMetrics) Increment(name string) {
	for _, ch := range m.children {
		ch.Increment(name)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name]++
}

func (m *MultiMetrics) Gauge(name string, val any) {
	for _, ch := range m.children {
		ch.Gauge(name, val)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name] = ConvertNumeric(val)
}

func (m *MultiMetrics) Count(name string, n any) {
	for _, ch := range m.children {
		ch.Count(name, n)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name] += ConvertNumeric(n)
}

func (m *MultiMetrics) Histogram(name string, obs any) {
	for _, ch := range m.children {
		ch.Histogram(name, obs)
	}
}

func (m *MultiMetrics) Up(name string) {
	for _, ch := range m.children {
		ch.Up(name)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name]++
}

func (m *MultiMetrics) Down(name string) {
	for _, ch := range m.children {
		ch.Down(name)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name]--
}

func (m *MultiMetrics) Get(name string) (float64, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	v, ok := m.values[name]
	return v, ok
}

func (m *MultiMetrics) Store(name string, val float64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name] = val
}
