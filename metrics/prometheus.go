package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/honeycombio/intake/logger"
)

// PromMetrics exports metrics in the prometheus format. It keeps its own
// registry rather than the global one so that several instances can coexist
// in tests.
type PromMetrics struct {
	Logger logger.Logger `inject:""`
	// metrics keeps a record of all the registered metrics so we can increment
	// them by name
	metrics  map[string]any
	registry *prometheus.Registry
	lock     sync.RWMutex
}

func (p *PromMetrics) Start() error {
	p.Logger.Debug().Logf("Starting PromMetrics")
	defer func() { p.Logger.Debug().Logf("Finished starting PromMetrics") }()

	p.lock.Lock()
	defer p.lock.Unlock()
	p.metrics = make(map[string]any)
	p.registry = prometheus.NewRegistry()
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return nil
}

// Handler serves the registry in the prometheus exposition format.
func (p *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// promName turns a dotted metric name into a valid prometheus name.
func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// Register takes a name and a metric type. Registering a name twice is a
// no-op, since prometheus panics on duplicate registration.
func (p *PromMetrics) Register(metadata Metadata) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if _, exists := p.metrics[metadata.Name]; exists {
		return
	}

	help := metadata.Description
	if help == "" {
		help = metadata.Name
	}
	name := promName(metadata.Name)
	factory := promauto.With(p.registry)

	var newmet any
	switch metadata.Type {
	case Counter:
		newmet = factory.NewCounter(prometheus.CounterOpts{
			Name: name,
			Help: help,
		})
	case Gauge, UpDown:
		newmet = factory.NewGauge(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		})
	case Histogram:
		newmet = factory.NewHistogram(prometheus.HistogramOpts{
			Name: name,
			Help: help,
			// 16 buckets, first upper bound of 1, each following upper bound is 4x the previous
			Buckets: prometheus.ExponentialBuckets(1, 4, 16),
		})
	default:
		return
	}

	p.metrics[metadata.Name] = newmet
}

func (p *PromMetrics) Increment(name string) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if counter, ok := p.metrics[name].(prometheus.Counter); ok {
		counter.Inc()
	}
}

func (p *PromMetrics) Count(name string, n any) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if counter, ok := p.metrics[name].(prometheus.Counter); ok {
		counter.Add(ConvertNumeric(n))
	}
}

func (p *PromMetrics) Gauge(name string, val any) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if gauge, ok := p.metrics[name].(prometheus.Gauge); ok {
		gauge.Set(ConvertNumeric(val))
	}
}

func (p *PromMetrics) Histogram(name string, obs any) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if hist, ok := p.metrics[name].(prometheus.Histogram); ok {
		hist.Observe(ConvertNumeric(obs))
	}
}

func (p *PromMetrics) Up(name string) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if gauge, ok := p.metrics[name].(prometheus.Gauge); ok {
		gauge.Inc()
	}
}

func (p *PromMetrics) Down(name string) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if gauge, ok := p.metrics[name].(prometheus.Gauge); ok {
		gauge.Dec()
	}
}

// Get and Store are handled by MultiMetrics.
func (p *PromMetrics) Get(name string) (float64, bool) { return 0, false }
func (p *PromMetrics) Store(name string, val float64)  {}
