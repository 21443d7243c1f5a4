package metrics

import (
	"fmt"
	"net/http"

	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/logger"
)

// The Metrics object supports "constants", which are just float values that can be attached to the
// metrics system. They do not need to be (and should not) be registered in advance; they are just
// a bucket of key-float pairs that can be used in combination with other metrics.
type Metrics interface {
	// Register declares a metric; registering the same name twice is a no-op.
	Register(metadata Metadata)
	Increment(name string)           // for counters
	Gauge(name string, val any)      // for gauges
	Count(name string, n any)        // for counters
	Histogram(name string, obs any)  // for histogram
	Up(name string)                  // for updown
	Down(name string)                // for updown
	Get(name string) (float64, bool) // for reading back a counter or a gauge
	Store(name string, val float64)  // for storing a rarely-changing value not sent as a metric
}

// Handler is implemented by metrics providers that can be scraped over HTTP.
type Handler interface {
	Handler() http.Handler
}

type MetricType int

const (
	Counter MetricType = iota
	Gauge
	Histogram
	UpDown
)

func (m MetricType) String() string {
	switch m {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Histogram:
		return "histogram"
	case UpDown:
		return "updown"
	default:
		return "unknown"
	}
}

type Unit string

const (
	Dimensionless Unit = "1"
	Bytes         Unit = "By"
	Milliseconds  Unit = "ms"
	Microseconds  Unit = "us"
)

type Metadata struct {
	Name        string
	Type        MetricType
	Unit        Unit
	Description string
}

// GetMetricsImplementation returns the process-wide metrics object. Values are
// always kept in memory so that they can be read back with Get; prometheus
// export is added when it's enabled.
func GetMetricsImplementation(c config.Config, lgr logger.Logger) *MultiMetrics {
	m := NewMultiMetrics()
	if c.GetPrometheusMetricsConfig().Enabled {
		m.AddChild(&PromMetrics{Logger: lgr})
	}
	return m
}

func ConvertNumeric(val any) float64 {
	switch n := val.(type) {
	case int:
		return float64(n)
	case uint:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case int32:
		return float64(n)
	case uint32:
		return float64(n)
	case int16:
		return float64(n)
	case uint16:
		return float64(n)
	case int8:
		return float64(n)
	case uint8:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func PrefixMetricName(prefix string, name string) string {
	if prefix != "" {
		return fmt.Sprintf(`%s_%s`, prefix, name)
	}
	return name
}
