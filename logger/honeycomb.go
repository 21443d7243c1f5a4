package logger

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/honeycombio/dynsampler-go"
	libhoney "github.com/honeycombio/libhoney-go"
	"github.com/honeycombio/libhoney-go/transmission"

	"github.com/honeycombio/intake/config"
)

// HoneycombLogger is a Logger implementation that sends all logs to a
// Honeycomb dataset, optionally sampling repetitive lines.
type HoneycombLogger struct {
	Config            config.Config   `inject:""`
	UpstreamTransport *http.Transport `inject:"upstreamTransport"`
	Version           string          `inject:"version"`

	loggerConfig config.HoneycombLoggerConfig
	level        config.Level
	libhClient   *libhoney.Client
	builder      *libhoney.Builder
	sampler      dynsampler.Sampler

	// sender overrides the transmission; used by tests
	sender transmission.Sender
}

var _ = Logger((*HoneycombLogger)(nil))

type HoneycombEntry struct {
	builder *libhoney.Builder
	sampler dynsampler.Sampler
}

func (h *HoneycombLogger) Start() error {
	// the level may have been set before Start
	if h.level == config.UnknownLevel {
		h.level = h.Config.GetLoggerLevel()
	}
	h.loggerConfig = h.Config.GetHoneycombLoggerConfig()

	loggerTx := h.sender
	switch {
	case loggerTx != nil:
	case h.loggerConfig.APIKey == "":
		loggerTx = &transmission.DiscardSender{}
	default:
		hny := &transmission.Honeycomb{
			// logs are often sent in flurries; flush every half second
			MaxBatchSize:        100,
			BatchTimeout:        500 * time.Millisecond,
			UserAgentAddition:   "intake/" + h.Version + " (logs)",
			PendingWorkCapacity: libhoney.DefaultPendingWorkCapacity,
		}
		if h.UpstreamTransport != nil {
			hny.Transport = h.UpstreamTransport
		}
		loggerTx = hny
	}

	if h.loggerConfig.SamplerEnabled {
		h.sampler = &dynsampler.PerKeyThroughput{
			ClearFrequencySec:      10,
			PerKeyThroughputPerSec: h.loggerConfig.SamplerThroughput,
			MaxKeys:                1000,
		}
		if err := h.sampler.Start(); err != nil {
			return err
		}
	}

	libhClient, err := libhoney.NewClient(libhoney.ClientConfig{
		APIHost:      h.loggerConfig.APIHost,
		APIKey:       h.loggerConfig.APIKey,
		Dataset:      h.loggerConfig.Dataset,
		Transmission: loggerTx,
	})
	if err != nil {
		return err
	}
	h.libhClient = libhClient

	if hostname, err := os.Hostname(); err == nil {
		h.libhClient.AddField("hostname", hostname)
	}
	startTime := time.Now()
	h.libhClient.AddDynamicField("process_uptime_seconds", func() any {
		return time.Since(startTime) / time.Second
	})

	h.builder = h.libhClient.NewBuilder()

	go h.readResponses()

	h.Config.RegisterReloadCallback(h.reloadBuilder)

	fmt.Printf("Starting Honeycomb Logger - see Honeycomb %s dataset for service logs\n", h.loggerConfig.Dataset)

	return nil
}

// readResponses reports failures to send log lines on stderr, since they
// can't be logged anywhere else.
func (h *HoneycombLogger) readResponses() {
	for resp := range h.libhClient.TxResponses() {
		respString := fmt.Sprintf("Response: status: %d, duration: %s", resp.StatusCode, resp.Duration)
		switch {
		case resp.StatusCode == 0: // dropped by sampling
			continue
		case resp.Err != nil:
			fmt.Fprintf(os.Stderr, "Honeycomb Logger got an error back from Honeycomb while trying to send a log line: %s, error: %s, body: %s\n", respString, resp.Err.Error(), string(resp.Body))
		case resp.StatusCode > 202:
			fmt.Fprintf(os.Stderr, "Honeycomb Logger got an unexpected status code back from Honeycomb while trying to send a log line: %s, %s\n", respString, string(resp.Body))
		}
	}
}

func (h *HoneycombLogger) reloadBuilder(string) {
	h.Debug().Logf("reloading config for Honeycomb logger")
	h.loggerConfig = h.Config.GetHoneycombLoggerConfig()
	h.builder.APIHost = h.loggerConfig.APIHost
	h.builder.WriteKey = h.loggerConfig.APIKey
	h.builder.Dataset = h.loggerConfig.Dataset
}

func (h *HoneycombLogger) Stop() error {
	fmt.Printf("stopping honey logger\n")
	if h.libhClient != nil {
		h.libhClient.Close()
	}
	return nil
}

func (h *HoneycombLogger) entry(level config.Level) Entry {
	if h.level > level {
		return nullEntry
	}

	ev := &HoneycombEntry{
		builder: h.builder.Clone(),
		sampler: h.sampler,
	}
	ev.builder.AddField("level", level.String())

	return ev
}

func (h *HoneycombLogger) Debug() Entry { return h.entry(config.DebugLevel) }
func (h *HoneycombLogger) Info() Entry  { return h.entry(config.InfoLevel) }
func (h *HoneycombLogger) Warn() Entry  { return h.entry(config.WarnLevel) }
func (h *HoneycombLogger) Error() Entry { return h.entry(config.ErrorLevel) }

func (h *HoneycombLogger) SetLevel(level string) error {
	var lvl config.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return err
	}
	h.level = lvl
	return nil
}

func (h *HoneycombEntry) WithField(key string, value any) Entry {
	h.builder.AddField(key, value)
	return h
}

func (h *HoneycombEntry) WithString(key string, value string) Entry {
	return h.WithField(key, value)
}

func (h *HoneycombEntry) WithFields(fields map[string]any) Entry {
	h.builder.Add(fields)
	return h
}

func (h *HoneycombEntry) Logf(f string, args ...any) {
	ev := h.builder.NewEvent()
	msg := fmt.Sprintf(f, args...)
	ev.AddField("msg", msg)
	ev.Metadata = map[string]string{
		"api_host": ev.APIHost,
		"dataset":  ev.Dataset,
	}
	level, ok := ev.Fields()["level"].(string)
	if !ok {
		level = "unknown"
	}
	if h.sampler != nil {
		// sample by level and format string so repeated lines collapse
		rate := h.sampler.GetSampleRate(fmt.Sprintf(`%s:%s`, level, f))
		ev.SampleRate = uint(rate)
	}
	ev.Send()
}
