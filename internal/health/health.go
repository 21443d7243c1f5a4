// Package health tracks whether the receivers and the storage backend are
// able to take traffic. Subsystems either report in with Ready or are probed
// with Watch; the router reads the result back for /alive, /ready and the
// gRPC health service.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
)

// Recorder is used by subsystems to report their own state.
type Recorder interface {
	Register(subsystem string, timeout time.Duration)
	Unregister(subsystem string)
	Ready(subsystem string, ready bool)
}

// Reporter reads back the state of the whole process.
type Reporter interface {
	IsAlive() bool
	IsReady() bool
}

// TickerTime is how often report deadlines are counted down and probes run.
// It should be shorter than any subsystem timeout.
var TickerTime = 500 * time.Millisecond

// Health is alive while every registered subsystem has reported within its
// timeout, and ready when additionally every one of them last reported
// ready. A subsystem is not counted against liveness until its first report.
type Health struct {
	Clock   clockwork.Clock `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`
	Logger  logger.Logger   `inject:""`

	mut       sync.RWMutex
	timeouts  map[string]time.Duration
	remaining map[string]time.Duration
	ready     map[string]bool
	alive     map[string]bool
	probes    map[string]*probe

	done chan struct{}
	wg   sync.WaitGroup
}

var _ Recorder = (*Health)(nil)
var _ Reporter = (*Health)(nil)

// probe is a check run by the ticker on behalf of a subsystem.
type probe struct {
	check    func(ctx context.Context) error
	interval time.Duration
	next     time.Time
	failing  bool
}

func (h *Health) Start() error {
	if h.Logger == nil {
		h.Logger = &logger.NullLogger{}
	}
	if h.Metrics == nil {
		h.Metrics = &metrics.NullMetrics{}
	}
	if h.Clock == nil {
		h.Clock = clockwork.NewRealClock()
	}
	h.Metrics.Register(metrics.Metadata{Name: "is_ready", Type: metrics.Gauge, Unit: metrics.Dimensionless, Description: "Whether the process is ready to receive spans"})
	h.Metrics.Register(metrics.Metadata{Name: "is_alive", Type: metrics.Gauge, Unit: metrics.Dimensionless, Description: "Whether every subsystem has reported in time"})

	h.timeouts = make(map[string]time.Duration)
	h.remaining = make(map[string]time.Duration)
	h.ready = make(map[string]bool)
	h.alive = make(map[string]bool)
	h.probes = make(map[string]*probe)
	h.done = make(chan struct{})

	h.wg.Add(1)
	go h.ticker()
	return nil
}

func (h *Health) Stop() error {
	close(h.done)
	h.wg.Wait()
	return nil
}

func (h *Health) ticker() {
	defer h.wg.Done()
	tick := h.Clock.NewTicker(TickerTime)
	defer tick.Stop()
	for {
		select {
		case <-tick.Chan():
			h.countDown()
			h.runProbes()
		case <-h.done:
			return
		}
	}
}

func (h *Health) countDown() {
	h.mut.Lock()
	defer h.mut.Unlock()
	for subsystem, left := range h.remaining {
		// zero means dead and negative means not yet reported
		if left > 0 {
			h.remaining[subsystem] = max(left-TickerTime, 0)
		}
	}
}

func (h *Health) runProbes() {
	now := h.Clock.Now()
	h.mut.Lock()
	due := make(map[string]*probe)
	for subsystem, p := range h.probes {
		if !now.Before(p.next) {
			p.next = now.Add(p.interval)
			due[subsystem] = p
		}
	}
	h.mut.Unlock()

	for subsystem, p := range due {
		ctx, cancel := context.WithTimeout(context.Background(), p.interval)
		err := p.check(ctx)
		cancel()
		if err != nil && !p.failing {
			h.Logger.Warn().WithString("subsystem", subsystem).WithField("error", err.Error()).Logf("health probe failed")
		}
		p.failing = err != nil
		h.Ready(subsystem, err == nil)
	}
}

// Register starts tracking a subsystem. Once it has reported for the first
// time it must call Ready at least once per timeout or the process is no
// longer alive.
func (h *Health) Register(subsystem string, timeout time.Duration) {
	h.mut.Lock()
	defer h.mut.Unlock()
	h.timeouts[subsystem] = timeout
	h.ready[subsystem] = false
	h.remaining[subsystem] = -1

	fields := map[string]any{
		"subsystem": subsystem,
		"timeout":   timeout,
	}
	h.Logger.Debug().WithFields(fields).Logf("registered health subsystem")
	if timeout < TickerTime {
		h.Logger.Error().WithFields(fields).Logf("health timeout is shorter than the ticker interval")
	}
}

// Watch registers a subsystem whose state comes from calling check every
// interval. The subsystem is ready while check returns nil.
func (h *Health) Watch(subsystem string, interval time.Duration, check func(ctx context.Context) error) {
	// allow a missed round before the subsystem is declared dead
	h.Register(subsystem, 2*interval+TickerTime)
	h.mut.Lock()
	defer h.mut.Unlock()
	h.probes[subsystem] = &probe{check: check, interval: interval, next: h.Clock.Now()}
}

// Unregister stops tracking a subsystem. It can never be ready again, and
// later reports from it are ignored.
func (h *Health) Unregister(subsystem string) {
	h.mut.Lock()
	defer h.mut.Unlock()
	delete(h.timeouts, subsystem)
	delete(h.remaining, subsystem)
	delete(h.alive, subsystem)
	delete(h.probes, subsystem)
	h.ready[subsystem] = false
}

// Ready records a report from a subsystem, which also counts as a sign of
// life.
func (h *Health) Ready(subsystem string, ready bool) {
	h.mut.Lock()
	defer h.mut.Unlock()
	timeout, ok := h.timeouts[subsystem]
	if !ok {
		if _, known := h.ready[subsystem]; !known {
			h.Logger.Error().WithString("subsystem", subsystem).Logf("Ready called for unregistered subsystem")
		}
		return
	}
	if h.ready[subsystem] != ready {
		h.Logger.Info().WithFields(map[string]any{
			"subsystem": subsystem,
			"ready":     ready,
		}).Logf("subsystem changed readiness")
	}
	h.ready[subsystem] = ready
	h.remaining[subsystem] = timeout
	if !h.alive[subsystem] {
		h.alive[subsystem] = true
		h.Logger.Info().WithString("subsystem", subsystem).Logf("subsystem alive")
	}
	h.Metrics.Gauge("is_ready", h.checkReady())
	h.Metrics.Gauge("is_alive", h.checkAlive())
}

func (h *Health) IsAlive() bool {
	h.mut.Lock()
	defer h.mut.Unlock()
	return h.checkAlive()
}

// checkAlive needs the write lock.
func (h *Health) checkAlive() bool {
	for subsystem, left := range h.remaining {
		if left == 0 {
			if h.alive[subsystem] {
				h.Logger.Error().WithString("subsystem", subsystem).Logf("subsystem missed its health deadline")
				h.alive[subsystem] = false
			}
			return false
		}
	}
	return true
}

func (h *Health) IsReady() bool {
	h.mut.RLock()
	defer h.mut.RUnlock()
	return h.checkReady()
}

func (h *Health) checkReady() bool {
	if len(h.ready) == 0 {
		return false
	}
	for _, left := range h.remaining {
		if left <= 0 {
			return false
		}
	}
	for subsystem, r := range h.ready {
		if !r {
			h.Logger.Debug().WithString("subsystem", subsystem).Logf("subsystem not ready")
			return false
		}
	}
	return true
}
