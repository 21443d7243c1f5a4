// Package route serves the HTTP and gRPC receivers.
package route

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	// grpc/gzip compressor, auto registers on import
	_ "google.golang.org/grpc/encoding/gzip"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"

	"github.com/honeycombio/intake/collect"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/internal/health"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/storage"
)

const (
	// numZstdDecoders bounds how many zstd bodies are inflated at once
	numZstdDecoders = 4

	healthTimeout = 5 * time.Second
)

type Router struct {
	Config    config.Config      `inject:""`
	Logger    logger.Logger      `inject:""`
	Metrics   metrics.Metrics    `inject:"metrics"`
	Collector *collect.Collector `inject:""`
	Storage   storage.Component  `inject:"storage"`
	Health    health.Reporter    `inject:""`
	Recorder  health.Recorder    `inject:""`
	Version   string             `inject:"version"`

	httpCollector *collect.Collector
	grpcCollector *collect.Collector

	zstdDecoders chan *zstd.Decoder

	server     *http.Server
	grpcServer *grpc.Server
	addr       net.Addr
	doneWG     sync.WaitGroup
	done       chan struct{}
}

// Start prepares the handlers. LnS starts listening.
func (r *Router) Start() error {
	var err error
	r.zstdDecoders, err = makeDecoders(numZstdDecoders)
	if err != nil {
		return fmt.Errorf("couldn't start zstd decoders: %w", err)
	}
	r.httpCollector = r.Collector.ForTransport("http")
	r.grpcCollector = r.Collector.ForTransport("grpc")
	r.done = make(chan struct{})
	return nil
}

// handler builds the HTTP routes.
func (r *Router) handler() http.Handler {
	muxxer := mux.NewRouter()

	muxxer.Use(r.setResponseHeaders)
	muxxer.Use(r.requestLogger)
	muxxer.Use(r.panicCatcher)

	muxxer.HandleFunc("/alive", r.alive).Methods("GET").Name("local health")
	muxxer.HandleFunc("/ready", r.ready).Methods("GET").Name("readiness")
	muxxer.HandleFunc("/version", r.version).Methods("GET").Name("report version info")

	muxxer.HandleFunc("/api/v2/spans", r.postSpans).Methods("POST").Name("zipkin spans")
	muxxer.HandleFunc("/v1/traces", r.postOTLP).Methods("POST").Name("otlp")
	muxxer.HandleFunc("/api/v2/trace/{traceID}", r.getTrace).Methods("GET").Name("get trace")

	if h, ok := r.Metrics.(metrics.Handler); ok {
		if mh := h.Handler(); mh != nil {
			muxxer.Handle("/metrics", mh).Methods("GET").Name("metrics")
		}
	}
	return muxxer
}

// LnS listens on the HTTP address and, if configured, the gRPC address. It
// returns once both listeners are bound.
func (r *Router) LnS() error {
	general := r.Config.GetGeneralConfig()

	l, err := net.Listen("tcp", general.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", general.ListenAddr, err)
	}
	r.Logger.Info().Logf("Listening on %s", l.Addr())
	r.addr = l.Addr()
	r.server = &http.Server{
		Handler:     r.handler(),
		IdleTimeout: time.Duration(general.HTTPIdleTimeout),
	}

	if general.GRPCListenAddr != "" {
		gl, err := net.Listen("tcp", general.GRPCListenAddr)
		if err != nil {
			l.Close()
			return fmt.Errorf("failed to listen on grpc addr %s: %w", general.GRPCListenAddr, err)
		}
		r.Logger.Info().Logf("gRPC listening on %s", gl.Addr())
		r.grpcServer = r.newGRPCServer()
		r.serve("grpc", func() error { return r.grpcServer.Serve(gl) })
	}

	r.serve("http", func() error {
		if err := r.server.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return nil
}

// Addr is the bound HTTP address, or nil before LnS.
func (r *Router) Addr() net.Addr {
	return r.addr
}

// serve runs a listener and keeps its health subsystem reporting while it
// is up.
func (r *Router) serve(name string, fn func() error) {
	stopped := make(chan struct{})
	r.doneWG.Add(2)
	go func() {
		defer r.doneWG.Done()
		defer close(stopped)
		if err := fn(); err != nil {
			r.Logger.Error().WithString("listener", name).Logf("failed to serve: %s", err)
		}
	}()
	go func() {
		defer r.doneWG.Done()
		done := make(chan struct{})
		go func() {
			defer close(done)
			select {
			case <-stopped:
			case <-r.done:
			}
		}()
		health.Heartbeat(r.Recorder, "router_"+name, healthTimeout, func() bool { return true }, done)
	}()
}

func (r *Router) newGRPCServer() *grpc.Server {
	general := r.Config.GetGeneralConfig()
	maxSize := int(general.MaxRequestSize)
	serverOpts := []grpc.ServerOption{
		grpc.MaxSendMsgSize(maxSize),
		grpc.MaxRecvMsgSize(maxSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: time.Duration(general.HTTPIdleTimeout),
		}),
	}
	s := grpc.NewServer(serverOpts...)
	collectortrace.RegisterTraceServiceServer(s, NewTraceServer(r))
	grpc_health_v1.RegisterHealthServer(s, &healthServer{router: r})
	return s
}

func (r *Router) Stop() error {
	if r.done != nil {
		close(r.done)
	}
	if r.server != nil {
		timeout := time.Duration(r.Config.GetGeneralConfig().ShutdownTimeout)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := r.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	if r.grpcServer != nil {
		r.grpcServer.GracefulStop()
	}
	r.doneWG.Wait()
	return nil
}

func (r *Router) alive(w http.ResponseWriter, req *http.Request) {
	if r.Health != nil && !r.Health.IsAlive() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"source":"intake","alive":"no"}`))
		return
	}
	w.Write([]byte(`{"source":"intake","alive":"yes"}`))
}

func (r *Router) ready(w http.ResponseWriter, req *http.Request) {
	if r.Health != nil && !r.Health.IsReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"source":"intake","ready":"no"}`))
		return
	}
	w.Write([]byte(`{"source":"intake","ready":"yes"}`))
}

func (r *Router) version(w http.ResponseWriter, req *http.Request) {
	w.Write([]byte(fmt.Sprintf(`{"source":"intake","version":"%s"}`, r.Version)))
}

func makeDecoders(num int) (chan *zstd.Decoder, error) {
	zstdDecoders := make(chan *zstd.Decoder, num)
	for i := 0; i < num; i++ {
		zReader, err := zstd.NewReader(
			nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(true),
			zstd.WithDecoderMaxMemory(64*1024*1024),
		)
		if err != nil {
			return nil, err
		}
		zstdDecoders <- zReader
	}
	return zstdDecoders, nil
}
