package route

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/openzipkin/zipkin-go/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	common "go.opentelemetry.io/proto/otlp/common/v1"
	resource "go.opentelemetry.io/proto/otlp/resource/v1"
	trace "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/honeycombio/intake/codec"
	"github.com/honeycombio/intake/collect"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/internal/health"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
	"github.com/honeycombio/intake/storage"
	"github.com/honeycombio/intake/storage/inmem"
	"github.com/honeycombio/intake/throttle"
	"github.com/honeycombio/intake/types"
)

type testRouter struct {
	*Router
	store   *inmem.Storage
	metrics *metrics.InMemoryCollectorMetrics
	health  *health.MockHealthReporter
}

func newTestRouter(t *testing.T, opts collect.Options) testRouter {
	store := inmem.New(1000)
	m := metrics.NewInMemoryCollectorMetrics()
	if opts.Storage == nil {
		opts.Storage = store
	}
	opts.Metrics = m
	c, err := collect.New(opts)
	require.NoError(t, err)

	hr := &health.MockHealthReporter{}
	hr.SetAlive(true)
	hr.SetReady(true)
	r := &Router{
		Config: &config.MockConfig{GetGeneralConfigVal: config.GeneralConfig{
			MaxRequestSize:  1024 * 1024,
			ShutdownTimeout: config.Duration(time.Second),
		}},
		Logger:    &logger.NullLogger{},
		Metrics:   &metrics.NullMetrics{},
		Collector: c,
		Storage:   opts.Storage,
		Health:    hr,
		Version:   "1.2.3",
	}
	require.NoError(t, r.Start())
	return testRouter{Router: r, store: store, metrics: m, health: hr}
}

func (tr testRouter) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	tr.handler().ServeHTTP(rr, req)
	return rr
}

func testSpans(n int) []*types.Span {
	spans := make([]*types.Span, n)
	for i := range spans {
		spans[i] = &types.Span{
			SpanContext: model.SpanContext{
				TraceID: model.TraceID{Low: 0xabc},
				ID:      model.ID(i + 1),
			},
			Name:          "get /api",
			Timestamp:     time.Unix(1700000000, 0).UTC(),
			Duration:      time.Millisecond,
			LocalEndpoint: &model.Endpoint{ServiceName: "frontend"},
		}
	}
	return spans
}

func jsonBody(t *testing.T, n int) []byte {
	data, err := codec.JSONV2.EncodeList(testSpans(n))
	require.NoError(t, err)
	return data
}

func TestPostSpans(t *testing.T) {
	protoBody, err := codec.Proto3.EncodeList(testSpans(2))
	require.NoError(t, err)

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err = gw.Write(jsonBody(t, 2))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	zw, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zstdBody := zw.EncodeAll(jsonBody(t, 2), nil)

	tests := []struct {
		name    string
		body    []byte
		headers map[string]string
	}{
		{"json", jsonBody(t, 2), map[string]string{"Content-Type": "application/json"}},
		{"protobuf", protoBody, map[string]string{"Content-Type": "application/x-protobuf"}},
		{"detected", jsonBody(t, 2), nil},
		{"gzip", gz.Bytes(), map[string]string{"Content-Type": "application/json", "Content-Encoding": "gzip"}},
		{"zstd", zstdBody, map[string]string{"Content-Type": "application/json", "Content-Encoding": "zstd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestRouter(t, collect.Options{})
			rr := tr.do("POST", "/api/v2/spans", tt.body, tt.headers)
			assert.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
			assert.Equal(t, 2, tr.store.SpanCount())

			m := tr.metrics.Transport("http")
			assert.Equal(t, int64(1), m.Messages())
			assert.Equal(t, int64(2), m.Spans())
		})
	}
}

func TestPostSpansErrors(t *testing.T) {
	valid := jsonBody(t, 1)
	tests := []struct {
		name     string
		opts     collect.Options
		body     []byte
		headers  map[string]string
		status   int
		contains string
	}{
		{"garbage", collect.Options{}, []byte("[{nope"), map[string]string{"Content-Type": "application/json"}, http.StatusBadRequest, "cannot decode spans"},
		{"unknown format", collect.Options{}, []byte("hello"), nil, http.StatusBadRequest, "cannot decode spans"},
		{"empty", collect.Options{}, nil, nil, http.StatusBadRequest, "empty POST body"},
		{"bad gzip", collect.Options{}, []byte("not gzip"), map[string]string{"Content-Encoding": "gzip"}, http.StatusBadRequest, "failed to read request body"},
		{"bad encoding", collect.Options{}, []byte("[]"), map[string]string{"Content-Encoding": "br"}, http.StatusBadRequest, "unsupported Content-Encoding"},
		{"too large", collect.Options{}, bytes.Repeat([]byte(" "), 2*1024*1024), nil, http.StatusRequestEntityTooLarge, "too large"},
		{
			"over capacity",
			collect.Options{Throttle: throttle.New(throttle.NewFixedLimiter(0), nil)},
			valid, map[string]string{"Content-Type": "application/json"},
			http.StatusTooManyRequests, "over capacity",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestRouter(t, tt.opts)
			rr := tr.do("POST", "/api/v2/spans", tt.body, tt.headers)
			assert.Equal(t, tt.status, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.contains)
			assert.Equal(t, 0, tr.store.SpanCount())
			if tt.status == http.StatusTooManyRequests {
				assert.Equal(t, "1", rr.Header().Get("Retry-After"))
			}
		})
	}
}

func otlpRequest() *collectortrace.ExportTraceServiceRequest {
	return &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*trace.ResourceSpans{{
			Resource: &resource.Resource{Attributes: []*common.KeyValue{{
				Key:   "service.name",
				Value: &common.AnyValue{Value: &common.AnyValue_StringValue{StringValue: "checkout"}},
			}}},
			ScopeSpans: []*trace.ScopeSpans{{
				Spans: []*trace.Span{{
					TraceId:           []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 5},
					SpanId:            []byte{0, 0, 0, 0, 0, 0, 0, 6},
					Name:              "charge",
					StartTimeUnixNano: uint64(time.Unix(1700000000, 0).UnixNano()),
					EndTimeUnixNano:   uint64(time.Unix(1700000001, 0).UnixNano()),
				}},
			}},
		}},
	}
}

func TestPostOTLP(t *testing.T) {
	protoBody, err := proto.Marshal(otlpRequest())
	require.NoError(t, err)
	jsonBody, err := protojson.Marshal(otlpRequest())
	require.NoError(t, err)

	for name, tc := range map[string]struct {
		body        []byte
		contentType string
	}{
		"protobuf": {protoBody, "application/x-protobuf"},
		"json":     {jsonBody, "application/json"},
	} {
		t.Run(name, func(t *testing.T) {
			tr := newTestRouter(t, collect.Options{})
			rr := tr.do("POST", "/v1/traces", tc.body, map[string]string{"Content-Type": tc.contentType})
			assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			assert.Equal(t, "application/x-protobuf", rr.Header().Get("Content-Type"))

			spans, err := tr.store.GetTrace(context.Background(), model.TraceID{Low: 5})
			require.NoError(t, err)
			require.Len(t, spans, 1)
			assert.Equal(t, "checkout", spans[0].LocalEndpoint.ServiceName)
		})
	}
}

// lookupless hides inmem's GetTrace.
type lookupless struct {
	storage.Component
}

func TestGetTrace(t *testing.T) {
	tr := newTestRouter(t, collect.Options{})
	rr := tr.do("POST", "/api/v2/spans", jsonBody(t, 3), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = tr.do("GET", "/api/v2/trace/0000000000000abc", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	spans, err := codec.JSONV2.DecodeList(rr.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, spans, 3)

	rr = tr.do("GET", "/api/v2/trace/0000000000000abd", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = tr.do("GET", "/api/v2/trace/xyz", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	tr.Storage = lookupless{tr.store}
	rr = tr.do("GET", "/api/v2/trace/0000000000000abc", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "does not support trace lookup")
}

func TestHealthEndpoints(t *testing.T) {
	tr := newTestRouter(t, collect.Options{})

	rr := tr.do("GET", "/alive", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"source":"intake","alive":"yes"}`, rr.Body.String())
	rr = tr.do("GET", "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	tr.health.SetReady(false)
	rr = tr.do("GET", "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	rr = tr.do("GET", "/alive", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	tr.health.SetAlive(false)
	rr = tr.do("GET", "/alive", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = tr.do("GET", "/version", nil, nil)
	assert.JSONEq(t, `{"source":"intake","version":"1.2.3"}`, rr.Body.String())
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestPanicCatcher(t *testing.T) {
	tr := newTestRouter(t, collect.Options{})
	h := tr.panicCatcher(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("oh no")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "caught panic")
}

func newGRPCClient(t *testing.T, tr testRouter) *grpc.ClientConn {
	lis := bufconn.Listen(1024 * 1024)
	s := tr.newGRPCServer()
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCExport(t *testing.T) {
	tr := newTestRouter(t, collect.Options{})
	client := collectortrace.NewTraceServiceClient(newGRPCClient(t, tr))
	ctx := context.Background()

	_, err := client.Export(ctx, otlpRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, tr.store.SpanCount())

	m := tr.metrics.Transport("grpc")
	assert.Equal(t, int64(1), m.Messages())
	assert.Equal(t, int64(proto.Size(otlpRequest())), m.Bytes())
	assert.Equal(t, int64(1), m.Spans())

	bad := otlpRequest()
	bad.ResourceSpans[0].ScopeSpans[0].Spans[0].TraceId = []byte{1, 2, 3}
	_, err = client.Export(ctx, bad)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, int64(1), m.MessagesDropped())
}

func TestGRPCExportOverCapacity(t *testing.T) {
	tr := newTestRouter(t, collect.Options{Throttle: throttle.New(throttle.NewFixedLimiter(0), nil)})
	client := collectortrace.NewTraceServiceClient(newGRPCClient(t, tr))

	_, err := client.Export(context.Background(), otlpRequest())
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestGRPCHealth(t *testing.T) {
	tr := newTestRouter(t, collect.Options{})
	client := grpc_health_v1.NewHealthClient(newGRPCClient(t, tr))

	resp, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	tr.health.SetReady(false)
	resp, err = client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestGRPCErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{&codec.DecodeError{Encoding: codec.OTLPEncoding}, codes.InvalidArgument},
		{&collect.StorageError{Err: throttle.ErrOverCapacity}, codes.ResourceExhausted},
		{&collect.StorageError{Err: context.DeadlineExceeded}, codes.DeadlineExceeded},
		{context.Canceled, codes.Unavailable},
		{&collect.StorageError{Err: assert.AnError}, codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, status.Code(grpcError(tt.err)), tt.err.Error())
	}
}
