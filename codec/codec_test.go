package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/openzipkin/zipkin-go/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	common "go.opentelemetry.io/proto/otlp/common/v1"
	resource "go.opentelemetry.io/proto/otlp/resource/v1"
	trace "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/honeycombio/intake/types"
)

const twoSpans = `[
  {
    "traceId": "86154a4ba6e91385",
    "id": "4d1e00c0db9010db",
    "kind": "SERVER",
    "name": "get /api",
    "timestamp": 1472470996199000,
    "duration": 207000,
    "localEndpoint": {"serviceName": "frontend", "ipv4": "127.0.0.1"},
    "tags": {"http.path": "/api"}
  },
  {
    "traceId": "86154a4ba6e91385",
    "parentId": "4d1e00c0db9010db",
    "id": "86154a4ba6e91386",
    "name": "select",
    "debug": true
  }
]`

func TestJSONV2Decode(t *testing.T) {
	spans, err := JSONV2.DecodeList([]byte(twoSpans))
	require.NoError(t, err)
	require.Len(t, spans, 2)

	first := spans[0]
	assert.Equal(t, model.TraceID{Low: 0x86154a4ba6e91385}, first.TraceID)
	assert.Equal(t, model.ID(0x4d1e00c0db9010db), first.ID)
	assert.Equal(t, model.Server, first.Kind)
	assert.Equal(t, "get /api", first.Name)
	assert.Equal(t, 207*time.Millisecond, first.Duration)
	assert.Equal(t, "frontend", first.LocalEndpoint.ServiceName)
	assert.Equal(t, "/api", first.Tags["http.path"])

	second := spans[1]
	require.NotNil(t, second.ParentID)
	assert.Equal(t, first.ID, *second.ParentID)
	assert.True(t, types.IsDebug(second))
}

func TestJSONV2RoundTrip(t *testing.T) {
	spans, err := JSONV2.DecodeList([]byte(twoSpans))
	require.NoError(t, err)

	encoded, err := JSONV2.EncodeList(spans)
	require.NoError(t, err)
	again, err := JSONV2.DecodeList(encoded)
	require.NoError(t, err)
	assert.Equal(t, spans, again)

	one, err := JSONV2.EncodeSpan(spans[0])
	require.NoError(t, err)
	back, err := JSONV2.DecodeSpan(one)
	require.NoError(t, err)
	assert.Equal(t, spans[0], back)
}

func TestJSONV2EmptyList(t *testing.T) {
	spans, err := JSONV2.DecodeList([]byte("[]"))
	require.NoError(t, err)
	assert.Empty(t, spans)

	encoded, err := JSONV2.EncodeList(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(encoded))
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		decoder Decoder
		data    string
	}{
		{"json garbage", JSONV2, "not json at all"},
		{"json empty", JSONV2, ""},
		{"json object not list", JSONV2, `{"traceId":"1","id":"2"}`},
		{"json missing trace id", JSONV2, `[{"id":"4d1e00c0db9010db","name":"x"}]`},
		{"json null span", JSONV2, `[null]`},
		{"proto garbage", Proto3, "\x0a\xff\xff\xff"},
		{"proto empty", Proto3, ""},
		{"otlp garbage", OTLP, "\xff\xff\xff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans, err := tt.decoder.DecodeList([]byte(tt.data))
			assert.Nil(t, spans)
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.decoder.Encoding(), de.Encoding)
		})
	}
}

func TestProto3RoundTrip(t *testing.T) {
	parent := model.ID(1)
	spans := []*types.Span{
		{
			SpanContext: model.SpanContext{TraceID: model.TraceID{High: 7, Low: 8}, ID: 2, ParentID: &parent},
			Name:        "get",
			Kind:        model.Client,
			Timestamp:   time.UnixMicro(1472470996199000).UTC(),
			Duration:    3 * time.Millisecond,
			Tags:        map[string]string{"a": "b"},
		},
	}

	data, err := Proto3.EncodeList(spans)
	require.NoError(t, err)

	d, err := Detect(data)
	require.NoError(t, err)
	assert.Equal(t, Proto3Encoding, d.Encoding())

	decoded, err := d.DecodeList(data)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, spans[0].TraceID, decoded[0].TraceID)
	assert.Equal(t, spans[0].ID, decoded[0].ID)
	assert.Equal(t, parent, *decoded[0].ParentID)
	assert.Equal(t, "get", decoded[0].Name)
	assert.Equal(t, model.Client, decoded[0].Kind)
	assert.Equal(t, "b", decoded[0].Tags["a"])
}

func TestDetect(t *testing.T) {
	d, err := Detect([]byte(twoSpans))
	require.NoError(t, err)
	assert.Equal(t, JSONV2Encoding, d.Encoding())

	// thrift lists start with the element type
	_, err = Detect([]byte{0x0c, 0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Detect(nil)
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestForEncoding(t *testing.T) {
	tests := map[string]Encoding{
		"JSON_V2":  JSONV2Encoding,
		"json":     JSONV2Encoding,
		"proto3":   Proto3Encoding,
		"PROTOBUF": Proto3Encoding,
		" otlp ":   OTLPEncoding,
	}
	for name, want := range tests {
		d, err := ForEncoding(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, d.Encoding(), name)
	}

	_, err := ForEncoding("THRIFT")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func stringAttr(k, v string) *common.KeyValue {
	return &common.KeyValue{Key: k, Value: &common.AnyValue{Value: &common.AnyValue_StringValue{StringValue: v}}}
}

func TestOTLPDecode(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	req := &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*trace.ResourceSpans{{
			Resource: &resource.Resource{Attributes: []*common.KeyValue{
				stringAttr("service.name", "checkout"),
				stringAttr("deployment.environment", "prod"),
			}},
			ScopeSpans: []*trace.ScopeSpans{{
				Spans: []*trace.Span{{
					TraceId:           []byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 2},
					SpanId:            []byte{0, 0, 0, 0, 0, 0, 0, 3},
					ParentSpanId:      []byte{0, 0, 0, 0, 0, 0, 0, 4},
					Name:              "charge",
					Kind:              trace.Span_SPAN_KIND_CLIENT,
					StartTimeUnixNano: uint64(start.UnixNano()),
					EndTimeUnixNano:   uint64(start.Add(5 * time.Millisecond).UnixNano()),
					Attributes: []*common.KeyValue{
						stringAttr("card", "4121-2319-1483-3421"),
						{Key: "retries", Value: &common.AnyValue{Value: &common.AnyValue_IntValue{IntValue: 2}}},
						{Key: "cached", Value: &common.AnyValue{Value: &common.AnyValue_BoolValue{BoolValue: false}}},
					},
					Events: []*trace.Span_Event{{TimeUnixNano: uint64(start.UnixNano()), Name: "sent"}},
					Status: &trace.Status{Code: trace.Status_STATUS_CODE_ERROR, Message: "declined"},
				}},
			}},
		}},
	}
	data, err := proto.Marshal(req)
	require.NoError(t, err)

	spans, err := OTLP.DecodeList(data)
	require.NoError(t, err)
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, model.TraceID{High: 1, Low: 2}, s.TraceID)
	assert.Equal(t, model.ID(3), s.ID)
	assert.Equal(t, model.ID(4), *s.ParentID)
	assert.Equal(t, model.Client, s.Kind)
	assert.Equal(t, start, s.Timestamp)
	assert.Equal(t, 5*time.Millisecond, s.Duration)
	assert.Equal(t, "checkout", s.LocalEndpoint.ServiceName)
	assert.Equal(t, map[string]string{
		"deployment.environment": "prod",
		"card":                   "4121-2319-1483-3421",
		"retries":                "2",
		"cached":                 "false",
		"error":                  "declined",
	}, s.Tags)
	require.Len(t, s.Annotations, 1)
	assert.Equal(t, "sent", s.Annotations[0].Value)
}

func TestOTLPRejectsBadIDs(t *testing.T) {
	req := &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*trace.ResourceSpans{{
			ScopeSpans: []*trace.ScopeSpans{{
				Spans: []*trace.Span{{TraceId: []byte{1, 2, 3}, SpanId: []byte{0, 0, 0, 0, 0, 0, 0, 1}}},
			}},
		}},
	}
	_, err := FromOTLP(req)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, OTLPEncoding, de.Encoding)
}

func TestOTLPJSONDecode(t *testing.T) {
	req := &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*trace.ResourceSpans{{
			Resource: &resource.Resource{Attributes: []*common.KeyValue{stringAttr("service.name", "web")}},
			ScopeSpans: []*trace.ScopeSpans{{
				Spans: []*trace.Span{{
					TraceId: []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 9},
					SpanId:  []byte{0, 0, 0, 0, 0, 0, 0, 8},
					Name:    "click",
				}},
			}},
		}},
	}
	data, err := protojson.Marshal(req)
	require.NoError(t, err)

	spans, err := OTLPJSON.DecodeList(data)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, model.TraceID{Low: 9}, spans[0].TraceID)
	assert.Equal(t, "web", spans[0].LocalEndpoint.ServiceName)

	_, err = OTLPJSON.DecodeList([]byte(`{"resourceSpans": 7}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, OTLPJSONEncoding, de.Encoding)
}
