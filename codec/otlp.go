package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/openzipkin/zipkin-go/model"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	common "go.opentelemetry.io/proto/otlp/common/v1"
	trace "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/honeycombio/intake/types"
)

const serviceNameKey = "service.name"

// otlpDecoder reads a protobuf ExportTraceServiceRequest.
type otlpDecoder struct{}

func (otlpDecoder) Encoding() Encoding { return OTLPEncoding }

func (otlpDecoder) DecodeList(data []byte) ([]*types.Span, error) {
	req := &collectortrace.ExportTraceServiceRequest{}
	if err := proto.Unmarshal(data, req); err != nil {
		return nil, &DecodeError{Encoding: OTLPEncoding, Err: err}
	}
	return FromOTLP(req)
}

// otlpJSONDecoder reads the JSON mapping of an ExportTraceServiceRequest,
// as posted by browser exporters.
type otlpJSONDecoder struct{}

func (otlpJSONDecoder) Encoding() Encoding { return OTLPJSONEncoding }

func (otlpJSONDecoder) DecodeList(data []byte) ([]*types.Span, error) {
	req := &collectortrace.ExportTraceServiceRequest{}
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(data, req); err != nil {
		return nil, &DecodeError{Encoding: OTLPJSONEncoding, Err: err}
	}
	spans, err := FromOTLP(req)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			decodeErr.Encoding = OTLPJSONEncoding
		}
		return nil, err
	}
	return spans, nil
}

// FromOTLP converts an OTLP export request into zipkin spans. The resource's
// service.name becomes the local endpoint's service name and span events
// become annotations.
func FromOTLP(req *collectortrace.ExportTraceServiceRequest) ([]*types.Span, error) {
	var spans []*types.Span
	for _, rs := range req.GetResourceSpans() {
		var endpoint *model.Endpoint
		resourceTags := make(map[string]string)
		for _, kv := range rs.GetResource().GetAttributes() {
			if kv.GetKey() == serviceNameKey {
				endpoint = &model.Endpoint{ServiceName: kv.GetValue().GetStringValue()}
				continue
			}
			resourceTags[kv.GetKey()] = attributeString(kv.GetValue())
		}

		for _, ss := range rs.GetScopeSpans() {
			for _, s := range ss.GetSpans() {
				span, err := fromOTLPSpan(s, endpoint, resourceTags)
				if err != nil {
					return nil, &DecodeError{Encoding: OTLPEncoding, Err: err}
				}
				spans = append(spans, span)
			}
		}
	}
	return spans, nil
}

func fromOTLPSpan(s *trace.Span, endpoint *model.Endpoint, resourceTags map[string]string) (*types.Span, error) {
	traceID, err := traceIDFromBytes(s.GetTraceId())
	if err != nil {
		return nil, err
	}
	if len(s.GetSpanId()) != 8 {
		return nil, fmt.Errorf("span id must be 8 bytes, was %d", len(s.GetSpanId()))
	}

	span := &types.Span{
		SpanContext: model.SpanContext{
			TraceID: traceID,
			ID:      model.ID(binary.BigEndian.Uint64(s.GetSpanId())),
		},
		Name:          s.GetName(),
		Kind:          kindFromOTLP(s.GetKind()),
		LocalEndpoint: endpoint,
		Tags:          make(map[string]string, len(resourceTags)+len(s.GetAttributes())),
	}
	if p := s.GetParentSpanId(); len(p) == 8 {
		parent := model.ID(binary.BigEndian.Uint64(p))
		span.ParentID = &parent
	}
	if start := s.GetStartTimeUnixNano(); start > 0 {
		span.Timestamp = time.Unix(0, int64(start)).UTC()
		if end := s.GetEndTimeUnixNano(); end > start {
			span.Duration = time.Duration(end - start)
		}
	}

	for k, v := range resourceTags {
		span.Tags[k] = v
	}
	for _, kv := range s.GetAttributes() {
		span.Tags[kv.GetKey()] = attributeString(kv.GetValue())
	}
	if s.GetStatus().GetCode() == trace.Status_STATUS_CODE_ERROR {
		span.Tags["error"] = s.GetStatus().GetMessage()
	}

	for _, ev := range s.GetEvents() {
		span.Annotations = append(span.Annotations, model.Annotation{
			Timestamp: time.Unix(0, int64(ev.GetTimeUnixNano())).UTC(),
			Value:     ev.GetName(),
		})
	}
	return span, nil
}

func traceIDFromBytes(b []byte) (model.TraceID, error) {
	if len(b) != 16 {
		return model.TraceID{}, fmt.Errorf("trace id must be 16 bytes, was %d", len(b))
	}
	id := model.TraceID{
		High: binary.BigEndian.Uint64(b[:8]),
		Low:  binary.BigEndian.Uint64(b[8:]),
	}
	if id.Empty() {
		return id, errors.New("trace id is all zeroes")
	}
	return id, nil
}

func kindFromOTLP(k trace.Span_SpanKind) model.Kind {
	switch k {
	case trace.Span_SPAN_KIND_SERVER:
		return model.Server
	case trace.Span_SPAN_KIND_CLIENT:
		return model.Client
	case trace.Span_SPAN_KIND_PRODUCER:
		return model.Producer
	case trace.Span_SPAN_KIND_CONSUMER:
		return model.Consumer
	}
	return model.Undetermined
}

func attributeString(v *common.AnyValue) string {
	switch val := v.GetValue().(type) {
	case *common.AnyValue_StringValue:
		return val.StringValue
	case *common.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	case *common.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *common.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'f', -1, 64)
	case *common.AnyValue_ArrayValue:
		b, _ := protojson.Marshal(val.ArrayValue)
		return string(b)
	case *common.AnyValue_KvlistValue:
		b, _ := protojson.Marshal(val.KvlistValue)
		return string(b)
	case *common.AnyValue_BytesValue:
		return fmt.Sprintf("%x", val.BytesValue)
	}
	return ""
}
