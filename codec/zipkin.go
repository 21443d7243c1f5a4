package codec

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
	"github.com/openzipkin/zipkin-go/proto/zipkin_proto3"

	"github.com/honeycombio/intake/types"
)

// the span model carries its own MarshalJSON/UnmarshalJSON, which the
// compatible config honours
var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonV2Codec struct{}

func (jsonV2Codec) Encoding() Encoding { return JSONV2Encoding }

func (jsonV2Codec) DecodeList(data []byte) ([]*types.Span, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Encoding: JSONV2Encoding, Err: errors.New("empty message")}
	}
	var spans []*types.Span
	if err := json.Unmarshal(data, &spans); err != nil {
		return nil, &DecodeError{Encoding: JSONV2Encoding, Err: err}
	}
	if err := validate(JSONV2Encoding, spans); err != nil {
		return nil, err
	}
	return spans, nil
}

func (jsonV2Codec) EncodeList(spans []*types.Span) ([]byte, error) {
	if spans == nil {
		spans = []*types.Span{}
	}
	return json.Marshal(spans)
}

// EncodeSpan encodes a single span as a JSON object.
func (jsonV2Codec) EncodeSpan(span *types.Span) ([]byte, error) {
	return json.Marshal(span)
}

// DecodeSpan decodes a single JSON object.
func (jsonV2Codec) DecodeSpan(data []byte) (*types.Span, error) {
	span := &types.Span{}
	if err := json.Unmarshal(data, span); err != nil {
		return nil, &DecodeError{Encoding: JSONV2Encoding, Err: err}
	}
	return span, nil
}

type proto3Codec struct{}

func (proto3Codec) Encoding() Encoding { return Proto3Encoding }

func (proto3Codec) DecodeList(data []byte) ([]*types.Span, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Encoding: Proto3Encoding, Err: errors.New("empty message")}
	}
	spans, err := zipkin_proto3.ParseSpans(data, false)
	if err != nil {
		return nil, &DecodeError{Encoding: Proto3Encoding, Err: err}
	}
	if err := validate(Proto3Encoding, spans); err != nil {
		return nil, err
	}
	return spans, nil
}

func (proto3Codec) EncodeList(spans []*types.Span) ([]byte, error) {
	return zipkin_proto3.SpanSerializer{}.Serialize(spans)
}
