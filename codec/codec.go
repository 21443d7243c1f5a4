// Package codec turns encoded span lists into spans and back.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/honeycombio/intake/types"
)

type Encoding string

const (
	JSONV2Encoding Encoding = "JSON_V2"
	Proto3Encoding Encoding = "PROTO3"
	OTLPEncoding   Encoding = "OTLP"
	// OTLPJSONEncoding is the protobuf JSON mapping of OTLP.
	OTLPJSONEncoding Encoding = "OTLP_JSON"
)

// ErrUnknownFormat is returned when an encoding name or a payload's format is
// not one this package can decode.
var ErrUnknownFormat = errors.New("unknown span format")

type Decoder interface {
	Encoding() Encoding
	// DecodeList parses a complete message. Any failure is a *DecodeError.
	DecodeList(data []byte) ([]*types.Span, error)
}

type Encoder interface {
	Encoding() Encoding
	EncodeList(spans []*types.Span) ([]byte, error)
}

// DecodeError means the bytes handed to a Decoder could not be parsed. It is
// never worth retrying the same bytes.
type DecodeError struct {
	Encoding Encoding
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed %s message: %v", e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var (
	JSONV2 = jsonV2Codec{}
	Proto3 = proto3Codec{}
	OTLP   = otlpDecoder{}

	OTLPJSON = otlpJSONDecoder{}
)

// ForEncoding looks a decoder up by name, ignoring case. A few common aliases
// are accepted.
func ForEncoding(name string) (Decoder, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case string(JSONV2Encoding), "JSON", "JSONV2":
		return JSONV2, nil
	case string(Proto3Encoding), "PROTOBUF", "PROTO":
		return Proto3, nil
	case string(OTLPEncoding):
		return OTLP, nil
	case string(OTLPJSONEncoding):
		return OTLPJSON, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Detect picks a decoder from the first byte of a zipkin message: a JSON list
// starts with '[' and a ListOfSpans protobuf starts with the tag of field 1.
func Detect(data []byte) (Decoder, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Encoding: "unknown", Err: errors.New("empty message")}
	}
	switch data[0] {
	case '[':
		return JSONV2, nil
	case 0x0a:
		return Proto3, nil
	}
	return nil, fmt.Errorf("%w: first byte 0x%02x", ErrUnknownFormat, data[0])
}

// validate rejects spans that cannot be stored or sampled.
func validate(enc Encoding, spans []*types.Span) error {
	for i, s := range spans {
		if s == nil {
			return &DecodeError{Encoding: enc, Err: fmt.Errorf("span %d is null", i)}
		}
		if s.TraceID.Empty() {
			return &DecodeError{Encoding: enc, Err: fmt.Errorf("span %d has no trace id", i)}
		}
		if s.ID == 0 {
			return &DecodeError{Encoding: enc, Err: fmt.Errorf("span %d has no span id", i)}
		}
	}
	return nil
}
