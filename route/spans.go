package route

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/codec"
	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/storage"
	"github.com/honeycombio/intake/types"
)

const defaultMaxRequestSize = 5 * config.Mi

// postSpans takes a zipkin v2 span list, as JSON or protobuf.
func (r *Router) postSpans(w http.ResponseWriter, req *http.Request) {
	data, ok := r.readBody(w, req)
	if !ok {
		return
	}

	contentType := req.Header.Get("Content-Type")
	err := wait(req.Context(), func(cb call.Callback[struct{}]) {
		switch {
		case strings.Contains(contentType, "protobuf"):
			r.httpCollector.AcceptEncoded(req.Context(), data, codec.Proto3, cb)
		case strings.Contains(contentType, "json"):
			r.httpCollector.AcceptEncoded(req.Context(), data, codec.JSONV2, cb)
		default:
			r.httpCollector.AcceptSpans(req.Context(), data, cb)
		}
	})
	if err != nil {
		r.handlerReturnWithError(w, errorForAccept(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// postOTLP takes an OTLP/HTTP trace export, as protobuf or JSON.
func (r *Router) postOTLP(w http.ResponseWriter, req *http.Request) {
	data, ok := r.readBody(w, req)
	if !ok {
		return
	}

	var dec codec.Decoder = codec.OTLP
	if strings.Contains(req.Header.Get("Content-Type"), "json") {
		dec = codec.OTLPJSON
	}
	err := wait(req.Context(), func(cb call.Callback[struct{}]) {
		r.httpCollector.AcceptEncoded(req.Context(), data, dec, cb)
	})
	if err != nil {
		r.handlerReturnWithError(w, errorForAccept(err), err)
		return
	}

	resp, err := proto.Marshal(&collectortrace.ExportTraceServiceResponse{})
	if err != nil {
		r.handlerReturnWithError(w, ErrEncode, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}

func (r *Router) getTrace(w http.ResponseWriter, req *http.Request) {
	traceID, err := types.ParseTraceID(mux.Vars(req)["traceID"])
	if err != nil {
		r.handlerReturnWithError(w, ErrInvalidTraceID, err)
		return
	}
	getter, ok := r.Storage.(storage.TraceGetter)
	if !ok {
		r.handlerReturnWithError(w, ErrLookupNotEnabled, nil)
		return
	}

	spans, err := getter.GetTrace(req.Context(), traceID)
	if err != nil {
		r.handlerReturnWithError(w, errorForAccept(err), err)
		return
	}
	data, err := codec.JSONV2.EncodeList(spans)
	if err != nil {
		r.handlerReturnWithError(w, ErrEncode, err)
		return
	}
	w.Write(data)
}

// wait runs an accept call and blocks until its callback fires or the
// request goes away.
func wait(ctx context.Context, accept func(cb call.Callback[struct{}])) error {
	w := call.NewWait[struct{}]()
	accept(w)
	_, err := w.Result(ctx)
	return err
}

// readBody reads and inflates the request body, enforcing MaxRequestSize on
// both the wire size and the inflated size. If it returns false an error
// response has already been written.
func (r *Router) readBody(w http.ResponseWriter, req *http.Request) ([]byte, bool) {
	maxSize := int64(r.Config.GetGeneralConfig().MaxRequestSize)
	if maxSize <= 0 {
		maxSize = int64(defaultMaxRequestSize)
	}

	data, err := r.getMaybeCompressedBody(req, http.MaxBytesReader(w, req.Body, maxSize), maxSize)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			r.handlerReturnWithError(w, ErrRequestTooLarge, err)
		} else {
			r.handlerReturnWithError(w, ErrBodyRead, err)
		}
		return nil, false
	}
	if len(data) == 0 {
		r.handlerReturnWithError(w, ErrEmptyBody, nil)
		return nil, false
	}
	return data, true
}

func (r *Router) getMaybeCompressedBody(req *http.Request, body io.Reader, maxSize int64) ([]byte, error) {
	reader := body
	switch encoding := req.Header.Get("Content-Encoding"); encoding {
	case "gzip":
		gzipReader, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		defer gzipReader.Close()
		reader = gzipReader
	case "zstd":
		zReader := <-r.zstdDecoders
		defer func() {
			zReader.Reset(nil)
			r.zstdDecoders <- zReader
		}()
		if err := zReader.Reset(body); err != nil {
			return nil, err
		}
		reader = zReader
	case "", "identity":
	default:
		return nil, fmt.Errorf("unsupported Content-Encoding %q", encoding)
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize {
		return nil, &http.MaxBytesError{Limit: maxSize}
	}
	return data, nil
}
