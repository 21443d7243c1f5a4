package route

import (
	"context"
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/honeycombio/intake/call"
	"github.com/honeycombio/intake/codec"
	"github.com/honeycombio/intake/collect"
	"github.com/honeycombio/intake/storage"
	"github.com/honeycombio/intake/throttle"
)

type handlerError struct {
	// err is the error that we're throwing
	err error
	// msg is the human-readable context with which we're throwing the error
	msg string
	// status is the HTTP status code we should return
	status int
	// detailed is whether the err itself should be included in the msg response
	detailed bool
}

var (
	ErrBodyRead         = handlerError{nil, "failed to read request body", http.StatusBadRequest, true}
	ErrEmptyBody        = handlerError{nil, "empty POST body", http.StatusBadRequest, false}
	ErrRequestTooLarge  = handlerError{nil, "request body too large", http.StatusRequestEntityTooLarge, false}
	ErrDecode           = handlerError{nil, "cannot decode spans", http.StatusBadRequest, true}
	ErrOverCapacity     = handlerError{nil, "storage is over capacity, retry later", http.StatusTooManyRequests, false}
	ErrProcessing       = handlerError{nil, "failed to process spans", http.StatusInternalServerError, false}
	ErrStorage          = handlerError{nil, "failed to store spans", http.StatusInternalServerError, false}
	ErrUnavailable      = handlerError{nil, "request canceled before spans were stored", http.StatusServiceUnavailable, false}
	ErrInvalidTraceID   = handlerError{nil, "invalid trace ID", http.StatusBadRequest, true}
	ErrTraceNotFound    = handlerError{nil, "trace not found", http.StatusNotFound, false}
	ErrLookupNotEnabled = handlerError{nil, "storage does not support trace lookup", http.StatusNotFound, false}
	ErrEncode           = handlerError{nil, "failed to encode response", http.StatusInternalServerError, false}
	ErrCaughtPanic      = handlerError{nil, "caught panic", http.StatusInternalServerError, false}
)

// errorForAccept maps the outcome of an accept call to the response the
// client should see.
func errorForAccept(err error) handlerError {
	var decodeErr *codec.DecodeError
	var procErr *collect.ProcessorError
	switch {
	case errors.As(err, &decodeErr), errors.Is(err, codec.ErrUnknownFormat):
		return ErrDecode
	case errors.Is(err, throttle.ErrOverCapacity):
		return ErrOverCapacity
	case errors.As(err, &procErr):
		return ErrProcessing
	case errors.Is(err, call.ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrUnavailable
	case errors.Is(err, storage.ErrTraceNotFound):
		return ErrTraceNotFound
	}
	return ErrStorage
}

func (r *Router) handlerReturnWithError(w http.ResponseWriter, he handlerError, err error) {
	if err != nil {
		he.err = err
	}
	errmsg := he.msg
	if he.detailed && he.err != nil {
		errmsg = he.msg + ": " + he.err.Error()
	}

	entry := r.Logger.Debug()
	if he.status >= 500 {
		entry = r.Logger.Error()
	}
	if he.err != nil {
		entry = entry.WithField("error", he.err.Error())
	}
	entry.WithField("status", he.status).Logf("returning error: %s", he.msg)

	if he.status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(he.status)
	body, jerr := jsoniter.Marshal(map[string]string{"error": errmsg})
	if jerr != nil {
		body = []byte(`{"error":"` + he.msg + `"}`)
	}
	w.Write(body)
}
