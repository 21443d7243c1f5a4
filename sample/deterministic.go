package sample

import (
	"github.com/honeycombio/intake/types"
)

// DeterministicSampler keeps a fixed fraction of traces. The decision is a
// pure function of the trace id, so it needs no coordination between
// processes.
type DeterministicSampler struct {
	rate     float64
	boundary int64
}

func (d *DeterministicSampler) Keep(traceID types.TraceID) bool {
	return keepLow(traceID.Low, d.boundary)
}

func (d *DeterministicSampler) Rate() float64 {
	return d.rate
}

// Boundary is the value derived trace ids are compared against.
func (d *DeterministicSampler) Boundary() int64 {
	return d.boundary
}
