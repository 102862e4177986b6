// Package handlers contains the frame handlers: objects that accumulate the
// frames of one acquisition sequence into a queryable store. Three backends
// are provided: an in-memory 5D store (the coordinator's default), a SQLite
// store (durable, with schema migrations), and a FITS file writer.
package handlers

import "github.com/microscope-data/scope.report/internal/acq"

// Handler is the frame handler contract. Any object exposing these lifecycle
// methods is acceptable to the acquisition runner and the coordinator:
//
//   - SequenceStarted is called once, before any frame, with the declared
//     sequence and its summary metadata. Backends reset per-sequence state
//     here; the store is not required to be valid (or even shaped) until the
//     first frame lands.
//   - FrameReady is called exactly once per physical exposure. Backends may
//     commit the frame asynchronously relative to this call returning.
//   - SequenceFinished is called once after the last frame, including when
//     the run is cancelled early.
type Handler interface {
	SequenceStarted(seq *acq.Sequence, meta acq.SummaryMeta)
	FrameReady(plane acq.Plane, ev acq.FrameEvent, meta acq.FrameMeta)
	SequenceFinished(seq *acq.Sequence)
}

// StoreProvider is implemented by handlers whose accumulated frames can be
// read back as an array-like data source. The store is only meaningful once
// at least one frame has been handled.
type StoreProvider interface {
	Store() acq.DataSource
}
