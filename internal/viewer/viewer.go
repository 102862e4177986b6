// Package viewer contains the headless array-viewer model and the
// acquisition-viewer coordinator that binds sequences, frame handlers, and
// viewers together.
package viewer

import (
	"errors"

	"github.com/microscope-data/scope.report/internal/acq"
)

// ErrClosed is returned when updating a viewer that has been closed.
var ErrClosed = errors.New("viewer: closed")

// ErrDataAlreadySet is returned on a second SetData call; a viewer's data
// source is attached exactly once.
var ErrDataAlreadySet = errors.New("viewer: data source already attached")

// DisplayModel holds the navigable display state of a viewer: which index
// along each non-spatial axis is currently shown.
type DisplayModel struct {
	CurrentIndex map[acq.Axis]int
	// ChannelAxis hints which axis composites rather than slices.
	ChannelAxis acq.Axis
}

// Viewer presents a data source with a navigable current index. It is the
// process-side model of what the original system rendered as an array-viewer
// widget; rendering itself is out of scope here, navigation state is not.
type Viewer struct {
	name    string
	data    acq.DataSource
	display *DisplayModel
	closed  bool
}

// New returns a dataless viewer.
func New(name string) *Viewer {
	return &Viewer{
		name: name,
		display: &DisplayModel{
			CurrentIndex: make(map[acq.Axis]int),
			ChannelAxis:  acq.AxisChannel,
		},
	}
}

// Name returns the viewer's display name.
func (v *Viewer) Name() string { return v.name }

// Data returns the bound data source, or nil before the first-frame bind.
func (v *Viewer) Data() acq.DataSource { return v.data }

// SetData attaches the data source. This is a one-time transition.
func (v *Viewer) SetData(src acq.DataSource) error {
	if v.closed {
		return ErrClosed
	}
	if v.data != nil {
		return ErrDataAlreadySet
	}
	v.data = src
	return nil
}

// ReplaceData swaps the data source, resetting the current index. The live
// preview uses this when the camera geometry changes and its buffer is
// rebuilt; acquisition viewers never replace a bound source.
func (v *Viewer) ReplaceData(src acq.DataSource) error {
	if v.closed {
		return ErrClosed
	}
	v.data = src
	v.display.CurrentIndex = make(map[acq.Axis]int)
	return nil
}

// Display returns the display model.
func (v *Viewer) Display() *DisplayModel { return v.display }

// UpdateIndex merges {axis: value} pairs into the current index. Updating a
// closed viewer returns ErrClosed; callers on the deferred path discard it.
func (v *Viewer) UpdateIndex(index map[acq.Axis]int) error {
	if v.closed {
		return ErrClosed
	}
	for axis, val := range index {
		v.display.CurrentIndex[axis] = val
	}
	return nil
}

// Close marks the viewer dead. The owning container calls this when the
// viewer's window or tab goes away.
func (v *Viewer) Close() { v.closed = true }

// Closed reports whether Close was called.
func (v *Viewer) Closed() bool { return v.closed }
