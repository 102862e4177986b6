// Package acq defines the data model shared by the acquisition stack: the
// multi-dimensional Sequence (the experiment plan), the FrameEvent locating a
// single exposure within it, the image Plane itself, and the summary/frame
// metadata records that travel with the events.
package acq

import (
	"fmt"

	"github.com/google/uuid"
)

// Axis names a dimension of a Sequence. The single-letter names follow the
// convention used by the acquisition engine: p (position), t (time),
// c (channel), z (focus), plus y/x for the in-plane pixel dimensions of a
// materialized store.
type Axis string

const (
	AxisPosition Axis = "p"
	AxisTime     Axis = "t"
	AxisChannel  Axis = "c"
	AxisZ        Axis = "z"
	AxisY        Axis = "y"
	AxisX        Axis = "x"
)

// AxisSize declares one axis of a Sequence. Size 0 means "to be determined":
// the axis length is only known once frames stop arriving (e.g. run-until-
// aborted time series).
type AxisSize struct {
	Axis Axis `json:"axis"`
	Size int  `json:"size"`
}

// Sequence is one declared multi-dimensional acquisition run. It is immutable
// once the acquisition starts; the runner and handlers only ever read it.
type Sequence struct {
	UID uuid.UUID

	// Axes in declared order, outermost first. Frames are produced in
	// row-major order over these axes.
	Axes []AxisSize

	// Channels optionally names the channel axis entries (e.g. DAPI, FITC).
	Channels []string

	// Metadata carries free-form annotations (save name, sample id, ...).
	Metadata map[string]string
}

// NewSequence builds a sequence with a fresh UID over the given axes.
func NewSequence(axes ...AxisSize) *Sequence {
	return &Sequence{UID: uuid.New(), Axes: axes}
}

// Sizes returns the axis -> declared size mapping.
func (s *Sequence) Sizes() map[Axis]int {
	out := make(map[Axis]int, len(s.Axes))
	for _, a := range s.Axes {
		out[a.Axis] = a.Size
	}
	return out
}

// AxisOrder returns the declared axis names, outermost first.
func (s *Sequence) AxisOrder() []Axis {
	out := make([]Axis, len(s.Axes))
	for i, a := range s.Axes {
		out[i] = a.Axis
	}
	return out
}

// SizeOf returns the declared size of one axis, or 0 if the axis is absent
// or to-be-determined.
func (s *Sequence) SizeOf(axis Axis) int {
	for _, a := range s.Axes {
		if a.Axis == axis {
			return a.Size
		}
	}
	return 0
}

// NumEvents returns the number of frame events the sequence will produce, or
// an error if any axis size is still to-be-determined.
func (s *Sequence) NumEvents() (int, error) {
	n := 1
	for _, a := range s.Axes {
		if a.Size <= 0 {
			return 0, fmt.Errorf("axis %q has undetermined size", a.Axis)
		}
		n *= a.Size
	}
	return n, nil
}

// Events enumerates the frame events of a fully-declared sequence in
// row-major order over the declared axes (first axis outermost). Sequences
// with a to-be-determined axis cannot be enumerated up front and return an
// error.
func (s *Sequence) Events() ([]FrameEvent, error) {
	n, err := s.NumEvents()
	if err != nil {
		return nil, err
	}
	events := make([]FrameEvent, 0, n)
	idx := make([]int, len(s.Axes))
	for i := 0; i < n; i++ {
		index := make(map[Axis]int, len(s.Axes))
		for j, a := range s.Axes {
			index[a.Axis] = idx[j]
		}
		ev := FrameEvent{Sequence: s, Index: index}
		if c, ok := index[AxisChannel]; ok && c < len(s.Channels) {
			ev.Channel = s.Channels[c]
		}
		events = append(events, ev)

		// increment the innermost axis first
		for j := len(idx) - 1; j >= 0; j-- {
			idx[j]++
			if idx[j] < s.Axes[j].Size {
				break
			}
			idx[j] = 0
		}
	}
	return events, nil
}

// FrameEvent locates one physical exposure within its Sequence. Each event is
// produced (and its frame acquired) exactly once.
type FrameEvent struct {
	Sequence *Sequence

	// Index maps axis name -> integer coordinate within the sequence.
	Index map[Axis]int

	// Channel is the resolved channel name, when the sequence names them.
	Channel string

	// ExposureMs overrides the camera exposure for this event when > 0.
	ExposureMs float64
}
