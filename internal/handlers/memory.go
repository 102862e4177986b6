package handlers

import (
	"fmt"
	"strings"

	"github.com/microscope-data/scope.report/internal/acq"
)

// Memory accumulates frames in process memory. It is the backend the
// coordinator constructs when no external handler claimed a sequence.
//
// The store's shape is materialized lazily: before the first frame there is
// no pixel geometry to size against, which is exactly why viewers bind on the
// first frame rather than at sequenceStarted. Axes declared with size 0 grow
// as frames arrive.
//
// Memory is not safe for concurrent use; in the application every call runs
// on the dispatch loop.
type Memory struct {
	seq    *acq.Sequence
	meta   acq.SummaryMeta
	planes map[string]acq.Plane
	// observed holds max-seen-index+1 per axis, which serves as the size of
	// to-be-determined axes.
	observed map[acq.Axis]int
	frames   int
	finished bool
}

// NewMemory returns an empty in-memory handler.
func NewMemory() *Memory {
	return &Memory{}
}

// SequenceStarted resets the handler for a new sequence.
func (m *Memory) SequenceStarted(seq *acq.Sequence, meta acq.SummaryMeta) {
	m.seq = seq
	m.meta = meta
	m.planes = make(map[string]acq.Plane)
	m.observed = make(map[acq.Axis]int)
	m.frames = 0
	m.finished = false
}

// FrameReady stores one plane under its index.
func (m *Memory) FrameReady(plane acq.Plane, ev acq.FrameEvent, meta acq.FrameMeta) {
	if m.seq == nil {
		return
	}
	m.planes[m.key(ev.Index)] = plane.Clone()
	for axis, v := range ev.Index {
		if v+1 > m.observed[axis] {
			m.observed[axis] = v + 1
		}
	}
	m.frames++
}

// SequenceFinished marks the sequence complete.
func (m *Memory) SequenceFinished(seq *acq.Sequence) {
	m.finished = true
}

// Frames returns the number of frames handled for the current sequence.
func (m *Memory) Frames() int { return m.frames }

// Finished reports whether SequenceFinished has been observed.
func (m *Memory) Finished() bool { return m.finished }

// Store exposes the accumulated frames as a data source. Before the first
// frame the source reports empty sizes.
func (m *Memory) Store() acq.DataSource { return (*memoryStore)(m) }

func (m *Memory) key(index map[acq.Axis]int) string {
	var sb strings.Builder
	for _, a := range m.seq.Axes {
		fmt.Fprintf(&sb, "%s=%d;", a.Axis, index[a.Axis])
	}
	return sb.String()
}

// memoryStore adapts Memory to acq.DataSource.
type memoryStore Memory

func (s *memoryStore) handler() *Memory { return (*Memory)(s) }

func (s *memoryStore) Dims() []acq.Axis {
	if s.seq == nil {
		return nil
	}
	dims := append([]acq.Axis{}, s.seq.AxisOrder()...)
	return append(dims, acq.AxisY, acq.AxisX)
}

func (s *memoryStore) Sizes() map[acq.Axis]int {
	out := make(map[acq.Axis]int)
	if s.seq == nil {
		return out
	}
	for _, a := range s.seq.Axes {
		size := a.Size
		if size <= 0 {
			size = s.observed[a.Axis]
		}
		out[a.Axis] = size
	}
	return out
}

func (s *memoryStore) Isel(index map[acq.Axis]int) ([]acq.Plane, error) {
	if s.seq == nil || s.frames == 0 {
		return nil, fmt.Errorf("memory store has no data yet")
	}
	sizes := s.Sizes()
	for axis, v := range index {
		size, ok := sizes[axis]
		if !ok {
			return nil, fmt.Errorf("unknown axis %q", axis)
		}
		if v < 0 || v >= size {
			return nil, fmt.Errorf("index %d out of range for axis %q (size %d)", v, axis, size)
		}
	}

	// free axes keep declared order
	var free []acq.Axis
	for _, a := range s.seq.Axes {
		if _, fixed := index[a.Axis]; !fixed {
			free = append(free, a.Axis)
		}
	}

	n := 1
	for _, axis := range free {
		n *= sizes[axis]
	}
	out := make([]acq.Plane, 0, n)
	idx := make([]int, len(free))
	for i := 0; i < n; i++ {
		lookup := make(map[acq.Axis]int, len(s.seq.Axes))
		for axis, v := range index {
			lookup[axis] = v
		}
		for j, axis := range free {
			lookup[axis] = idx[j]
		}
		plane, ok := s.planes[s.handler().key(lookup)]
		if !ok {
			// frame not acquired (yet); substitute a zero plane of the
			// sequence geometry so the view keeps a consistent shape
			plane = acq.NewPlane(s.meta.Height, s.meta.Width)
		}
		out = append(out, plane)

		for j := len(idx) - 1; j >= 0; j-- {
			idx[j]++
			if idx[j] < sizes[free[j]] {
				break
			}
			idx[j] = 0
		}
	}
	return out, nil
}
