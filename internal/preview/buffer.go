// Package preview implements the live-preview data path: a fixed-capacity,
// overwrite-oldest ring buffer of image planes exposed as a read-only data
// source, and the streamer that feeds it from snapped images without
// per-frame disk I/O.
package preview

import (
	"errors"
	"fmt"

	"github.com/microscope-data/scope.report/internal/acq"
)

// ErrShapeMismatch is returned when an appended plane does not match the
// buffer's configured plane shape.
var ErrShapeMismatch = errors.New("preview: plane shape mismatch")

// ErrChannelRange is returned for an explicit channel index outside the
// configured channel count.
var ErrChannelRange = errors.New("preview: channel index out of range")

// FrameBuffer is a bounded multi-channel ring buffer of image planes. A
// "logical frame" is one set of channel planes sharing a timepoint; at
// capacity the oldest logical frame is overwritten. Writes are never blocked
// or back-pressured, only validated.
//
// Invariants: 0 <= count <= maxPlanes; start points at the oldest valid
// logical frame once the buffer is full; currentFrame points at the most
// recently opened logical frame and is -1 only before the first append.
type FrameBuffer struct {
	height    int
	width     int
	channels  int
	maxPlanes int
	bitDepth  int

	data []uint16 // maxPlanes * channels * height * width

	start        int
	count        int
	currentFrame int
}

// NewFrameBuffer allocates a buffer of maxPlanes logical frames of
// channels x height x width samples.
func NewFrameBuffer(height, width, channels, maxPlanes, bitDepth int) *FrameBuffer {
	return &FrameBuffer{
		height:       height,
		width:        width,
		channels:     channels,
		maxPlanes:    maxPlanes,
		bitDepth:     bitDepth,
		data:         make([]uint16, maxPlanes*channels*height*width),
		currentFrame: -1,
	}
}

// Matches reports whether the buffer was configured for the given geometry.
// A false result means the buffer must be recreated (e.g. after an ROI or
// camera change).
func (b *FrameBuffer) Matches(height, width, channels, bitDepth int) bool {
	return b.height == height && b.width == width &&
		b.channels == channels && b.bitDepth == bitDepth
}

// Count returns the number of valid logical frames.
func (b *FrameBuffer) Count() int { return b.count }

// Start returns the physical slot of the oldest valid logical frame.
func (b *FrameBuffer) Start() int { return b.start }

// CurrentFrame returns the physical slot of the most recently opened logical
// frame, or -1 before the first append.
func (b *FrameBuffer) CurrentFrame() int { return b.currentFrame }

// MaxPlanes returns the buffer capacity in logical frames.
func (b *FrameBuffer) MaxPlanes() int { return b.maxPlanes }

// Channels returns the configured channel count.
func (b *FrameBuffer) Channels() int { return b.channels }

// Append writes one channel plane into the current logical frame, advancing
// to a new logical frame first when channel is 0 or no frame is open yet.
//
// A grayscale plane must match the configured (height, width); a 3-component
// interleaved plane is accepted when the buffer has 3 channels, and is
// deinterleaved channel-first into a fresh logical frame. Validation happens
// before any state changes, so a failed append leaves the buffer untouched.
// Appending fewer channels than configured leaves the remaining channel
// planes stale from the previous frame; that is tolerated.
func (b *FrameBuffer) Append(plane acq.Plane, channel int) error {
	if plane.Components == 3 {
		return b.appendInterleaved(plane)
	}

	if plane.Height != b.height || plane.Width != b.width {
		return fmt.Errorf("%w: got %dx%d, buffer holds %dx%d",
			ErrShapeMismatch, plane.Height, plane.Width, b.height, b.width)
	}
	if channel < 0 || channel >= b.channels {
		return fmt.Errorf("%w: channel %d, have %d", ErrChannelRange, channel, b.channels)
	}

	if channel == 0 || b.currentFrame == -1 {
		b.startNewFrame()
	}
	copy(b.planeSlice(b.currentFrame, channel), plane.Pix)
	return nil
}

// appendInterleaved reinterprets a channel-last RGB plane as three
// channel-first planes in one new logical frame.
func (b *FrameBuffer) appendInterleaved(plane acq.Plane) error {
	if b.channels != 3 || plane.Height != b.height || plane.Width != b.width {
		return fmt.Errorf("%w: interleaved %dx%dx3 into %d-channel %dx%d buffer",
			ErrShapeMismatch, plane.Height, plane.Width, b.channels, b.height, b.width)
	}
	b.startNewFrame()
	for c := 0; c < 3; c++ {
		dst := b.planeSlice(b.currentFrame, c)
		for i := range dst {
			dst[i] = plane.Pix[i*3+c]
		}
	}
	return nil
}

// startNewFrame advances to a new logical timepoint, evicting the oldest
// frame when at capacity.
func (b *FrameBuffer) startNewFrame() {
	if b.count < b.maxPlanes {
		b.currentFrame = b.count
		b.count++
		return
	}
	// advance start first, then compute the new end-of-buffer slot
	b.start = (b.start + 1) % b.maxPlanes
	b.currentFrame = (b.start + b.maxPlanes - 1) % b.maxPlanes
}

func (b *FrameBuffer) planeSlice(frame, channel int) []uint16 {
	planeLen := b.height * b.width
	off := (frame*b.channels + channel) * planeLen
	return b.data[off : off+planeLen]
}

// logicalSlot maps a logical frame position (0 = oldest) to its physical
// slot, accounting for wrap-around once the buffer is full.
func (b *FrameBuffer) logicalSlot(i int) int {
	if b.count < b.maxPlanes {
		return i
	}
	return (b.start + i) % b.maxPlanes
}

// Dims implements acq.DataSource.
func (b *FrameBuffer) Dims() []acq.Axis {
	return []acq.Axis{acq.AxisTime, acq.AxisChannel, acq.AxisY, acq.AxisX}
}

// Sizes implements acq.DataSource. The time size is the number of currently
// valid logical frames, never the raw capacity.
func (b *FrameBuffer) Sizes() map[acq.Axis]int {
	return map[acq.Axis]int{
		acq.AxisTime:    b.count,
		acq.AxisChannel: b.channels,
	}
}

// Isel implements acq.DataSource. Only the currently-valid region is
// addressable: logical time indices run over [0, count) oldest-first, with
// the rotation applied once the buffer has wrapped.
func (b *FrameBuffer) Isel(index map[acq.Axis]int) ([]acq.Plane, error) {
	times := make([]int, 0, b.count)
	if t, ok := index[acq.AxisTime]; ok {
		if t < 0 || t >= b.count {
			return nil, fmt.Errorf("preview: time index %d out of range [0,%d)", t, b.count)
		}
		times = append(times, t)
	} else {
		for i := 0; i < b.count; i++ {
			times = append(times, i)
		}
	}

	chans := make([]int, 0, b.channels)
	if c, ok := index[acq.AxisChannel]; ok {
		if c < 0 || c >= b.channels {
			return nil, fmt.Errorf("%w: %d", ErrChannelRange, c)
		}
		chans = append(chans, c)
	} else {
		for c := 0; c < b.channels; c++ {
			chans = append(chans, c)
		}
	}

	out := make([]acq.Plane, 0, len(times)*len(chans))
	for _, t := range times {
		slot := b.logicalSlot(t)
		for _, c := range chans {
			p := acq.Plane{
				Pix:        b.planeSlice(slot, c),
				Width:      b.width,
				Height:     b.height,
				Components: 1,
			}
			out = append(out, p)
		}
	}
	return out, nil
}
