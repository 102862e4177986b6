package acq

import "fmt"

// Plane is one acquired image plane. Pixels are stored row-major as uint16
// regardless of camera bit depth; Components is 1 for grayscale data and 3
// for interleaved RGB data (channel-last, one sample triplet per pixel).
type Plane struct {
	Pix        []uint16
	Width      int
	Height     int
	Components int
}

// NewPlane allocates a zeroed grayscale plane.
func NewPlane(height, width int) Plane {
	return Plane{
		Pix:        make([]uint16, height*width),
		Width:      width,
		Height:     height,
		Components: 1,
	}
}

// Shape returns (height, width).
func (p Plane) Shape() [2]int { return [2]int{p.Height, p.Width} }

// At returns the first-component sample at (y, x). It is a convenience for
// tests and statistics and performs no bounds checking beyond the slice's own.
func (p Plane) At(y, x int) uint16 {
	comps := p.Components
	if comps == 0 {
		comps = 1
	}
	return p.Pix[(y*p.Width+x)*comps]
}

// Validate checks that the pixel buffer matches the declared geometry.
func (p Plane) Validate() error {
	comps := p.Components
	if comps == 0 {
		comps = 1
	}
	if want := p.Height * p.Width * comps; len(p.Pix) != want {
		return fmt.Errorf("plane has %d samples, want %d (%dx%dx%d)",
			len(p.Pix), want, p.Height, p.Width, comps)
	}
	return nil
}

// Clone returns a deep copy of the plane. Handlers that retain planes past
// the frameReady call copy them, since the runner may reuse buffers.
func (p Plane) Clone() Plane {
	out := p
	out.Pix = make([]uint16, len(p.Pix))
	copy(out.Pix, p.Pix)
	return out
}
