package core

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/microscope-data/scope.report/internal/acq"
)

// CameraDevice is the minimal camera a Core can drive. Implementations wrap
// real camera drivers; SimulatedCamera stands in when no hardware is
// attached.
type CameraDevice interface {
	Label() string

	// Resolution returns the (height, width) of planes the camera will
	// produce, after any ROI is applied.
	Resolution() (height, width int)
	BitDepth() int
	// Components is 1 for grayscale cameras, 3 for RGB color cameras.
	Components() int

	Exposure() float64
	SetExposure(ms float64) error

	ROI() acq.ROI
	SetROI(roi acq.ROI) error
	ClearROI()

	// SnapPlane performs one exposure and returns the plane.
	SnapPlane(ctx context.Context) (acq.Plane, error)
}

// SimulatedCamera is a deterministic demo camera: a drifting bright spot on
// a noisy background, reproducible from its seed. It honors ROI and bit
// depth the way a real device adapter would.
type SimulatedCamera struct {
	label       string
	sensorH     int
	sensorW     int
	bitDepth    int
	components  int
	exposureMs  float64
	roi         acq.ROI
	hasROI      bool
	frameNumber int
	rng         *rand.Rand
}

// NewSimulatedCamera returns a 16-bit grayscale simulated camera of the
// given sensor size.
func NewSimulatedCamera(label string, height, width int) *SimulatedCamera {
	return &SimulatedCamera{
		label:      label,
		sensorH:    height,
		sensorW:    width,
		bitDepth:   16,
		components: 1,
		exposureMs: 10,
		rng:        rand.New(rand.NewSource(1)),
	}
}

// SetRGB switches the camera between grayscale and 3-component RGB output.
func (c *SimulatedCamera) SetRGB(rgb bool) {
	if rgb {
		c.components = 3
	} else {
		c.components = 1
	}
}

// SetBitDepth sets the simulated sensor bit depth (8..16).
func (c *SimulatedCamera) SetBitDepth(bits int) error {
	if bits < 8 || bits > 16 {
		return fmt.Errorf("core: unsupported bit depth %d", bits)
	}
	c.bitDepth = bits
	return nil
}

func (c *SimulatedCamera) Label() string { return c.label }

func (c *SimulatedCamera) Resolution() (int, int) {
	if c.hasROI {
		return c.roi.Height, c.roi.Width
	}
	return c.sensorH, c.sensorW
}

func (c *SimulatedCamera) BitDepth() int   { return c.bitDepth }
func (c *SimulatedCamera) Components() int { return c.components }

func (c *SimulatedCamera) Exposure() float64 { return c.exposureMs }

func (c *SimulatedCamera) SetExposure(ms float64) error {
	if ms <= 0 {
		return fmt.Errorf("core: exposure must be positive, got %v", ms)
	}
	c.exposureMs = ms
	return nil
}

func (c *SimulatedCamera) ROI() acq.ROI {
	if c.hasROI {
		return c.roi
	}
	return acq.ROI{Width: c.sensorW, Height: c.sensorH}
}

func (c *SimulatedCamera) SetROI(roi acq.ROI) error {
	if roi.Width <= 0 || roi.Height <= 0 ||
		roi.X < 0 || roi.Y < 0 ||
		roi.X+roi.Width > c.sensorW || roi.Y+roi.Height > c.sensorH {
		return fmt.Errorf("core: ROI %+v outside %dx%d sensor", roi, c.sensorH, c.sensorW)
	}
	c.roi = roi
	c.hasROI = true
	return nil
}

func (c *SimulatedCamera) ClearROI() { c.hasROI = false }

// SnapPlane renders one frame. The exposure time is not actually slept; the
// simulated signal simply scales with it.
func (c *SimulatedCamera) SnapPlane(ctx context.Context) (acq.Plane, error) {
	if err := ctx.Err(); err != nil {
		return acq.Plane{}, err
	}
	h, w := c.Resolution()
	maxVal := (1 << c.bitDepth) - 1
	// spot drifts one pixel per frame, wrapping across the full sensor
	cy := (c.sensorH/2 + c.frameNumber) % c.sensorH
	cx := (c.sensorW/2 + c.frameNumber) % c.sensorW
	c.frameNumber++

	offX, offY := 0, 0
	if c.hasROI {
		offX, offY = c.roi.X, c.roi.Y
	}

	gain := c.exposureMs / 10
	if gain > 1 {
		gain = 1
	}

	plane := acq.Plane{
		Pix:        make([]uint16, h*w*c.components),
		Width:      w,
		Height:     h,
		Components: c.components,
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dy := y + offY - cy
			dx := x + offX - cx
			d2 := float64(dy*dy + dx*dx)
			signal := float64(maxVal) * gain / (1 + d2/64)
			for comp := 0; comp < c.components; comp++ {
				noise := c.rng.Float64() * float64(maxVal) * 0.02
				v := signal + noise
				if v > float64(maxVal) {
					v = float64(maxVal)
				}
				plane.Pix[(y*w+x)*c.components+comp] = uint16(v)
			}
		}
	}
	return plane, nil
}
