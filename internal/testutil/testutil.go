// Package testutil provides shared acquisition fixtures for tests.
package testutil

import "github.com/microscope-data/scope.report/internal/acq"

// FlatPlane returns a grayscale plane with every pixel set to value.
func FlatPlane(height, width int, value uint16) acq.Plane {
	p := acq.NewPlane(height, width)
	for i := range p.Pix {
		p.Pix[i] = value
	}
	return p
}

// GradientPlane returns a grayscale plane whose pixel values ramp with
// the pixel index, so each position is distinguishable.
func GradientPlane(height, width int) acq.Plane {
	p := acq.NewPlane(height, width)
	for i := range p.Pix {
		p.Pix[i] = uint16(i)
	}
	return p
}

// TCSequence declares a time-by-channel sequence, the common test shape.
// Channel cycles fastest.
func TCSequence(timePoints int, channels ...string) *acq.Sequence {
	seq := acq.NewSequence(
		acq.AxisSize{Axis: acq.AxisTime, Size: timePoints},
		acq.AxisSize{Axis: acq.AxisChannel, Size: len(channels)},
	)
	seq.Channels = channels
	return seq
}
