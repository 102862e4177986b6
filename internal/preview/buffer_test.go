package preview

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microscope-data/scope.report/internal/acq"
)

func grayPlane(h, w int, fill uint16) acq.Plane {
	p := acq.NewPlane(h, w)
	for i := range p.Pix {
		p.Pix[i] = fill
	}
	return p
}

func TestBufferInvariantsBeforeFirstAppend(t *testing.T) {
	b := NewFrameBuffer(4, 4, 1, 5, 16)
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, 0, b.Start())
	assert.Equal(t, -1, b.CurrentFrame(), "currentFrame is -1 only before the first append")
}

func TestWrapInvariantFIFOEviction(t *testing.T) {
	const maxPlanes = 5
	const k = 13
	b := NewFrameBuffer(2, 3, 1, maxPlanes, 16)

	for i := 0; i < k; i++ {
		require.NoError(t, b.Append(grayPlane(2, 3, uint16(i)), 0))
	}

	assert.Equal(t, maxPlanes, b.Count())
	planes, err := b.Isel(nil)
	require.NoError(t, err)
	require.Len(t, planes, maxPlanes)

	// the oldest k - maxPlanes frames are gone; survivors in FIFO order
	for i, p := range planes {
		assert.Equal(t, uint16(k-maxPlanes+i), p.Pix[0], "plane %d", i)
	}
}

func TestFillBelowCapacity(t *testing.T) {
	b := NewFrameBuffer(2, 3, 1, 5, 16)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Append(grayPlane(2, 3, uint16(10+i)), 0))
	}
	assert.Equal(t, 3, b.Count())
	assert.Equal(t, 0, b.Start())

	planes, err := b.Isel(nil)
	require.NoError(t, err)
	require.Len(t, planes, 3)
	assert.Equal(t, uint16(10), planes[0].Pix[0])
	assert.Equal(t, uint16(12), planes[2].Pix[0])
}

func TestShapeMismatchLeavesStateUnchanged(t *testing.T) {
	b := NewFrameBuffer(4, 4, 1, 3, 16)
	require.NoError(t, b.Append(grayPlane(4, 4, 1), 0))

	count, start, cur := b.Count(), b.Start(), b.CurrentFrame()

	err := b.Append(grayPlane(2, 2, 9), 0)
	require.ErrorIs(t, err, ErrShapeMismatch)

	assert.Equal(t, count, b.Count())
	assert.Equal(t, start, b.Start())
	assert.Equal(t, cur, b.CurrentFrame())
}

func TestChannelOutOfRangeRejected(t *testing.T) {
	b := NewFrameBuffer(4, 4, 2, 3, 16)
	err := b.Append(grayPlane(4, 4, 1), 5)
	require.ErrorIs(t, err, ErrChannelRange)
	assert.Equal(t, 0, b.Count())
}

func TestMultiChannelFrameGrouping(t *testing.T) {
	b := NewFrameBuffer(2, 2, 2, 4, 16)

	// channel 0 opens a logical frame; channel 1 joins it
	require.NoError(t, b.Append(grayPlane(2, 2, 100), 0))
	require.NoError(t, b.Append(grayPlane(2, 2, 101), 1))
	require.NoError(t, b.Append(grayPlane(2, 2, 200), 0))

	assert.Equal(t, 2, b.Count())

	planes, err := b.Isel(map[acq.Axis]int{acq.AxisTime: 0})
	require.NoError(t, err)
	require.Len(t, planes, 2)
	assert.Equal(t, uint16(100), planes[0].Pix[0])
	assert.Equal(t, uint16(101), planes[1].Pix[0])

	// frame 1 channel 1 was never written: stale (zero) but addressable
	planes, err = b.Isel(map[acq.Axis]int{acq.AxisTime: 1, acq.AxisChannel: 1})
	require.NoError(t, err)
	assert.Equal(t, uint16(0), planes[0].Pix[0])
}

func TestNonZeroChannelOpensFirstFrame(t *testing.T) {
	b := NewFrameBuffer(2, 2, 2, 4, 16)
	// no frame open yet: even a channel-1 append starts one
	require.NoError(t, b.Append(grayPlane(2, 2, 7), 1))
	assert.Equal(t, 1, b.Count())
	assert.Equal(t, 0, b.CurrentFrame())
}

func TestInterleavedRGBTransposed(t *testing.T) {
	b := NewFrameBuffer(1, 2, 3, 4, 8)

	rgb := acq.Plane{
		Pix:        []uint16{10, 20, 30, 40, 50, 60}, // two pixels, channel-last
		Width:      2,
		Height:     1,
		Components: 3,
	}
	require.NoError(t, b.Append(rgb, 0))

	for c, want := range []uint16{10, 20, 30} {
		planes, err := b.Isel(map[acq.Axis]int{acq.AxisTime: 0, acq.AxisChannel: c})
		require.NoError(t, err)
		assert.Equal(t, want, planes[0].Pix[0], "channel %d first pixel", c)
		assert.Equal(t, want+30, planes[0].Pix[1], "channel %d second pixel", c)
	}
}

func TestInterleavedRGBIntoGrayBufferRejected(t *testing.T) {
	b := NewFrameBuffer(1, 2, 1, 4, 16)
	rgb := acq.Plane{Pix: make([]uint16, 6), Width: 2, Height: 1, Components: 3}
	err := b.Append(rgb, 0)
	require.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, 0, b.Count())
}

func TestIselTimeOutOfValidRegion(t *testing.T) {
	b := NewFrameBuffer(2, 2, 1, 5, 16)
	require.NoError(t, b.Append(grayPlane(2, 2, 1), 0))

	_, err := b.Isel(map[acq.Axis]int{acq.AxisTime: 3})
	assert.Error(t, err, "only [0, count) is addressable")
}

func TestSizesTrackValidRegion(t *testing.T) {
	b := NewFrameBuffer(2, 2, 2, 5, 16)
	assert.Equal(t, 0, b.Sizes()[acq.AxisTime])
	require.NoError(t, b.Append(grayPlane(2, 2, 1), 0))
	assert.Equal(t, 1, b.Sizes()[acq.AxisTime])
	assert.Equal(t, 2, b.Sizes()[acq.AxisChannel])
}

func TestMatchesGeometry(t *testing.T) {
	b := NewFrameBuffer(4, 6, 1, 5, 16)
	assert.True(t, b.Matches(4, 6, 1, 16))
	assert.False(t, b.Matches(4, 6, 1, 8), "bit depth change invalidates")
	assert.False(t, b.Matches(2, 6, 1, 16), "shape change invalidates")
	assert.False(t, b.Matches(4, 6, 3, 16), "channel change invalidates")
}

func TestErrorsAreSentinels(t *testing.T) {
	b := NewFrameBuffer(2, 2, 1, 2, 16)
	if err := b.Append(grayPlane(3, 3, 0), 0); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
}
