package preview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microscope-data/scope.report/internal/acq"
	"github.com/microscope-data/scope.report/internal/acq/events"
	"github.com/microscope-data/scope.report/internal/viewer"
)

type fakeCamera struct {
	label    string
	height   int
	width    int
	bitDepth int
	comps    int
}

func (f *fakeCamera) CameraLabel() string    { return f.label }
func (f *fakeCamera) Resolution() (int, int) { return f.height, f.width }
func (f *fakeCamera) BitDepth() int          { return f.bitDepth }
func (f *fakeCamera) Components() int        { return f.comps }

func TestStreamerAdvancesViewerIndex(t *testing.T) {
	v := viewer.New("Preview")
	s, err := NewStreamer(v, 2, 2, 1, 5, 16)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(grayPlane(2, 2, uint16(i)), 0))
	}
	assert.Equal(t, 2, v.Display().CurrentIndex[acq.AxisTime])
	assert.Same(t, s.Buffer(), v.Data())
}

func TestPreviewLazySetupAndStreaming(t *testing.T) {
	bus := events.NewBus()
	cam := &fakeCamera{label: "Cam", height: 2, width: 3, bitDepth: 16, comps: 1}
	p := NewPreview(bus, cam, 4)
	defer p.Close()

	assert.Nil(t, p.Viewer().Data(), "no buffer until the first snapped image")

	bus.EmitImageSnapped(grayPlane(2, 3, 11))
	require.NotNil(t, p.Viewer().Data())

	planes, err := p.Viewer().Data().Isel(nil)
	require.NoError(t, err)
	require.Len(t, planes, 1)
	assert.Equal(t, uint16(11), planes[0].Pix[0])

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, uint16(11), latest.Pix[0])
}

func TestPreviewReconfiguresOnROI(t *testing.T) {
	bus := events.NewBus()
	cam := &fakeCamera{label: "Cam", height: 4, width: 4, bitDepth: 16, comps: 1}
	p := NewPreview(bus, cam, 4)
	defer p.Close()

	bus.EmitImageSnapped(grayPlane(4, 4, 1))
	first := p.Viewer().Data()

	// ROI change invalidates the buffer; the next snap has the new shape
	bus.EmitROISet(acq.ROI{X: 0, Y: 0, Width: 2, Height: 2})
	bus.EmitImageSnapped(grayPlane(2, 2, 2))

	second := p.Viewer().Data()
	require.NotNil(t, second)
	assert.NotSame(t, first, second, "buffer must be recreated after ROI change")
	assert.Equal(t, 1, second.Sizes()[acq.AxisTime], "history resets with the new buffer")
}

func TestPreviewReconfiguresOnCameraProperty(t *testing.T) {
	bus := events.NewBus()
	cam := &fakeCamera{label: "Cam", height: 2, width: 2, bitDepth: 16, comps: 1}
	p := NewPreview(bus, cam, 4)
	defer p.Close()

	bus.EmitImageSnapped(grayPlane(2, 2, 1))
	first := p.Viewer().Data()

	bus.EmitPropertyChanged("Cam", "Binning", "2")
	bus.EmitImageSnapped(grayPlane(2, 2, 2))
	assert.NotSame(t, first, p.Viewer().Data())

	// properties of unrelated devices do not invalidate
	mid := p.Viewer().Data()
	bus.EmitPropertyChanged("Stage", "Speed", "5")
	bus.EmitImageSnapped(grayPlane(2, 2, 3))
	assert.Same(t, mid, p.Viewer().Data())
}

func TestPreviewShapeDriftRebuildsBuffer(t *testing.T) {
	bus := events.NewBus()
	cam := &fakeCamera{label: "Cam", height: 2, width: 2, bitDepth: 16, comps: 1}
	p := NewPreview(bus, cam, 4)
	defer p.Close()

	bus.EmitImageSnapped(grayPlane(2, 2, 1))
	// camera silently changed shape: the preview re-sizes itself rather
	// than dropping frames forever
	bus.EmitImageSnapped(grayPlane(3, 3, 2))

	planes, err := p.Viewer().Data().Isel(nil)
	require.NoError(t, err)
	require.Len(t, planes, 1)
	assert.Equal(t, [2]int{3, 3}, planes[0].Shape())
}

func TestPlaneStats(t *testing.T) {
	p := acq.Plane{Pix: []uint16{0, 2, 4, 6}, Width: 2, Height: 2, Components: 1}
	s := PlaneStats(p)
	assert.Equal(t, uint16(0), s.Min)
	assert.Equal(t, uint16(6), s.Max)
	assert.InDelta(t, 3.0, s.Mean, 1e-9)
}

func TestAutoscaleLimits(t *testing.T) {
	p := acq.NewPlane(10, 10)
	for i := range p.Pix {
		p.Pix[i] = uint16(i)
	}
	lo, hi, err := AutoscaleLimits(p, 0.01, 0.99)
	require.NoError(t, err)
	assert.Less(t, lo, hi)
	assert.GreaterOrEqual(t, lo, 0.0)
	assert.LessOrEqual(t, hi, 99.0)

	_, _, err = AutoscaleLimits(p, 0.9, 0.1)
	assert.Error(t, err)
	_, _, err = AutoscaleLimits(acq.Plane{}, 0.01, 0.99)
	assert.Error(t, err)
}
