package preview

import (
	"github.com/microscope-data/scope.report/internal/acq"
	"github.com/microscope-data/scope.report/internal/acq/events"
	"github.com/microscope-data/scope.report/internal/monitoring"
	"github.com/microscope-data/scope.report/internal/viewer"
)

// DefaultMaxPlanes is the preview history depth: how many logical frames the
// ring buffer keeps before overwriting the oldest.
const DefaultMaxPlanes = 20

// CameraInfo is what the preview needs to know about the active camera to
// size its buffer. The hardware core implements it.
type CameraInfo interface {
	CameraLabel() string
	Resolution() (height, width int)
	BitDepth() int
	Components() int
}

// Streamer couples one FrameBuffer to one viewer: every appended frame moves
// the viewer's time index to the newest valid logical frame.
type Streamer struct {
	buf *FrameBuffer
	v   *viewer.Viewer
}

// NewStreamer builds a buffer of the given geometry and rebinds the viewer
// to it.
func NewStreamer(v *viewer.Viewer, height, width, channels, maxPlanes, bitDepth int) (*Streamer, error) {
	buf := NewFrameBuffer(height, width, channels, maxPlanes, bitDepth)
	if err := v.ReplaceData(buf); err != nil {
		return nil, err
	}
	v.Display().ChannelAxis = acq.AxisChannel
	return &Streamer{buf: buf, v: v}, nil
}

// Buffer returns the underlying ring buffer.
func (s *Streamer) Buffer() *FrameBuffer { return s.buf }

// Append writes one plane and advances the viewer to the newest frame.
func (s *Streamer) Append(plane acq.Plane, channel int) error {
	if err := s.buf.Append(plane, channel); err != nil {
		return err
	}
	return s.v.UpdateIndex(map[acq.Axis]int{acq.AxisTime: s.buf.Count() - 1})
}

// Preview is the live-preview coordinator: it owns the preview viewer, lazily
// builds a streamer sized to the active camera, rebuilds it whenever the
// camera geometry changes, and feeds it from imageSnapped events.
//
// All methods run on the dispatch loop.
type Preview struct {
	bus    *events.Bus
	camera CameraInfo

	v         *viewer.Viewer
	streamer  *Streamer
	maxPlanes int

	subs []events.SubscriptionID

	// latest is the most recently appended plane, kept for statistics and
	// the histogram endpoint.
	latest    acq.Plane
	hasLatest bool
}

// NewPreview wires a preview onto the bus. Close releases the subscriptions.
func NewPreview(bus *events.Bus, camera CameraInfo, maxPlanes int) *Preview {
	if maxPlanes <= 0 {
		maxPlanes = DefaultMaxPlanes
	}
	p := &Preview{
		bus:       bus,
		camera:    camera,
		v:         viewer.New("Preview"),
		maxPlanes: maxPlanes,
	}
	p.subs = append(p.subs,
		bus.SubscribeImageSnapped(p.onImageSnapped),
		bus.SubscribeSystemConfigurationLoaded(func() { p.reconfigure() }),
		bus.SubscribeROISet(func(acq.ROI) { p.reconfigure() }),
		bus.SubscribePropertyChanged(p.onPropertyChanged),
	)
	return p
}

// Close unsubscribes the preview from the bus.
func (p *Preview) Close() {
	for _, id := range p.subs {
		p.bus.Unsubscribe(id)
	}
	p.subs = nil
}

// Viewer returns the persistent preview viewer.
func (p *Preview) Viewer() *viewer.Viewer { return p.v }

// Latest returns the most recently previewed plane.
func (p *Preview) Latest() (acq.Plane, bool) { return p.latest, p.hasLatest }

func (p *Preview) onImageSnapped(plane acq.Plane) {
	if p.streamer == nil || !p.matches(plane) {
		if err := p.setup(plane); err != nil {
			monitoring.Logf("preview: cannot configure streamer: %v", err)
			return
		}
	}
	if err := p.streamer.Append(plane, 0); err != nil {
		// shape errors here indicate the camera changed between checks;
		// surface them and wait for the next snap to reconfigure
		monitoring.Logf("preview: append: %v", err)
		p.streamer = nil
		return
	}
	p.latest = plane.Clone()
	p.hasLatest = true
}

// onPropertyChanged invalidates the streamer when the active camera (or any
// of its properties, e.g. binning or bit depth) changes.
func (p *Preview) onPropertyChanged(dev, prop, value string) {
	if dev == "Core" && prop == "Camera" {
		p.reconfigure()
		return
	}
	if dev == p.camera.CameraLabel() {
		p.reconfigure()
	}
}

// reconfigure drops the current streamer; the next snapped image rebuilds it
// against the camera geometry in effect at that moment.
func (p *Preview) reconfigure() {
	p.streamer = nil
}

// matches reports whether the current streamer fits the incoming plane.
func (p *Preview) matches(plane acq.Plane) bool {
	channels := 1
	if plane.Components == 3 {
		channels = 3
	}
	return p.streamer.Buffer().Matches(plane.Height, plane.Width, channels, p.camera.BitDepth())
}

// setup builds a streamer sized to the incoming plane.
func (p *Preview) setup(plane acq.Plane) error {
	channels := 1
	if plane.Components == 3 {
		channels = 3
	}
	s, err := NewStreamer(p.v, plane.Height, plane.Width, channels, p.maxPlanes, p.camera.BitDepth())
	if err != nil {
		return err
	}
	p.streamer = s
	return nil
}
