// Package core is the hardware facade: a single Core owns the camera and
// any peripherals, and every state change it performs is announced on the
// event bus so viewers, preview streams and data handlers can react without
// holding references to devices.
//
// Core methods must be called on the dispatch loop (directly from a loop
// task, or via Loop.Call from other goroutines). The continuous acquisition
// ticker is the only internal goroutine and it only ever posts back onto
// the loop.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/microscope-data/scope.report/internal/acq"
	"github.com/microscope-data/scope.report/internal/acq/events"
	"github.com/microscope-data/scope.report/internal/dispatch"
	"github.com/microscope-data/scope.report/internal/monitoring"
)

// CoreDevice is the device label used for core-level properties, matching
// the convention where "Core"/"Camera" selects the active camera.
const CoreDevice = "Core"

// Core coordinates device access and publishes hardware events.
type Core struct {
	loop   *dispatch.Loop
	bus    *events.Bus
	camera CameraDevice

	// properties holds device properties by device label then property
	// name. Camera-backed properties (Exposure, ROI) live on the device
	// itself, not here.
	properties map[string]map[string]string

	peripherals map[string]Peripheral

	liveStop chan struct{}
}

// New returns a Core driving the given camera. The camera becomes the
// active camera for snaps and continuous acquisition.
func New(loop *dispatch.Loop, bus *events.Bus, camera CameraDevice) *Core {
	return &Core{
		loop:        loop,
		bus:         bus,
		camera:      camera,
		properties:  map[string]map[string]string{},
		peripherals: map[string]Peripheral{},
	}
}

// AddPeripheral registers a serial peripheral under a device label.
// Property assignments for that label are forwarded to the controller as
// "PROPERTY VALUE" command lines.
func (c *Core) AddPeripheral(label string, p Peripheral) {
	c.peripherals[label] = p
}

// Peripheral returns the controller registered under label, or nil.
func (c *Core) Peripheral(label string) Peripheral {
	return c.peripherals[label]
}

// Camera returns the active camera device.
func (c *Core) Camera() CameraDevice { return c.camera }

// CameraLabel implements the camera description used by the preview layer.
func (c *Core) CameraLabel() string { return c.camera.Label() }

func (c *Core) Resolution() (height, width int) { return c.camera.Resolution() }
func (c *Core) BitDepth() int                   { return c.camera.BitDepth() }
func (c *Core) Components() int                 { return c.camera.Components() }

// SnapImage performs a single exposure, publishes the resulting plane as an
// ImageSnapped event, and returns it.
func (c *Core) SnapImage(ctx context.Context) (acq.Plane, error) {
	plane, err := c.camera.SnapPlane(ctx)
	if err != nil {
		return acq.Plane{}, fmt.Errorf("snap on %q: %w", c.camera.Label(), err)
	}
	c.bus.EmitImageSnapped(plane)
	return plane, nil
}

// StartContinuousSequenceAcquisition begins free-running acquisition,
// snapping at the camera's exposure interval until stopped. It is an error
// to start while already running.
func (c *Core) StartContinuousSequenceAcquisition() error {
	if c.liveStop != nil {
		return fmt.Errorf("core: continuous acquisition already running")
	}
	interval := time.Duration(c.camera.Exposure() * float64(time.Millisecond))
	if interval <= 0 {
		interval = time.Millisecond
	}
	stop := make(chan struct{})
	c.liveStop = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				err := c.loop.Post(func() {
					// a stop may have landed between the tick
					// and this task running
					if c.liveStop != stop {
						return
					}
					if _, err := c.SnapImage(context.Background()); err != nil {
						monitoring.Logf("core: continuous snap failed: %v", err)
					}
				})
				if err != nil {
					return
				}
			}
		}
	}()
	c.bus.EmitContinuousSequenceAcquisitionStarted()
	return nil
}

// StopSequenceAcquisition stops continuous acquisition. Stopping when not
// running is a no-op.
func (c *Core) StopSequenceAcquisition() {
	if c.liveStop == nil {
		return
	}
	close(c.liveStop)
	c.liveStop = nil
	c.bus.EmitSequenceAcquisitionStopped()
}

// Live reports whether continuous acquisition is running.
func (c *Core) Live() bool { return c.liveStop != nil }

// SetExposure sets the active camera's exposure in milliseconds and
// publishes the change.
func (c *Core) SetExposure(ms float64) error {
	if err := c.camera.SetExposure(ms); err != nil {
		return err
	}
	c.bus.EmitExposureChanged(ms)
	return nil
}

// Exposure returns the active camera's exposure in milliseconds.
func (c *Core) Exposure() float64 { return c.camera.Exposure() }

// SetROI applies a region of interest to the active camera and publishes
// the change. Subsequent planes take the ROI's dimensions.
func (c *Core) SetROI(roi acq.ROI) error {
	if err := c.camera.SetROI(roi); err != nil {
		return err
	}
	c.bus.EmitROISet(roi)
	return nil
}

// ClearROI restores the full sensor and publishes the resulting ROI.
func (c *Core) ClearROI() {
	c.camera.ClearROI()
	c.bus.EmitROISet(c.camera.ROI())
}

// SetProperty records a device property and publishes the change. Properties
// are free-form strings; devices that interpret specific properties do so in
// response to the PropertyChanged event.
func (c *Core) SetProperty(device, property, value string) {
	props := c.properties[device]
	if props == nil {
		props = map[string]string{}
		c.properties[device] = props
	}
	props[property] = value
	if p := c.peripherals[device]; p != nil {
		if err := p.SendCommand(fmt.Sprintf("%s %s", property, value)); err != nil {
			monitoring.Logf("core: forwarding %s.%s to controller: %v", device, property, err)
		}
	}
	c.bus.EmitPropertyChanged(device, property, value)
}

// Property returns a previously set device property, or "" if unset.
func (c *Core) Property(device, property string) string {
	return c.properties[device][property]
}

// LoadSystemConfiguration reads a configuration file and applies each
// property assignment it contains, then publishes ConfigLoaded. Individual
// bad lines are skipped with a warning. A missing or unreadable file is
// also only a warning: the current configuration stays in place and no
// event is published.
func (c *Core) LoadSystemConfiguration(path string) {
	cfg, err := ParseConfigFile(path)
	if err != nil {
		monitoring.Logf("core: system configuration %q not loaded: %v", path, err)
		return
	}
	for _, p := range cfg.Properties {
		c.SetProperty(p.Device, p.Property, p.Value)
	}
	monitoring.Logf("core: loaded system configuration %q (%d devices, %d properties)",
		path, len(cfg.Devices), len(cfg.Properties))
	c.bus.EmitSystemConfigurationLoaded()
}
