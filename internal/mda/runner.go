// Package mda runs multi-dimensional acquisitions: it walks the events of a
// declared Sequence, drives the camera for each one, and publishes the
// sequence lifecycle on the event bus. Output handlers registered with the
// runner receive every lifecycle call directly; everything else (viewers,
// preview, API streams) observes the bus.
package mda

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/microscope-data/scope.report/internal/acq"
	"github.com/microscope-data/scope.report/internal/acq/events"
	"github.com/microscope-data/scope.report/internal/core"
	"github.com/microscope-data/scope.report/internal/dispatch"
	"github.com/microscope-data/scope.report/internal/handlers"
)

// Runner executes sequences one at a time. Camera access and event
// publication happen as dispatch loop tasks; Run itself may be called from
// any goroutine and blocks until the sequence completes or the context is
// canceled.
type Runner struct {
	loop   *dispatch.Loop
	bus    *events.Bus
	camera core.CameraDevice

	// PixelSizeUm is stamped into the summary metadata of every run.
	PixelSizeUm float64

	mu      sync.Mutex
	outputs []handlers.Handler
	paused  bool
	unpause chan struct{}
	running bool
}

// NewRunner returns a runner driving the given camera.
func NewRunner(loop *dispatch.Loop, bus *events.Bus, camera core.CameraDevice) *Runner {
	return &Runner{
		loop:        loop,
		bus:         bus,
		camera:      camera,
		PixelSizeUm: 1,
	}
}

// RegisterOutputHandler adds a handler that will receive every lifecycle
// call of subsequent runs. Registered handlers own their stores; when at
// least one is registered the viewer coordinator binds to the first instead
// of creating its own.
func (r *Runner) RegisterOutputHandler(h handlers.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = append(r.outputs, h)
}

// OutputHandlers returns the currently registered handlers.
func (r *Runner) OutputHandlers() []handlers.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]handlers.Handler, len(r.outputs))
	copy(out, r.outputs)
	return out
}

// ClearOutputHandlers removes all registered handlers.
func (r *Runner) ClearOutputHandlers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = nil
}

// TogglePause flips the paused state and reports the new state. A paused
// run holds between exposures; frames in flight still complete.
func (r *Runner) TogglePause() bool {
	r.mu.Lock()
	r.paused = !r.paused
	paused := r.paused
	if paused {
		r.unpause = make(chan struct{})
	} else if r.unpause != nil {
		close(r.unpause)
		r.unpause = nil
	}
	r.mu.Unlock()
	r.loop.Post(func() { r.bus.EmitSequencePauseToggled(paused) })
	return paused
}

// Paused reports whether the runner is currently paused.
func (r *Runner) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Runner) waitWhilePaused(ctx context.Context) error {
	for {
		r.mu.Lock()
		if !r.paused {
			r.mu.Unlock()
			return nil
		}
		ch := r.unpause
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run executes the sequence: SequenceStarted, one FrameReady per event in
// declared axis order, then SequenceFinished. Each physical exposure
// produces exactly one FrameReady. Cancellation stops snapping but the
// finish notification still fires so downstream consumers can settle.
func (r *Runner) Run(ctx context.Context, seq *acq.Sequence) error {
	if _, err := seq.NumEvents(); err != nil {
		return fmt.Errorf("mda: cannot enumerate sequence: %w", err)
	}
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("mda: a sequence is already running")
	}
	r.running = true
	outputs := make([]handlers.Handler, len(r.outputs))
	copy(outputs, r.outputs)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	start := time.Now()
	err := r.loop.Call(func() {
		h, w := r.camera.Resolution()
		meta := acq.SummaryMeta{
			DateTime:    start,
			CameraLabel: r.camera.Label(),
			Width:       w,
			Height:      h,
			BitDepth:    r.camera.BitDepth(),
			Components:  r.camera.Components(),
			PixelSizeUm: r.PixelSizeUm,
			ExposureMs:  r.camera.Exposure(),
		}
		for _, out := range outputs {
			out.SequenceStarted(seq, meta)
		}
		r.bus.EmitSequenceStarted(seq, meta)
	})
	if err != nil {
		return fmt.Errorf("mda: start sequence: %w", err)
	}

	runErr := r.snapAll(ctx, seq, outputs, start)

	if err := r.loop.Call(func() {
		for _, out := range outputs {
			out.SequenceFinished(seq)
		}
		r.bus.EmitSequenceFinished(seq)
	}); err != nil {
		return fmt.Errorf("mda: finish sequence: %w", err)
	}
	return runErr
}

func (r *Runner) snapAll(ctx context.Context, seq *acq.Sequence, outputs []handlers.Handler, start time.Time) error {
	events, err := seq.Events()
	if err != nil {
		// Run already validated the axes via NumEvents.
		return err
	}
	for _, ev := range events {
		if err := r.waitWhilePaused(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var snapErr error
		err := r.loop.Call(func() {
			if ev.ExposureMs > 0 && ev.ExposureMs != r.camera.Exposure() {
				if err := r.camera.SetExposure(ev.ExposureMs); err != nil {
					snapErr = err
					return
				}
			}
			plane, err := r.camera.SnapPlane(ctx)
			if err != nil {
				snapErr = err
				return
			}
			meta := acq.FrameMeta{
				ReceivedAt:  time.Now(),
				ElapsedMs:   float64(time.Since(start)) / float64(time.Millisecond),
				ExposureMs:  r.camera.Exposure(),
				CameraLabel: r.camera.Label(),
			}
			for _, out := range outputs {
				out.FrameReady(plane, ev, meta)
			}
			r.bus.EmitFrameReady(plane, ev, meta)
		})
		if err != nil {
			return fmt.Errorf("mda: dispatch frame: %w", err)
		}
		if snapErr != nil {
			return fmt.Errorf("mda: snap %v: %w", ev.Index, snapErr)
		}
	}
	return nil
}
