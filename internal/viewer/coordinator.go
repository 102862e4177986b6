package viewer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/microscope-data/scope.report/internal/acq"
	"github.com/microscope-data/scope.report/internal/acq/events"
	"github.com/microscope-data/scope.report/internal/dispatch"
	"github.com/microscope-data/scope.report/internal/handlers"
	"github.com/microscope-data/scope.report/internal/monitoring"
)

// defaultIndexDelay is how long the coordinator waits before pushing a new
// current index to the viewer. Handlers may persist frames asynchronously
// relative to frameReady returning, so an immediate index update could race
// ahead of the data landing in the store. The delay is best-effort: no
// completion signal from the handler is awaited.
const defaultIndexDelay = 10 * time.Millisecond

// OutputHandlerSource exposes the externally-registered output handlers for
// the in-flight acquisition. The MDA runner implements this.
type OutputHandlerSource interface {
	OutputHandlers() []handlers.Handler
}

// Coordinator keeps exactly one viewer per in-flight sequence, binds it to
// the right handler's store as soon as data exists, and keeps its displayed
// index synchronized with newly arrived frames.
//
// All methods run on the dispatch loop; the coordinator holds no locks.
type Coordinator struct {
	loop    *dispatch.Loop
	bus     *events.Bus
	outputs OutputHandlerSource

	arena *Arena
	byUID map[uuid.UUID]Handle

	// active is the viewer for the in-flight sequence; cleared at
	// sequenceFinished. The viewer itself lives on in the arena until its
	// container releases it.
	active    Handle
	hasActive bool

	// handler is an externally-owned handler adopted for the sequence;
	// owned is the handler the coordinator constructed itself. At most one
	// owned handler exists at a time, and only owned handlers receive
	// forwarded lifecycle calls (external ones are driven by the runner).
	handler handlers.Handler
	owned   *handlers.Memory

	indexDelay time.Duration
	mdaCount   int

	subs []events.SubscriptionID

	// ViewerCreated, when set, is called after a new viewer is registered.
	ViewerCreated func(Handle, *Viewer, *acq.Sequence)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithIndexDelay overrides the deferred index-update delay. Tests use a
// short value.
func WithIndexDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.indexDelay = d }
}

// NewCoordinator wires a coordinator onto the bus. Close must be called to
// release the subscriptions.
func NewCoordinator(loop *dispatch.Loop, bus *events.Bus, outputs OutputHandlerSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		loop:       loop,
		bus:        bus,
		outputs:    outputs,
		arena:      NewArena(),
		byUID:      make(map[uuid.UUID]Handle),
		indexDelay: defaultIndexDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.subs = append(c.subs,
		bus.SubscribeSequenceStarted(c.onSequenceStarted),
		bus.SubscribeFrameReady(c.onFrameReady),
		bus.SubscribeSequenceFinished(c.onSequenceFinished),
	)
	return c
}

// Close unsubscribes the coordinator from the bus. Registered viewers stay
// in the arena until released by their containers.
func (c *Coordinator) Close() {
	for _, id := range c.subs {
		c.bus.Unsubscribe(id)
	}
	c.subs = nil
	c.hasActive = false
	c.handler = nil
	c.owned = nil
}

// onSequenceStarted adopts or constructs a handler and registers a fresh,
// dataless viewer for the sequence.
func (c *Coordinator) onSequenceStarted(seq *acq.Sequence, meta acq.SummaryMeta) {
	c.handler = nil
	c.owned = nil
	if hs := c.outputs.OutputHandlers(); len(hs) > 0 {
		// someone else created a handler for this sequence; reference it
		// without owning it
		c.handler = hs[0]
	} else {
		c.owned = handlers.NewMemory()
		c.owned.SequenceStarted(seq, meta)
	}

	v := New(c.viewerName(seq))
	h := c.arena.Put(v)
	c.byUID[seq.UID] = h
	c.active = h
	c.hasActive = true

	if c.ViewerCreated != nil {
		c.ViewerCreated(h, v, seq)
	}
}

// onFrameReady forwards owned-handler frames, performs the one-time
// first-frame data bind, and otherwise schedules a deferred index update.
func (c *Coordinator) onFrameReady(plane acq.Plane, ev acq.FrameEvent, meta acq.FrameMeta) {
	if c.owned != nil {
		// the owned handler is not subscribed to the bus on its own
		c.owned.FrameReady(plane, ev, meta)
	}

	if !c.hasActive {
		return
	}
	v, ok := c.arena.Get(c.active)
	if !ok {
		return
	}

	if v.Data() == nil {
		handler := c.handler
		if handler == nil {
			handler = c.owned
		}
		sp, ok := handler.(handlers.StoreProvider)
		if !ok {
			monitoring.Logf("viewer: don't know how to show data of handler type %T", handler)
			return
		}
		if err := v.SetData(sp.Store()); err != nil {
			monitoring.Logf("viewer: binding data source: %v", err)
		}
		return
	}

	// handlers may still be committing this frame; update the index a beat
	// later, and swallow the update entirely if the viewer is gone by then
	handle := c.active
	index := make(map[acq.Axis]int, len(ev.Index))
	for axis, val := range ev.Index {
		index[axis] = val
	}
	c.loop.PostDelayed(c.indexDelay, func() {
		target, ok := c.arena.Get(handle)
		if !ok {
			return
		}
		_ = target.UpdateIndex(index)
	})
}

// onSequenceFinished forwards the finish to an owned handler and drops the
// active-viewer reference. The viewer's lifetime belongs to its container.
func (c *Coordinator) onSequenceFinished(seq *acq.Sequence) {
	if c.owned != nil {
		c.owned.SequenceFinished(seq)
	}
	c.hasActive = false
}

// ViewerFor resolves the viewer registered for a sequence UID.
func (c *Coordinator) ViewerFor(uid uuid.UUID) (*Viewer, bool) {
	h, ok := c.byUID[uid]
	if !ok {
		return nil, false
	}
	return c.arena.Get(h)
}

// ReleaseViewer frees the viewer registered for a sequence UID, e.g. when
// its tab closes.
func (c *Coordinator) ReleaseViewer(uid uuid.UUID) bool {
	h, ok := c.byUID[uid]
	if !ok {
		return false
	}
	delete(c.byUID, uid)
	if h == c.active {
		c.hasActive = false
	}
	return c.arena.Release(h)
}

// Len returns the number of live registered viewers.
func (c *Coordinator) Len() int { return c.arena.Len() }

func (c *Coordinator) viewerName(seq *acq.Sequence) string {
	if name := seq.Metadata["save_name"]; name != "" {
		return name
	}
	c.mdaCount++
	return fmt.Sprintf("MDA Viewer %d", c.mdaCount)
}
