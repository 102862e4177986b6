// Package events implements the hardware-core event bus: a typed
// publish/subscribe surface mirroring the acquisition signal set
// (sequenceStarted, frameReady, sequenceFinished, imageSnapped, ...).
//
// Subscriptions are explicit: every Subscribe* call returns an id that the
// subscriber must pass to Unsubscribe at teardown. There are no weak
// references; a component that forgets to unsubscribe keeps receiving events,
// so subscription/unsubscription are always paired with component lifecycle.
//
// Emit* dispatches synchronously, in subscription order, on the caller's
// goroutine. In this application all emits happen on the dispatch loop, which
// is what makes lock-free subscriber code safe.
package events

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/microscope-data/scope.report/internal/acq"
)

// SubscriptionID identifies one subscription for later removal.
type SubscriptionID string

// randomID generates a random subscription id (8 byte random hex value).
func randomID() SubscriptionID {
	b := make([]byte, 8)
	crand.Read(b)
	return SubscriptionID(hex.EncodeToString(b))
}

type conn[F any] struct {
	id SubscriptionID
	fn F
}

// signal is one typed slot list. Connect/disconnect take the lock; emit
// iterates over a snapshot so subscribers may unsubscribe (themselves or
// others) during dispatch.
type signal[F any] struct {
	mu    sync.Mutex
	conns []conn[F]
}

func (s *signal[F]) connect(fn F) SubscriptionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := randomID()
	s.conns = append(s.conns, conn[F]{id: id, fn: fn})
	return id
}

func (s *signal[F]) disconnect(id SubscriptionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conns {
		if c.id == id {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return true
		}
	}
	return false
}

func (s *signal[F]) snapshot() []F {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]F, len(s.conns))
	for i, c := range s.conns {
		out[i] = c.fn
	}
	return out
}

// Bus carries the full hardware-core signal set.
type Bus struct {
	sequenceStarted   signal[func(*acq.Sequence, acq.SummaryMeta)]
	frameReady        signal[func(acq.Plane, acq.FrameEvent, acq.FrameMeta)]
	sequenceFinished  signal[func(*acq.Sequence)]
	sequencePaused    signal[func(bool)]
	imageSnapped      signal[func(acq.Plane)]
	continuousStarted signal[func()]
	acqStopped        signal[func()]
	exposureChanged   signal[func(float64)]
	configLoaded      signal[func()]
	roiSet            signal[func(acq.ROI)]
	propertyChanged   signal[func(dev, prop, value string)]
}

// NewBus returns an empty bus.
func NewBus() *Bus { return &Bus{} }

func (b *Bus) SubscribeSequenceStarted(fn func(*acq.Sequence, acq.SummaryMeta)) SubscriptionID {
	return b.sequenceStarted.connect(fn)
}

func (b *Bus) SubscribeFrameReady(fn func(acq.Plane, acq.FrameEvent, acq.FrameMeta)) SubscriptionID {
	return b.frameReady.connect(fn)
}

func (b *Bus) SubscribeSequenceFinished(fn func(*acq.Sequence)) SubscriptionID {
	return b.sequenceFinished.connect(fn)
}

func (b *Bus) SubscribeSequencePauseToggled(fn func(bool)) SubscriptionID {
	return b.sequencePaused.connect(fn)
}

func (b *Bus) SubscribeImageSnapped(fn func(acq.Plane)) SubscriptionID {
	return b.imageSnapped.connect(fn)
}

func (b *Bus) SubscribeContinuousSequenceAcquisitionStarted(fn func()) SubscriptionID {
	return b.continuousStarted.connect(fn)
}

func (b *Bus) SubscribeSequenceAcquisitionStopped(fn func()) SubscriptionID {
	return b.acqStopped.connect(fn)
}

func (b *Bus) SubscribeExposureChanged(fn func(float64)) SubscriptionID {
	return b.exposureChanged.connect(fn)
}

func (b *Bus) SubscribeSystemConfigurationLoaded(fn func()) SubscriptionID {
	return b.configLoaded.connect(fn)
}

func (b *Bus) SubscribeROISet(fn func(acq.ROI)) SubscriptionID {
	return b.roiSet.connect(fn)
}

func (b *Bus) SubscribePropertyChanged(fn func(dev, prop, value string)) SubscriptionID {
	return b.propertyChanged.connect(fn)
}

// Unsubscribe removes the subscription with the given id from whichever
// signal holds it. It reports whether anything was removed.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	return b.sequenceStarted.disconnect(id) ||
		b.frameReady.disconnect(id) ||
		b.sequenceFinished.disconnect(id) ||
		b.sequencePaused.disconnect(id) ||
		b.imageSnapped.disconnect(id) ||
		b.continuousStarted.disconnect(id) ||
		b.acqStopped.disconnect(id) ||
		b.exposureChanged.disconnect(id) ||
		b.configLoaded.disconnect(id) ||
		b.roiSet.disconnect(id) ||
		b.propertyChanged.disconnect(id)
}

func (b *Bus) EmitSequenceStarted(seq *acq.Sequence, meta acq.SummaryMeta) {
	for _, fn := range b.sequenceStarted.snapshot() {
		fn(seq, meta)
	}
}

func (b *Bus) EmitFrameReady(plane acq.Plane, ev acq.FrameEvent, meta acq.FrameMeta) {
	for _, fn := range b.frameReady.snapshot() {
		fn(plane, ev, meta)
	}
}

func (b *Bus) EmitSequenceFinished(seq *acq.Sequence) {
	for _, fn := range b.sequenceFinished.snapshot() {
		fn(seq)
	}
}

func (b *Bus) EmitSequencePauseToggled(paused bool) {
	for _, fn := range b.sequencePaused.snapshot() {
		fn(paused)
	}
}

func (b *Bus) EmitImageSnapped(plane acq.Plane) {
	for _, fn := range b.imageSnapped.snapshot() {
		fn(plane)
	}
}

func (b *Bus) EmitContinuousSequenceAcquisitionStarted() {
	for _, fn := range b.continuousStarted.snapshot() {
		fn()
	}
}

func (b *Bus) EmitSequenceAcquisitionStopped() {
	for _, fn := range b.acqStopped.snapshot() {
		fn()
	}
}

func (b *Bus) EmitExposureChanged(ms float64) {
	for _, fn := range b.exposureChanged.snapshot() {
		fn(ms)
	}
}

func (b *Bus) EmitSystemConfigurationLoaded() {
	for _, fn := range b.configLoaded.snapshot() {
		fn()
	}
}

func (b *Bus) EmitROISet(roi acq.ROI) {
	for _, fn := range b.roiSet.snapshot() {
		fn(roi)
	}
}

func (b *Bus) EmitPropertyChanged(dev, prop, value string) {
	for _, fn := range b.propertyChanged.snapshot() {
		fn(dev, prop, value)
	}
}
