package events

import (
	"testing"

	"github.com/microscope-data/scope.report/internal/acq"
)

func TestSubscribeEmitUnsubscribe(t *testing.T) {
	b := NewBus()

	var got []float64
	id := b.SubscribeExposureChanged(func(ms float64) { got = append(got, ms) })

	b.EmitExposureChanged(10)
	b.EmitExposureChanged(25)

	if !b.Unsubscribe(id) {
		t.Fatal("Unsubscribe reported nothing removed")
	}
	b.EmitExposureChanged(99)

	if len(got) != 2 || got[0] != 10 || got[1] != 25 {
		t.Errorf("received %v, want [10 25]", got)
	}
	if b.Unsubscribe(id) {
		t.Error("second Unsubscribe should be a no-op")
	}
}

func TestDispatchInSubscriptionOrder(t *testing.T) {
	b := NewBus()
	var order []int
	for i := 0; i < 4; i++ {
		i := i
		b.SubscribeSequenceAcquisitionStopped(func() { order = append(order, i) })
	}
	b.EmitSequenceAcquisitionStopped()
	for i, v := range order {
		if v != i {
			t.Fatalf("dispatch order %v, want ascending", order)
		}
	}
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	b := NewBus()

	calls := 0
	var id SubscriptionID
	id = b.SubscribeSystemConfigurationLoaded(func() {
		calls++
		b.Unsubscribe(id)
	})

	// must not deadlock or skip; the second emit reaches nobody
	b.EmitSystemConfigurationLoaded()
	b.EmitSystemConfigurationLoaded()

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestFrameReadyPayload(t *testing.T) {
	b := NewBus()
	seq := acq.NewSequence(acq.AxisSize{Axis: acq.AxisTime, Size: 2})

	var gotEv acq.FrameEvent
	b.SubscribeFrameReady(func(p acq.Plane, ev acq.FrameEvent, meta acq.FrameMeta) {
		gotEv = ev
	})

	plane := acq.NewPlane(2, 2)
	b.EmitFrameReady(plane, acq.FrameEvent{Sequence: seq, Index: map[acq.Axis]int{acq.AxisTime: 1}}, acq.FrameMeta{})

	if gotEv.Index[acq.AxisTime] != 1 || gotEv.Sequence != seq {
		t.Errorf("frameReady payload not delivered intact: %+v", gotEv)
	}
}
