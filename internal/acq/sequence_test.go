package acq

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSequenceSizes(t *testing.T) {
	seq := NewSequence(
		AxisSize{AxisTime, 3},
		AxisSize{AxisChannel, 2},
	)
	want := map[Axis]int{AxisTime: 3, AxisChannel: 2}
	if diff := cmp.Diff(want, seq.Sizes()); diff != "" {
		t.Errorf("Sizes() mismatch (-want +got):\n%s", diff)
	}
	if got := seq.SizeOf(AxisZ); got != 0 {
		t.Errorf("SizeOf(absent axis) = %d, want 0", got)
	}
}

func TestEventsRowMajorOrder(t *testing.T) {
	seq := NewSequence(
		AxisSize{AxisTime, 3},
		AxisSize{AxisChannel, 2},
	)
	seq.Channels = []string{"DAPI", "FITC"}

	events, err := seq.Events()
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("len(events) = %d, want 6", len(events))
	}

	// timepoint-major: t is the declared outer axis, c cycles fastest
	wantIdx := []map[Axis]int{
		{AxisTime: 0, AxisChannel: 0},
		{AxisTime: 0, AxisChannel: 1},
		{AxisTime: 1, AxisChannel: 0},
		{AxisTime: 1, AxisChannel: 1},
		{AxisTime: 2, AxisChannel: 0},
		{AxisTime: 2, AxisChannel: 1},
	}
	for i, ev := range events {
		if diff := cmp.Diff(wantIdx[i], ev.Index); diff != "" {
			t.Errorf("event %d index mismatch (-want +got):\n%s", i, diff)
		}
	}
	if events[0].Channel != "DAPI" || events[1].Channel != "FITC" {
		t.Errorf("channel names not resolved: %q, %q", events[0].Channel, events[1].Channel)
	}
}

func TestEventsUndeterminedAxis(t *testing.T) {
	seq := NewSequence(AxisSize{AxisTime, 0})
	if _, err := seq.Events(); err == nil {
		t.Fatal("expected error enumerating a to-be-determined axis")
	}
	if _, err := seq.NumEvents(); err == nil {
		t.Fatal("expected error counting a to-be-determined axis")
	}
}

func TestPlaneValidateAndClone(t *testing.T) {
	p := NewPlane(4, 5)
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	p.Pix[2*5+3] = 42
	if got := p.At(2, 3); got != 42 {
		t.Errorf("At(2,3) = %d, want 42", got)
	}

	c := p.Clone()
	c.Pix[0] = 7
	if p.Pix[0] == 7 {
		t.Error("Clone shares pixel storage with original")
	}

	bad := Plane{Pix: make([]uint16, 3), Width: 2, Height: 2, Components: 1}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error for short pixel buffer")
	}

	rgb := Plane{Pix: make([]uint16, 2*2*3), Width: 2, Height: 2, Components: 3}
	if err := rgb.Validate(); err != nil {
		t.Errorf("Validate RGB: %v", err)
	}
}
