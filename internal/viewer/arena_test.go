package viewer

import "testing"

func TestArenaPutGetRelease(t *testing.T) {
	a := NewArena()
	v := New("one")
	h := a.Put(v)

	got, ok := a.Get(h)
	if !ok || got != v {
		t.Fatal("Get should resolve a live handle")
	}
	if a.Len() != 1 {
		t.Fatalf("Len = %d, want 1", a.Len())
	}

	if !a.Release(h) {
		t.Fatal("Release should free a live handle")
	}
	if _, ok := a.Get(h); ok {
		t.Fatal("Get should fail after Release")
	}
	if a.Release(h) {
		t.Fatal("double Release should be a no-op")
	}
}

func TestArenaStaleGenerationAfterReuse(t *testing.T) {
	a := NewArena()
	h1 := a.Put(New("first"))
	a.Release(h1)

	// slot is reused with a bumped generation
	h2 := a.Put(New("second"))
	if _, ok := a.Get(h1); ok {
		t.Fatal("stale handle must not resolve to the slot's new occupant")
	}
	if v, ok := a.Get(h2); !ok || v.Name() != "second" {
		t.Fatal("fresh handle should resolve")
	}
}

func TestArenaClosedViewerDoesNotResolve(t *testing.T) {
	a := NewArena()
	v := New("closing")
	h := a.Put(v)
	v.Close()
	if _, ok := a.Get(h); ok {
		t.Fatal("closed viewer should act as gone")
	}
}

func TestArenaZeroHandleInvalid(t *testing.T) {
	a := NewArena()
	if _, ok := a.Get(Handle{}); ok {
		t.Fatal("zero handle must not resolve")
	}
	if (Handle{}).Valid() {
		t.Fatal("zero handle should be invalid")
	}
}

func TestArenaEach(t *testing.T) {
	a := NewArena()
	a.Put(New("a"))
	hb := a.Put(New("b"))
	a.Release(hb)

	var names []string
	a.Each(func(_ Handle, v *Viewer) { names = append(names, v.Name()) })
	if len(names) != 1 || names[0] != "a" {
		t.Fatalf("Each visited %v, want only the live viewer", names)
	}
}
