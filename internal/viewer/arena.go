package viewer

// Handle refers to a viewer slot in an Arena. A handle becomes stale when
// its slot is released and reused; Get on a stale handle fails. This makes
// viewer liveness an explicit check instead of garbage-collector behavior.
type Handle struct {
	index int
	gen   uint64
}

// Valid reports whether the handle was ever issued by an arena. The zero
// Handle is invalid.
func (h Handle) Valid() bool { return h.gen != 0 }

type slot struct {
	gen  uint64
	v    *Viewer
	live bool
}

// Arena is a generation-tagged viewer registry. Slots are reused; each reuse
// bumps the generation so handles from prior occupants go stale.
type Arena struct {
	slots []slot
	free  []int
	count int
}

// NewArena returns an empty arena.
func NewArena() *Arena { return &Arena{} }

// Put registers a viewer and returns its handle.
func (a *Arena) Put(v *Viewer) Handle {
	a.count++
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.gen++
		s.v = v
		s.live = true
		return Handle{index: idx, gen: s.gen}
	}
	a.slots = append(a.slots, slot{gen: 1, v: v, live: true})
	return Handle{index: len(a.slots) - 1, gen: 1}
}

// Get resolves a handle. It fails for stale, released, or zero handles, and
// for handles whose viewer has been closed.
func (a *Arena) Get(h Handle) (*Viewer, bool) {
	if !h.Valid() || h.index >= len(a.slots) {
		return nil, false
	}
	s := a.slots[h.index]
	if !s.live || s.gen != h.gen || s.v.Closed() {
		return nil, false
	}
	return s.v, true
}

// Release frees a handle's slot for reuse. Releasing a stale handle is a
// no-op; it reports whether a live slot was freed.
func (a *Arena) Release(h Handle) bool {
	if !h.Valid() || h.index >= len(a.slots) {
		return false
	}
	s := &a.slots[h.index]
	if !s.live || s.gen != h.gen {
		return false
	}
	s.live = false
	s.v = nil
	a.free = append(a.free, h.index)
	a.count--
	return true
}

// Len returns the number of live slots.
func (a *Arena) Len() int { return a.count }

// Each calls fn for every live viewer.
func (a *Arena) Each(fn func(Handle, *Viewer)) {
	for i, s := range a.slots {
		if s.live && !s.v.Closed() {
			fn(Handle{index: i, gen: s.gen}, s.v)
		}
	}
}
