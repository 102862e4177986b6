package acq

// DataSource is the read-only array-like view a Viewer binds to. It is
// implemented by the frame-handler stores and by the live-preview ring
// buffer.
type DataSource interface {
	// Dims returns the axis names in storage order, non-spatial axes first,
	// ending with y, x.
	Dims() []Axis

	// Sizes returns the current materialized size of each non-spatial axis.
	// For axes declared to-be-determined, this grows as frames arrive.
	Sizes() map[Axis]int

	// Isel fixes the given non-spatial axes and returns the remaining planes
	// in row-major order over the free axes. An empty index selects
	// everything currently valid.
	Isel(index map[Axis]int) ([]Plane, error)
}
