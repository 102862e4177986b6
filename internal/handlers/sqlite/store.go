package sqlite

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/microscope-data/scope.report/internal/acq"
	"github.com/microscope-data/scope.report/internal/monitoring"
	"github.com/microscope-data/scope.report/internal/preview"
)

// DefaultQueueDepth is the write queue capacity: frames beyond it apply
// backpressure to the acquisition loop.
const DefaultQueueDepth = 64

// Store is a frame handler that persists every plane to the database.
// Writes are committed on a single writer goroutine, so FrameReady returns
// before the row is durable; readers should Flush first.
type Store struct {
	db    *DB
	queue chan func()

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewStore starts a writer over the given database.
func NewStore(db *DB) *Store {
	s := &Store{
		db:    db,
		queue: make(chan func(), DefaultQueueDepth),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for op := range s.queue {
			op()
		}
	}()
	return s
}

func (s *Store) enqueue(op func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		monitoring.Logf("sqlite: write after store closed, dropped")
		return
	}
	s.queue <- op
}

// Flush blocks until every previously enqueued write has committed.
func (s *Store) Flush() {
	done := make(chan struct{})
	s.enqueue(func() { close(done) })
	<-done
}

// Close flushes pending writes and stops the writer. The database itself
// stays open.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Store) SequenceStarted(seq *acq.Sequence, meta acq.SummaryMeta) {
	axes, err := json.Marshal(seq.Axes)
	if err != nil {
		monitoring.Logf("sqlite: encode axes for %s: %v", seq.UID, err)
		return
	}
	uid := seq.UID.String()
	s.enqueue(func() {
		_, err := s.db.Exec(
			`INSERT INTO sequences (
				uid, started_at, camera, width, height, bit_depth,
				components, pixel_size_um, exposure_ms, axes
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uid, meta.DateTime, meta.CameraLabel, meta.Width, meta.Height,
			meta.BitDepth, meta.Components, meta.PixelSizeUm, meta.ExposureMs,
			string(axes),
		)
		if err != nil {
			monitoring.Logf("sqlite: insert sequence %s: %v", uid, err)
		}
	})
}

func (s *Store) FrameReady(plane acq.Plane, ev acq.FrameEvent, meta acq.FrameMeta) {
	index, err := json.Marshal(ev.Index)
	if err != nil {
		monitoring.Logf("sqlite: encode frame index: %v", err)
		return
	}
	uid := ev.Sequence.UID.String()
	channel := ev.Channel
	stats := preview.PlaneStats(plane)
	pixels := encodePixels(plane.Pix)
	width, height, components := plane.Width, plane.Height, plane.Components
	s.enqueue(func() {
		_, err := s.db.Exec(
			`INSERT INTO frames (
				sequence_uid, axis_index, channel, received_at, elapsed_ms,
				exposure_ms, width, height, components,
				min_value, max_value, mean_value, pixels
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uid, string(index), channel, meta.ReceivedAt, meta.ElapsedMs,
			meta.ExposureMs, width, height, components,
			stats.Min, stats.Max, stats.Mean, pixels,
		)
		if err != nil {
			monitoring.Logf("sqlite: insert frame %s %s: %v", uid, index, err)
		}
	})
}

func (s *Store) SequenceFinished(seq *acq.Sequence) {
	uid := seq.UID.String()
	s.enqueue(func() {
		if _, err := s.db.Exec(`UPDATE sequences SET finished = 1 WHERE uid = ?`, uid); err != nil {
			monitoring.Logf("sqlite: finish sequence %s: %v", uid, err)
		}
	})
}

func encodePixels(pix []uint16) []byte {
	buf := make([]byte, 2*len(pix))
	for i, v := range pix {
		binary.LittleEndian.PutUint16(buf[2*i:], v)
	}
	return buf
}

func decodePixels(buf []byte) []uint16 {
	pix := make([]uint16, len(buf)/2)
	for i := range pix {
		pix[i] = binary.LittleEndian.Uint16(buf[2*i:])
	}
	return pix
}

// SequenceInfo summarizes one stored sequence.
type SequenceInfo struct {
	UID       string    `json:"uid"`
	StartedAt time.Time `json:"started_at"`
	Camera    string    `json:"camera"`
	Frames    int       `json:"frames"`
	Finished  bool      `json:"finished"`
}

// Sequences lists stored sequences, most recent first.
func (db *DB) Sequences() ([]SequenceInfo, error) {
	rows, err := db.Query(`
		SELECT s.uid, s.started_at, s.camera, s.finished, COUNT(f.frame_id)
		FROM sequences s LEFT JOIN frames f ON f.sequence_uid = s.uid
		GROUP BY s.uid ORDER BY s.started_at DESC LIMIT 100`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []SequenceInfo
	for rows.Next() {
		var info SequenceInfo
		if err := rows.Scan(&info.UID, &info.StartedAt, &info.Camera, &info.Finished, &info.Frames); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return infos, nil
}

// FramePoint is one frame's statistics, for per-sequence reporting.
type FramePoint struct {
	ElapsedMs float64 `json:"elapsed_ms"`
	Channel   string  `json:"channel"`
	Min       int     `json:"min"`
	Max       int     `json:"max"`
	Mean      float64 `json:"mean"`
}

// FrameSeries returns the stored per-frame statistics of a sequence in
// acquisition order.
func (db *DB) FrameSeries(uid string) ([]FramePoint, error) {
	rows, err := db.Query(`
		SELECT elapsed_ms, channel, min_value, max_value, mean_value
		FROM frames WHERE sequence_uid = ? ORDER BY frame_id`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []FramePoint
	for rows.Next() {
		var p FramePoint
		if err := rows.Scan(&p.ElapsedMs, &p.Channel, &p.Min, &p.Max, &p.Mean); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

// savedSource is a DataSource over the stored frames of one sequence.
type savedSource struct {
	axes   []acq.AxisSize
	sizes  map[acq.Axis]int
	planes map[string]acq.Plane
	height int
	width  int
	comps  int
}

// SequenceSource loads a stored sequence back as a data source for viewing.
func (db *DB) SequenceSource(uid string) (acq.DataSource, error) {
	var axesJSON string
	var height, width, comps int
	err := db.QueryRow(
		`SELECT axes, height, width, components FROM sequences WHERE uid = ?`, uid,
	).Scan(&axesJSON, &height, &width, &comps)
	if err != nil {
		return nil, fmt.Errorf("load sequence %s: %w", uid, err)
	}
	var axes []acq.AxisSize
	if err := json.Unmarshal([]byte(axesJSON), &axes); err != nil {
		return nil, fmt.Errorf("decode axes of %s: %w", uid, err)
	}

	src := &savedSource{
		axes:   axes,
		sizes:  map[acq.Axis]int{},
		planes: map[string]acq.Plane{},
		height: height,
		width:  width,
		comps:  comps,
	}
	for _, ax := range axes {
		src.sizes[ax.Axis] = ax.Size
	}

	rows, err := db.Query(
		`SELECT axis_index, width, height, components, pixels
		FROM frames WHERE sequence_uid = ? ORDER BY frame_id`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var indexJSON string
		var w, h, c int
		var blob []byte
		if err := rows.Scan(&indexJSON, &w, &h, &c, &blob); err != nil {
			return nil, err
		}
		var index map[acq.Axis]int
		if err := json.Unmarshal([]byte(indexJSON), &index); err != nil {
			return nil, fmt.Errorf("decode frame index of %s: %w", uid, err)
		}
		// grow axes whose declared size was still unknown
		for ax, i := range index {
			if i+1 > src.sizes[ax] {
				src.sizes[ax] = i + 1
			}
		}
		src.planes[src.key(index)] = acq.Plane{
			Pix:        decodePixels(blob),
			Width:      w,
			Height:     h,
			Components: c,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(src.planes) == 0 {
		return nil, fmt.Errorf("sequence %s has no frames", uid)
	}
	return src, nil
}

func (s *savedSource) key(index map[acq.Axis]int) string {
	var b []byte
	for _, ax := range s.axes {
		b = fmt.Appendf(b, "%s=%d;", ax.Axis, index[ax.Axis])
	}
	return string(b)
}

func (s *savedSource) Dims() []acq.Axis {
	dims := make([]acq.Axis, 0, len(s.axes)+2)
	for _, ax := range s.axes {
		dims = append(dims, ax.Axis)
	}
	return append(dims, acq.AxisY, acq.AxisX)
}

func (s *savedSource) Sizes() map[acq.Axis]int {
	sizes := make(map[acq.Axis]int, len(s.sizes)+2)
	for ax, n := range s.sizes {
		sizes[ax] = n
	}
	sizes[acq.AxisY] = s.height
	sizes[acq.AxisX] = s.width
	return sizes
}

// Isel returns the planes at the given (possibly partial) index, in
// row-major order over the unconstrained axes.
func (s *savedSource) Isel(index map[acq.Axis]int) ([]acq.Plane, error) {
	var free []acq.AxisSize
	fixed := map[acq.Axis]int{}
	for _, ax := range s.axes {
		if i, ok := index[ax.Axis]; ok {
			if i < 0 || i >= s.sizes[ax.Axis] {
				return nil, fmt.Errorf("index %d out of range for axis %q (size %d)",
					i, ax.Axis, s.sizes[ax.Axis])
			}
			fixed[ax.Axis] = i
		} else {
			free = append(free, acq.AxisSize{Axis: ax.Axis, Size: s.sizes[ax.Axis]})
		}
	}

	var out []acq.Plane
	var walk func(depth int)
	walk = func(depth int) {
		if depth == len(free) {
			p, ok := s.planes[s.key(fixed)]
			if !ok {
				// never-written slot reads as zeros
				p = acq.Plane{
					Pix:        make([]uint16, s.height*s.width*s.comps),
					Width:      s.width,
					Height:     s.height,
					Components: s.comps,
				}
			}
			out = append(out, p)
			return
		}
		for i := 0; i < free[depth].Size; i++ {
			fixed[free[depth].Axis] = i
			walk(depth + 1)
		}
		delete(fixed, free[depth].Axis)
	}
	walk(0)
	return out, nil
}
