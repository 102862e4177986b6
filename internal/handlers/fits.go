package handlers

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/microscope-data/scope.report/internal/acq"
	"github.com/microscope-data/scope.report/internal/monitoring"
)

// FITS writes one FITS file per plane, with incrementing numbered filenames
// in yyyy-mm-dd subfolders under Root. Axis indices and acquisition
// metadata go into header cards. It is not safe for concurrent use; like
// the other handlers it is driven from the dispatch loop.
type FITS struct {
	Root   string
	Prefix string

	counter    int
	written    int
	timeFolder string
	seq        *acq.Sequence
	meta       acq.SummaryMeta
	err        error
}

// NewFITS returns a writer rooted at the given directory. Prefix is
// prepended to every filename.
func NewFITS(root, prefix string) *FITS {
	return &FITS{Root: root, Prefix: prefix}
}

// Err returns the first write error since the last SequenceStarted.
func (f *FITS) Err() error { return f.err }

func (f *FITS) updateFolder() {
	now := time.Now()
	f.timeFolder = fmt.Sprintf("%04d-%02d-%02d", now.Year(), now.Month(), now.Day())
}

func (f *FITS) mkDir() (string, error) {
	folder := path.Join(f.Root, f.timeFolder)
	err := os.MkdirAll(folder, 0o777)
	return folder, err
}

// resetCounter scans the current folder so numbering continues after the
// highest existing file rather than overwriting it.
func (f *FITS) resetCounter() {
	folder, err := f.mkDir()
	if err != nil {
		return
	}
	entries, err := os.ReadDir(folder)
	if err != nil {
		return
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".fits") || !strings.HasPrefix(name, f.Prefix) {
			continue
		}
		numPart := strings.TrimSuffix(strings.TrimPrefix(name, f.Prefix), ".fits")
		n, err := strconv.Atoi(numPart)
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	f.counter = count + 1
}

func (f *FITS) SequenceStarted(seq *acq.Sequence, meta acq.SummaryMeta) {
	f.seq = seq
	f.meta = meta
	f.err = nil
	f.written = 0
	f.updateFolder()
	f.resetCounter()
}

func (f *FITS) FrameReady(plane acq.Plane, ev acq.FrameEvent, meta acq.FrameMeta) {
	if f.seq == nil {
		return
	}
	if err := f.writePlane(plane, ev, meta); err != nil {
		monitoring.Logf("fits: write frame %v: %v", ev.Index, err)
		if f.err == nil {
			f.err = err
		}
		return
	}
	f.counter++
	f.written++
}

func (f *FITS) SequenceFinished(seq *acq.Sequence) {
	monitoring.Logf("fits: sequence %s finished, %d files under %s",
		seq.UID, f.written, path.Join(f.Root, f.timeFolder))
	f.seq = nil
}

func (f *FITS) writePlane(plane acq.Plane, ev acq.FrameEvent, meta acq.FrameMeta) error {
	f.updateFolder()
	folder, err := f.mkDir()
	if err != nil {
		return err
	}
	name := path.Join(folder, fmt.Sprintf("%s%06d.fits", f.Prefix, f.counter))
	fid, err := os.Create(name)
	if err != nil {
		return err
	}
	defer fid.Close()

	fits, err := fitsio.Create(fid)
	if err != nil {
		return err
	}
	defer fits.Close()

	dims := []int{plane.Width, plane.Height}
	if plane.Components > 1 {
		dims = append(dims, plane.Components)
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()

	cards := []fitsio.Card{
		{Name: "BZERO", Value: 32768},
		{Name: "BSCALE", Value: 1.0},
		{Name: "CAMERA", Value: meta.CameraLabel},
		{Name: "SEQUID", Value: f.seq.UID.String()},
		{Name: "EXPTIME", Value: meta.ExposureMs, Comment: "exposure time in ms"},
		{Name: "ELAPSED", Value: meta.ElapsedMs, Comment: "ms since sequence start"},
	}
	if ev.Channel != "" {
		cards = append(cards, fitsio.Card{Name: "CHANNEL", Value: ev.Channel})
	}
	for _, ax := range f.seq.Axes {
		cards = append(cards, fitsio.Card{
			Name:    strings.ToUpper(string(ax.Axis)) + "IDX",
			Value:   ev.Index[ax.Axis],
			Comment: fmt.Sprintf("index along the %q axis", ax.Axis),
		})
	}
	if err := im.Header().Append(cards...); err != nil {
		return err
	}

	// interleaved components become separate FITS cube slices
	n := plane.Width * plane.Height
	ints := make([]int16, n*plane.Components)
	for comp := 0; comp < plane.Components; comp++ {
		for i := 0; i < n; i++ {
			ints[comp*n+i] = int16(plane.Pix[i*plane.Components+comp] - 32768)
		}
	}
	if err := im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}
