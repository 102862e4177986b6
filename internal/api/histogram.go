package api

import (
	"fmt"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/microscope-data/scope.report/internal/acq"
)

// previewHistogram renders an intensity histogram of the most recently
// previewed plane as a PNG.
func (s *Server) previewHistogram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var plane acq.Plane
	var ok bool
	if err := s.loop.Call(func() { plane, ok = s.preview.Latest() }); err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Dispatch loop unavailable")
		return
	}
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "No frame previewed yet")
		return
	}

	values := make(plotter.Values, len(plane.Pix))
	for i, v := range plane.Pix {
		values[i] = float64(v)
	}

	p := plot.New()
	p.Title.Text = "Preview intensity histogram"
	p.X.Label.Text = "intensity (ADU)"
	p.Y.Label.Text = "pixels"

	hist, err := plotter.NewHist(values, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to build histogram: %v", err))
		return
	}
	p.Add(hist)

	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render histogram: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		// headers already sent; nothing more we can do
		return
	}
}
