package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/microscope-data/scope.report/internal/handlers/sqlite"
)

// RenderSequenceReport writes a standalone HTML report for one stored
// sequence: mean intensity per frame (one series per channel) and the
// interval between consecutive frames.
func RenderSequenceReport(w io.Writer, uid string, points []sqlite.FramePoint) error {
	if len(points) == 0 {
		return fmt.Errorf("no frames for sequence %q", uid)
	}

	page := components.NewPage()
	page.PageTitle = "Acquisition report " + uid
	page.AddCharts(meanIntensityChart(uid, points), frameIntervalChart(uid, points))
	return page.Render(w)
}

func meanIntensityChart(uid string, points []sqlite.FramePoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Mean intensity",
			Subtitle: fmt.Sprintf("sequence %s, %d frames", uid, len(points)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "elapsed (ms)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mean ADU"}),
	)

	// one series per channel, sharing the elapsed-time axis
	seriesOrder := []string{}
	series := map[string][]opts.LineData{}
	xAxis := make([]string, 0, len(points))
	for _, p := range points {
		xAxis = append(xAxis, fmt.Sprintf("%.0f", p.ElapsedMs))
		name := p.Channel
		if name == "" {
			name = "mean"
		}
		if _, ok := series[name]; !ok {
			seriesOrder = append(seriesOrder, name)
		}
		series[name] = append(series[name], opts.LineData{Value: []interface{}{p.ElapsedMs, p.Mean}})
	}
	line.SetXAxis(xAxis)
	for _, name := range seriesOrder {
		line.AddSeries(name, series[name])
	}
	return line
}

func frameIntervalChart(uid string, points []sqlite.FramePoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Frame interval"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "interval (ms)"}),
	)

	xAxis := make([]string, 0, len(points))
	data := make([]opts.LineData, 0, len(points))
	prev := points[0].ElapsedMs
	for i, p := range points {
		xAxis = append(xAxis, fmt.Sprintf("%d", i))
		data = append(data, opts.LineData{Value: p.ElapsedMs - prev})
		prev = p.ElapsedMs
	}
	line.SetXAxis(xAxis)
	line.AddSeries("interval", data)
	return line
}

func (s *Server) sequenceReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "No frame store configured")
		return
	}
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'uid' parameter")
		return
	}
	points, err := s.db.FrameSeries(uid)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load frames: %v", err))
		return
	}
	if len(points) == 0 {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No frames for sequence %q", uid))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := RenderSequenceReport(w, uid, points); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render report: %v", err))
	}
}
