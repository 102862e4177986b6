// Package api is the HTTP surface: JSON endpoints for camera control and
// acquisition, an SSE tail of frame notifications, and rendered report and
// histogram endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/microscope-data/scope.report/internal/acq"
	"github.com/microscope-data/scope.report/internal/acq/events"
	"github.com/microscope-data/scope.report/internal/core"
	"github.com/microscope-data/scope.report/internal/dispatch"
	"github.com/microscope-data/scope.report/internal/handlers/sqlite"
	"github.com/microscope-data/scope.report/internal/mda"
	"github.com/microscope-data/scope.report/internal/monitoring"
	"github.com/microscope-data/scope.report/internal/preview"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	loop    *dispatch.Loop
	core    *core.Core
	runner  *mda.Runner
	preview *preview.Preview
	bus     *events.Bus

	// db is the durable frame store; sequence endpoints 404 without it.
	db *sqlite.DB
}

func NewServer(loop *dispatch.Loop, c *core.Core, runner *mda.Runner, pv *preview.Preview, bus *events.Bus, db *sqlite.DB) *Server {
	return &Server{
		loop:    loop,
		core:    c,
		runner:  runner,
		preview: pv,
		bus:     bus,
		db:      db,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/snap", s.snap)
	mux.HandleFunc("/api/live/start", s.liveStart)
	mux.HandleFunc("/api/live/stop", s.liveStop)
	mux.HandleFunc("/api/exposure", s.exposure)
	mux.HandleFunc("/api/roi", s.roi)
	mux.HandleFunc("/api/mda/run", s.mdaRun)
	mux.HandleFunc("/api/mda/pause", s.mdaPause)
	mux.HandleFunc("/api/sequences", s.listSequences)
	mux.HandleFunc("/api/sequences/{uid}/frames", s.sequenceFrames)
	mux.HandleFunc("/api/preview/stats", s.previewStats)
	mux.HandleFunc("/api/preview/tail", s.previewTail)
	mux.HandleFunc("/api/preview/histogram.png", s.previewHistogram)
	mux.HandleFunc("/api/report/sequence", s.sequenceReport)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write response")
	}
}

func (s *Server) snap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var plane acq.Plane
	var snapErr error
	err := s.loop.Call(func() {
		plane, snapErr = s.core.SnapImage(r.Context())
	})
	if err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Dispatch loop unavailable")
		return
	}
	if snapErr != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Snap failed: %v", snapErr))
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"width":      plane.Width,
		"height":     plane.Height,
		"components": plane.Components,
		"stats":      preview.PlaneStats(plane),
	})
}

func (s *Server) liveStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var startErr error
	if err := s.loop.Call(func() { startErr = s.core.StartContinuousSequenceAcquisition() }); err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Dispatch loop unavailable")
		return
	}
	if startErr != nil {
		s.writeJSONError(w, http.StatusConflict, startErr.Error())
		return
	}
	s.writeJSON(w, map[string]bool{"live": true})
}

func (s *Server) liveStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := s.loop.Call(func() { s.core.StopSequenceAcquisition() }); err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Dispatch loop unavailable")
		return
	}
	s.writeJSON(w, map[string]bool{"live": false})
}

func (s *Server) exposure(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var ms float64
		if err := s.loop.Call(func() { ms = s.core.Exposure() }); err != nil {
			s.writeJSONError(w, http.StatusServiceUnavailable, "Dispatch loop unavailable")
			return
		}
		s.writeJSON(w, map[string]float64{"exposure_ms": ms})
	case http.MethodPost:
		ms, err := strconv.ParseFloat(r.FormValue("ms"), 64)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'ms' parameter")
			return
		}
		var setErr error
		if err := s.loop.Call(func() { setErr = s.core.SetExposure(ms) }); err != nil {
			s.writeJSONError(w, http.StatusServiceUnavailable, "Dispatch loop unavailable")
			return
		}
		if setErr != nil {
			s.writeJSONError(w, http.StatusBadRequest, setErr.Error())
			return
		}
		s.writeJSON(w, map[string]float64{"exposure_ms": ms})
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) roi(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var roi acq.ROI
		if err := s.loop.Call(func() { roi = s.core.Camera().ROI() }); err != nil {
			s.writeJSONError(w, http.StatusServiceUnavailable, "Dispatch loop unavailable")
			return
		}
		s.writeJSON(w, roi)
	case http.MethodPost:
		var roi acq.ROI
		var setErr error
		if r.URL.Query().Get("clear") == "1" {
			if err := s.loop.Call(func() {
				s.core.ClearROI()
				roi = s.core.Camera().ROI()
			}); err != nil {
				s.writeJSONError(w, http.StatusServiceUnavailable, "Dispatch loop unavailable")
				return
			}
			s.writeJSON(w, roi)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&roi); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid ROI body")
			return
		}
		if err := s.loop.Call(func() { setErr = s.core.SetROI(roi) }); err != nil {
			s.writeJSONError(w, http.StatusServiceUnavailable, "Dispatch loop unavailable")
			return
		}
		if setErr != nil {
			s.writeJSONError(w, http.StatusBadRequest, setErr.Error())
			return
		}
		s.writeJSON(w, roi)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// MDAPlan is the JSON body of /api/mda/run.
type MDAPlan struct {
	Axes       []acq.AxisSize    `json:"axes"`
	Channels   []string          `json:"channels"`
	ExposureMs float64           `json:"exposure_ms"`
	Metadata   map[string]string `json:"metadata"`
}

// Sequence builds the acquisition sequence the plan describes.
func (p *MDAPlan) Sequence() *acq.Sequence {
	seq := acq.NewSequence(p.Axes...)
	seq.Channels = p.Channels
	seq.Metadata = p.Metadata
	return seq
}

func (s *Server) mdaRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var plan MDAPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid plan: %v", err))
		return
	}
	if len(plan.Axes) == 0 {
		s.writeJSONError(w, http.StatusBadRequest, "Plan declares no axes")
		return
	}
	seq := plan.Sequence()
	frames, err := seq.NumEvents()
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if plan.ExposureMs > 0 {
		var setErr error
		if err := s.loop.Call(func() { setErr = s.core.SetExposure(plan.ExposureMs) }); err != nil || setErr != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Failed to set exposure")
			return
		}
	}

	start := time.Now()
	if err := s.runner.Run(r.Context(), seq); err != nil {
		if r.Context().Err() != nil {
			// client went away mid-run; nothing useful to report
			return
		}
		s.writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"uid":        seq.UID.String(),
		"frames":     frames,
		"elapsed_ms": float64(time.Since(start)) / float64(time.Millisecond),
	})
}

func (s *Server) mdaPause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	paused := s.runner.TogglePause()
	s.writeJSON(w, map[string]bool{"paused": paused})
}

func (s *Server) listSequences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "No frame store configured")
		return
	}
	infos, err := s.db.Sequences()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list sequences: %v", err))
		return
	}
	if infos == nil {
		infos = []sqlite.SequenceInfo{}
	}
	s.writeJSON(w, infos)
}

func (s *Server) sequenceFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "No frame store configured")
		return
	}
	uid := r.PathValue("uid")
	points, err := s.db.FrameSeries(uid)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load frames: %v", err))
		return
	}
	if len(points) == 0 {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No frames for sequence %q", uid))
		return
	}
	s.writeJSON(w, points)
}

func (s *Server) previewStats(w http.ResponseWriter, r *http.Request) {
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
	stats := preview.PlaneStats(plane)
	lo, hi, err := preview.AutoscaleLimits(plane, 0.01, 0.99)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"stats":        stats,
		"autoscale_lo": lo,
		"autoscale_hi": hi,
		"width":        plane.Width,
		"height":       plane.Height,
		"components":   plane.Components,
	})
}

// frameNotice is one SSE payload on /api/preview/tail.
type frameNotice struct {
	Kind      string         `json:"kind"` // "snap" or "mda"
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Index     map[string]int `json:"index,omitempty"`
	Channel   string         `json:"channel,omitempty"`
	ElapsedMs float64        `json:"elapsed_ms,omitempty"`
}

func (s *Server) previewTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	notices := make(chan frameNotice, 16)
	push := func(n frameNotice) {
		select {
		case notices <- n:
		default:
			// a slow client misses notifications rather than stalling
			// the dispatch loop
		}
	}
	snapID := s.bus.SubscribeImageSnapped(func(p acq.Plane) {
		push(frameNotice{Kind: "snap", Width: p.Width, Height: p.Height})
	})
	frameID := s.bus.SubscribeFrameReady(func(p acq.Plane, ev acq.FrameEvent, m acq.FrameMeta) {
		index := make(map[string]int, len(ev.Index))
		for ax, i := range ev.Index {
			index[string(ax)] = i
		}
		push(frameNotice{
			Kind:      "mda",
			Width:     p.Width,
			Height:    p.Height,
			Index:     index,
			Channel:   ev.Channel,
			ElapsedMs: m.ElapsedMs,
		})
	})
	defer s.bus.Unsubscribe(snapID)
	defer s.bus.Unsubscribe(frameID)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	for {
		select {
		case n := <-notices:
			payload, err := json.Marshal(n)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}
