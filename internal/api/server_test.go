package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microscope-data/scope.report/internal/acq"
	"github.com/microscope-data/scope.report/internal/acq/events"
	"github.com/microscope-data/scope.report/internal/core"
	"github.com/microscope-data/scope.report/internal/dispatch"
	"github.com/microscope-data/scope.report/internal/handlers/sqlite"
	"github.com/microscope-data/scope.report/internal/mda"
	"github.com/microscope-data/scope.report/internal/preview"
)

type fixture struct {
	loop   *dispatch.Loop
	bus    *events.Bus
	camera *core.SimulatedCamera
	core   *core.Core
	runner *mda.Runner
	store  *sqlite.Store
	srv    *httptest.Server
}

func newTestServer(t *testing.T) *fixture {
	t.Helper()

	loop := dispatch.NewLoop()
	t.Cleanup(loop.Close)
	bus := events.NewBus()
	cam := core.NewSimulatedCamera("SimCam", 48, 64)
	c := core.New(loop, bus, cam)
	runner := mda.NewRunner(loop, bus, cam)

	pv := preview.NewPreview(bus, c, 8)
	t.Cleanup(pv.Close)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "frames.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := sqlite.NewStore(db)
	t.Cleanup(store.Close)
	runner.RegisterOutputHandler(store)

	s := NewServer(loop, c, runner, pv, bus, db)
	srv := httptest.NewServer(LoggingMiddleware(s.ServeMux()))
	t.Cleanup(srv.Close)

	return &fixture{loop: loop, bus: bus, camera: cam, core: c, runner: runner, store: store, srv: srv}
}

func (fx *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(fx.srv.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func (fx *fixture) post(t *testing.T, path, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(fx.srv.URL+path, contentType, bytes.NewReader(body))
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, out
}

func decodeJSON(t *testing.T, body []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(body, v), "body: %s", body)
}

func TestSnapFeedsPreviewEndpoints(t *testing.T) {
	fx := newTestServer(t)

	resp, _ := fx.get(t, "/api/preview/stats")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = fx.get(t, "/api/preview/histogram.png")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := fx.post(t, "/api/snap", "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	var snapped struct {
		Width      int `json:"width"`
		Height     int `json:"height"`
		Components int `json:"components"`
	}
	decodeJSON(t, body, &snapped)
	assert.Equal(t, 64, snapped.Width)
	assert.Equal(t, 48, snapped.Height)
	assert.Equal(t, 1, snapped.Components)

	resp, body = fx.get(t, "/api/preview/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats struct {
		AutoscaleLo float64 `json:"autoscale_lo"`
		AutoscaleHi float64 `json:"autoscale_hi"`
		Width       int     `json:"width"`
		Height      int     `json:"height"`
	}
	decodeJSON(t, body, &stats)
	assert.Equal(t, 64, stats.Width)
	assert.Equal(t, 48, stats.Height)
	assert.LessOrEqual(t, stats.AutoscaleLo, stats.AutoscaleHi)

	resp, body = fx.get(t, "/api/preview/histogram.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.True(t, len(body) > 8)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), body[:8])
}

func TestExposureEndpoint(t *testing.T) {
	fx := newTestServer(t)

	resp, body := fx.get(t, "/api/exposure")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]float64
	decodeJSON(t, body, &got)
	assert.Equal(t, 10.0, got["exposure_ms"])

	form := url.Values{"ms": {"25"}}
	resp, body = fx.post(t, "/api/exposure", "application/x-www-form-urlencoded", []byte(form.Encode()))
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

	resp, body = fx.get(t, "/api/exposure")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, body, &got)
	assert.Equal(t, 25.0, got["exposure_ms"])

	resp, _ = fx.post(t, "/api/exposure", "application/x-www-form-urlencoded", []byte("ms=banana"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = fx.post(t, "/api/exposure", "application/x-www-form-urlencoded", []byte("ms=-5"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestROIEndpoint(t *testing.T) {
	fx := newTestServer(t)

	want := acq.ROI{X: 4, Y: 8, Width: 16, Height: 12}
	payload, err := json.Marshal(want)
	require.NoError(t, err)
	resp, body := fx.post(t, "/api/roi", "application/json", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

	resp, body = fx.get(t, "/api/roi")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got acq.ROI
	decodeJSON(t, body, &got)
	assert.Equal(t, want, got)

	// the ROI changes the snapped resolution
	resp, body = fx.post(t, "/api/snap", "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snapped struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	decodeJSON(t, body, &snapped)
	assert.Equal(t, 16, snapped.Width)
	assert.Equal(t, 12, snapped.Height)

	// out of bounds is rejected without changing state
	bad, err := json.Marshal(acq.ROI{X: 60, Y: 0, Width: 16, Height: 12})
	require.NoError(t, err)
	resp, _ = fx.post(t, "/api/roi", "application/json", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = fx.post(t, "/api/roi", "application/json", []byte("not json"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = fx.post(t, "/api/roi?clear=1", "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, body, &got)
	assert.Equal(t, acq.ROI{Width: 64, Height: 48}, got)
}

func TestLiveStartStop(t *testing.T) {
	fx := newTestServer(t)

	resp, body := fx.post(t, "/api/live/start", "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	var state map[string]bool
	decodeJSON(t, body, &state)
	assert.True(t, state["live"])

	resp, _ = fx.post(t, "/api/live/start", "application/json", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = fx.post(t, "/api/live/stop", "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, body, &state)
	assert.False(t, state["live"])

	// stopping an idle camera is a no-op
	resp, _ = fx.post(t, "/api/live/stop", "application/json", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMDARunStoresFrames(t *testing.T) {
	fx := newTestServer(t)

	plan := MDAPlan{
		Axes:       []acq.AxisSize{{Axis: acq.AxisTime, Size: 2}, {Axis: acq.AxisChannel, Size: 2}},
		Channels:   []string{"DAPI", "FITC"},
		ExposureMs: 5,
	}
	payload, err := json.Marshal(plan)
	require.NoError(t, err)
	resp, body := fx.post(t, "/api/mda/run", "application/json", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	var ran struct {
		UID    string `json:"uid"`
		Frames int    `json:"frames"`
	}
	decodeJSON(t, body, &ran)
	assert.Equal(t, 4, ran.Frames)
	require.NotEmpty(t, ran.UID)

	fx.store.Flush()

	resp, body = fx.get(t, "/api/sequences")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var infos []sqlite.SequenceInfo
	decodeJSON(t, body, &infos)
	require.Len(t, infos, 1)
	assert.Equal(t, ran.UID, infos[0].UID)
	assert.Equal(t, 4, infos[0].Frames)
	assert.True(t, infos[0].Finished)
	assert.Equal(t, "SimCam", infos[0].Camera)

	resp, body = fx.get(t, fmt.Sprintf("/api/sequences/%s/frames", ran.UID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var points []sqlite.FramePoint
	decodeJSON(t, body, &points)
	require.Len(t, points, 4)
	assert.Equal(t, "DAPI", points[0].Channel)
	assert.Equal(t, "FITC", points[1].Channel)

	resp, body = fx.get(t, "/api/report/sequence?uid="+ran.UID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "Mean intensity")

	resp, _ = fx.get(t, "/api/sequences/no-such-uid/frames")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = fx.get(t, "/api/report/sequence")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMDARunRejectsBadPlans(t *testing.T) {
	fx := newTestServer(t)

	resp, _ := fx.post(t, "/api/mda/run", "application/json", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = fx.post(t, "/api/mda/run", "application/json", []byte(`{"channels":["DAPI"]}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// a size-0 axis cannot be enumerated up front
	unbounded, err := json.Marshal(MDAPlan{Axes: []acq.AxisSize{{Axis: acq.AxisTime}}})
	require.NoError(t, err)
	resp, _ = fx.post(t, "/api/mda/run", "application/json", unbounded)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMDAPauseToggle(t *testing.T) {
	fx := newTestServer(t)

	resp, body := fx.post(t, "/api/mda/pause", "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state map[string]bool
	decodeJSON(t, body, &state)
	assert.True(t, state["paused"])

	resp, body = fx.post(t, "/api/mda/pause", "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, body, &state)
	assert.False(t, state["paused"])
}

func TestPreviewTailStreamsNotices(t *testing.T) {
	fx := newTestServer(t)

	resp, err := http.Get(fx.srv.URL + "/api/preview/tail")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := newSSEReader(resp.Body)
	ping, err := reader.next()
	require.NoError(t, err)
	assert.Equal(t, ": ping", ping)

	snapResp, _ := fx.post(t, "/api/snap", "application/json", nil)
	require.Equal(t, http.StatusOK, snapResp.StatusCode)

	line, err := reader.next()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "), "line: %q", line)
	var notice frameNotice
	decodeJSON(t, []byte(strings.TrimPrefix(line, "data: ")), &notice)
	assert.Equal(t, "snap", notice.Kind)
	assert.Equal(t, 64, notice.Width)
	assert.Equal(t, 48, notice.Height)
}

// sseReader yields non-empty lines from an event stream.
type sseReader struct {
	body io.Reader
	buf  []byte
}

func newSSEReader(body io.Reader) *sseReader { return &sseReader{body: body} }

func (r *sseReader) next() (string, error) {
	for {
		if i := bytes.IndexByte(r.buf, '\n'); i >= 0 {
			line := strings.TrimRight(string(r.buf[:i]), "\r")
			r.buf = r.buf[i+1:]
			if line != "" {
				return line, nil
			}
			continue
		}
		chunk := make([]byte, 512)
		n, err := r.body.Read(chunk)
		if n > 0 {
			r.buf = append(r.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return "", err
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	fx := newTestServer(t)

	for _, path := range []string{"/api/snap", "/api/live/start", "/api/live/stop", "/api/mda/run", "/api/mda/pause"} {
		resp, _ := fx.get(t, path)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "GET %s", path)
	}
	req, err := http.NewRequest(http.MethodDelete, fx.srv.URL+"/api/exposure", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
