package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCommandAppendsTerminator(t *testing.T) {
	port := NewMockPeripheralPort()
	mux := NewPeripheralMux(port)

	require.NoError(t, mux.SendCommand("SH 1"))
	require.NoError(t, mux.SendCommand("SH 0\n"))
	assert.Equal(t, "SH 1\nSH 0\n", port.Commands())
}

func TestInitializeSendsSetupCommands(t *testing.T) {
	port := NewMockPeripheralPort()
	mux := NewPeripheralMux(port)

	require.NoError(t, mux.Initialize())
	got := port.Commands()
	for _, cmd := range []string{"VB 1\n", "RM 1\n", "MC 1\n"} {
		assert.Contains(t, got, cmd)
	}
}

func TestMonitorFansOutLines(t *testing.T) {
	port := NewMockPeripheralPort()
	mux := NewPeripheralMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitorDone := make(chan error, 1)
	go func() { monitorDone <- mux.Monitor(ctx) }()

	_, ch := mux.Subscribe()
	got := make(chan string, 1)
	go func() {
		line, ok := <-ch
		if ok {
			got <- line
		}
	}()
	// let the receiver park on the channel before the line arrives;
	// Monitor drops lines for subscribers that are not ready
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, port.FeedLine(":A X=100 Y=200"))
	select {
	case line := <-got:
		assert.Equal(t, ":A X=100 Y=200", line)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the controller line")
	}

	cancel()
	select {
	case err := <-monitorDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	mux := NewPeripheralMux(NewMockPeripheralPort())

	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)

	// unknown IDs are ignored
	mux.Unsubscribe("deadbeef")
}

func TestCloseClosesSubscribers(t *testing.T) {
	port := NewMockPeripheralPort()
	mux := NewPeripheralMux(port)

	_, ch := mux.Subscribe()
	require.NoError(t, mux.Close())
	_, ok := <-ch
	assert.False(t, ok)

	// writes after close fail
	assert.Error(t, mux.SendCommand("SH 1"))
}

func TestAdminSendCommand(t *testing.T) {
	port := NewMockPeripheralPort()
	pmux := NewPeripheralMux(port)

	hmux := http.NewServeMux()
	pmux.AttachAdminRoutes(hmux)
	srv := httptest.NewServer(hmux)
	defer srv.Close()

	resp, err := http.PostForm(srv.URL+"/debug/send-command", url.Values{"command": {"W X=0 Y=0"}})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "W X=0 Y=0\n", port.Commands())

	// missing command rejected
	resp, err = http.PostForm(srv.URL+"/debug/send-command", url.Values{})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// GET not allowed
	resp, err = http.Get(srv.URL + "/debug/send-command")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPortOptionsNormalize(t *testing.T) {
	var opts PortOptions
	require.NoError(t, opts.Normalize())
	assert.Equal(t, 115200, opts.BaudRate)
	assert.Equal(t, 8, opts.DataBits)

	bad := PortOptions{DataBits: 3}
	assert.Error(t, bad.Normalize())
}

func TestParseConfigFileSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/system.cfg"
	cfg := strings.Join([]string{
		"# header comment",
		"",
		"Device,Cam,DemoCamera,DCam",
		"Device,broken",
		"Property,Cam,Binning,1",
		"Frobnicate,Cam,1",
		"Property,Core,Camera,Cam",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	parsed, err := ParseConfigFile(path)
	require.NoError(t, err)
	require.Len(t, parsed.Devices, 1)
	assert.Equal(t, "Cam", parsed.Devices[0].Label)
	require.Len(t, parsed.Properties, 2)
	assert.Equal(t, "Binning", parsed.Properties[0].Property)

	_, err = ParseConfigFile(dir + "/nope.cfg")
	assert.Error(t, err)
}
