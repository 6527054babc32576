package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/fieldscan/fieldscan/internal/camera"
	"github.com/fieldscan/fieldscan/internal/config"
	"github.com/fieldscan/fieldscan/internal/frame"
	"github.com/fieldscan/fieldscan/internal/rig"
)

// fakeDriver registers as "synth" so the default config resolves it.
type fakeDriver struct {
	devices []camera.DeviceInfo
}

func (d *fakeDriver) Name() string    { return "synth" }
func (d *fakeDriver) Available() bool { return true }

func (d *fakeDriver) Devices() ([]camera.DeviceInfo, error) {
	return d.devices, nil
}

func (d *fakeDriver) Open(id string, opts camera.SessionOptions) (camera.Session, error) {
	return &fakeSession{
		device: d.devices[0],
		last:   make(map[frame.Stream]time.Time),
		seq:    make(map[frame.Stream]uint64),
	}, nil
}

// fakeSession delivers tiny frames for the three source streams, paced so
// the acquisition loop does not spin.
type fakeSession struct {
	device camera.DeviceInfo

	mu     sync.Mutex
	closed bool
	last   map[frame.Stream]time.Time
	seq    map[frame.Stream]uint64
}

func (s *fakeSession) Streams() []frame.Stream {
	return []frame.Stream{frame.StreamRGB, frame.StreamDepthRaw, frame.StreamIR}
}

func (s *fakeSession) Device() camera.DeviceInfo { return s.device }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) TryNext(stream frame.Stream) (*frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	if last, ok := s.last[stream]; ok && time.Since(last) < 10*time.Millisecond {
		return nil, false
	}

	var f *frame.Frame
	switch stream {
	case frame.StreamRGB:
		f = frame.New(frame.StreamRGB, 64, 48, frame.FormatRGB8)
	case frame.StreamDepthRaw:
		f = frame.New(frame.StreamDepthRaw, 64, 48, frame.FormatGray16)
		for i := 0; i < len(f.Data); i += 2 {
			f.Data[i+1] = byte(i % 200)
		}
	case frame.StreamIR:
		f = frame.New(frame.StreamIR, 64, 48, frame.FormatGray8)
	default:
		return nil, false
	}

	s.last[stream] = time.Now()
	s.seq[stream]++
	f.Seq = s.seq[stream]
	f.Timestamp = time.Now()
	return f, true
}

type apiHarness struct {
	t   *testing.T
	cfg *config.Manager
	rig *rig.Manager
	srv *Server
	ts  *httptest.Server
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	root := t.TempDir()
	cfg, err := config.NewManager(filepath.Join(root, "config.yaml"))
	require.NoError(t, err)

	c := cfg.Get()
	c.Storage.BasePath = filepath.Join(root, "captures")
	c.GPS.Enabled = false
	require.NoError(t, cfg.Update(c))

	drv := &fakeDriver{
		devices: []camera.DeviceInfo{{ID: "cam-0", Name: "Fake stereo pair", Driver: "synth"}},
	}
	rigMgr := rig.NewManager(cfg, camera.NewRegistry(drv))
	srv := NewServer(rigMgr, cfg)
	ts := httptest.NewServer(srv.enableCORS(srv.router))

	t.Cleanup(func() {
		srv.hub.close()
		ts.Close()
		if rigMgr.Running() {
			rigMgr.Stop()
		}
	})

	return &apiHarness{t: t, cfg: cfg, rig: rigMgr, srv: srv, ts: ts}
}

// request performs one API call and returns the status code and raw body.
func (h *apiHarness) request(method, path string, body any) (int, []byte) {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, reader)
	require.NoError(h.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp.StatusCode, data
}

func (h *apiHarness) status() rig.Status {
	h.t.Helper()
	code, body := h.request("GET", "/api/status", nil)
	require.Equal(h.t, http.StatusOK, code)

	var st rig.Status
	require.NoError(h.t, json.Unmarshal(body, &st))
	return st
}

func (h *apiHarness) startRig() {
	h.t.Helper()
	code, _ := h.request("POST", "/api/start", nil)
	require.Equal(h.t, http.StatusOK, code)
}

func (h *apiHarness) waitFrames() {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.rig.Bundle()) == len(frame.Streams())
	}, 3*time.Second, 10*time.Millisecond)
}

func errorMessage(t *testing.T, body []byte) string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload["error"]
}

func TestHealthAndIndex(t *testing.T) {
	h := newAPIHarness(t)

	code, body := h.request("GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, code)
	var health map[string]string
	require.NoError(t, json.Unmarshal(body, &health))
	require.Equal(t, "healthy", health["status"])
	require.NotEmpty(t, health["version"])

	resp, err := http.Get(h.ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(page), "FieldScan")

	resp, err = http.Get(h.ts.URL + "/no-such-page")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLifecycleEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	code, body := h.request("POST", "/api/stop", nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "system not running", errorMessage(t, body))

	h.startRig()

	code, body = h.request("POST", "/api/start", nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "system already running", errorMessage(t, body))

	st := h.status()
	require.True(t, st.Running)
	require.NotEmpty(t, st.SessionID)
	require.NotNil(t, st.Device)
	require.Equal(t, "cam-0", st.Device.ID)

	code, _ = h.request("POST", "/api/stop", nil)
	require.Equal(t, http.StatusOK, code)
	require.False(t, h.status().Running)
}

func TestTriggerEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	code, _ := h.request("POST", "/api/trigger", map[string]any{
		"mode": "banana", "interval_seconds": 5, "distance_meters": 10,
	})
	require.Equal(t, http.StatusBadRequest, code)

	req, err := http.NewRequest("POST", h.ts.URL+"/api/trigger", strings.NewReader("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	code, _ = h.request("POST", "/api/trigger", map[string]any{
		"mode": "distance", "interval_seconds": 5, "distance_meters": 12.5,
	})
	require.Equal(t, http.StatusOK, code)

	st := h.status()
	require.Equal(t, "distance", string(st.Capture.Mode))
	require.Equal(t, 12.5, st.Capture.DistanceMeters)
	require.Equal(t, "distance", h.cfg.Get().Trigger.Mode)
}

func TestRecordingEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	h.startRig()

	code, body := h.request("POST", "/api/recording", map[string]any{
		"continuous": false, "video": true,
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "video recording requires continuous mode", errorMessage(t, body))

	code, _ = h.request("POST", "/api/recording", map[string]any{
		"continuous": false, "video": false,
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "recording_interval", string(h.status().Capture.State))

	code, body = h.request("POST", "/api/recording", map[string]any{
		"continuous": false, "video": false,
	})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "recording already active", errorMessage(t, body))

	code, _ = h.request("DELETE", "/api/recording", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "armed", string(h.status().Capture.State))

	// stopping an already stopped recording is a no-op
	code, _ = h.request("DELETE", "/api/recording", nil)
	require.Equal(t, http.StatusOK, code)
}

func TestCaptureEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	code, body := h.request("POST", "/api/capture", nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "system not running", errorMessage(t, body))

	h.startRig()
	h.waitFrames()

	code, body = h.request("POST", "/api/capture", nil)
	require.Equal(t, http.StatusOK, code)

	var result struct {
		Status string   `json:"status"`
		Paths  []string `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	require.Equal(t, "success", result.Status)
	require.Len(t, result.Paths, 8)
}

func TestStreamEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	code, _ := h.request("GET", "/api/stream/thermal", nil)
	require.Equal(t, http.StatusNotFound, code)

	h.startRig()
	h.waitFrames()

	resp, err := http.Get(h.ts.URL + "/api/stream/rgb")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "--frame", strings.TrimSpace(line))

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "Content-Type: image/jpeg", strings.TrimSpace(line))

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "Content-Length: "))

	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	// JPEG start-of-image marker
	marker := make([]byte, 2)
	_, err = io.ReadFull(reader, marker)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xd8}, marker)
}

func TestEventsWebSocket(t *testing.T) {
	h := newAPIHarness(t)
	h.startRig()

	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/api/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var st rig.Status
	require.NoError(t, json.Unmarshal(payload, &st))
	require.True(t, st.Running)
	require.Equal(t, "cam-0", st.Device.ID)
}

func TestDeviceEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	code, body := h.request("GET", "/api/devices", nil)
	require.Equal(t, http.StatusOK, code)
	var devices []camera.DeviceInfo
	require.NoError(t, json.Unmarshal(body, &devices))
	require.Len(t, devices, 1)
	require.Equal(t, "cam-0", devices[0].ID)

	code, body = h.request("POST", "/api/devices/refresh", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &devices))
	require.Len(t, devices, 1)

	code, _ = h.request("POST", "/api/device", map[string]string{"driver": "banana"})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = h.request("POST", "/api/device", map[string]string{
		"driver": "uvc", "device_id": "cam-9",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "uvc", h.cfg.Get().Camera.Driver)
	require.Equal(t, "cam-9", h.cfg.Get().Camera.DeviceID)
}

func TestConfigEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	code, body := h.request("GET", "/api/config", nil)
	require.Equal(t, http.StatusOK, code)
	var cfg config.Config
	require.NoError(t, json.Unmarshal(body, &cfg))
	require.Equal(t, config.DefaultPort, cfg.ServerPort)

	cfg.Storage.JPEGQuality = 500
	code, _ = h.request("PUT", "/api/config", cfg)
	require.Equal(t, http.StatusBadRequest, code)

	cfg.Storage.JPEGQuality = 50
	code, _ = h.request("PUT", "/api/config", cfg)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 50, h.cfg.Get().Storage.JPEGQuality)
}

func TestMaskSaveDirGPSEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	code, _ := h.request("POST", "/api/mask", map[string]int{"x1": -1, "y1": 0, "x2": 5, "y2": 5})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = h.request("POST", "/api/mask", map[string]int{"x1": 10, "y1": 10, "x2": 50, "y2": 40})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, config.MaskConfig{X1: 10, Y1: 10, X2: 50, Y2: 40}, h.cfg.Get().Camera.Mask)

	code, _ = h.request("POST", "/api/savedir", map[string]string{"path": ""})
	require.Equal(t, http.StatusBadRequest, code)

	newDir := filepath.Join(t.TempDir(), "elsewhere")
	code, _ = h.request("POST", "/api/savedir", map[string]string{"path": newDir})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, newDir, h.cfg.Get().Storage.BasePath)

	code, _ = h.request("POST", "/api/gps", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, code)
	require.True(t, h.cfg.Get().GPS.Enabled)
}

func TestCORSHeaders(t *testing.T) {
	h := newAPIHarness(t)

	req, err := http.NewRequest("OPTIONS", h.ts.URL+"/api/status", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
