// Package rig wires the camera session, the location reader, the frame
// pipeline and the capture engine into one controllable unit. The manager
// is what the control surface talks to: everything an operator can do maps
// to a method here.
package rig

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldscan/fieldscan/internal/camera"
	"github.com/fieldscan/fieldscan/internal/capture"
	"github.com/fieldscan/fieldscan/internal/config"
	"github.com/fieldscan/fieldscan/internal/frame"
	"github.com/fieldscan/fieldscan/internal/gps"
	"github.com/fieldscan/fieldscan/internal/logger"
	"github.com/fieldscan/fieldscan/internal/metrics"
	"github.com/fieldscan/fieldscan/internal/motion"
	"github.com/fieldscan/fieldscan/internal/storage"
)

const (
	// acqJoinTimeout bounds how long Stop waits for the acquisition loop.
	acqJoinTimeout = 2 * time.Second

	// acqIdleSleep paces the acquisition sweep when no stream had a new
	// frame. Sessions pace themselves, so this only bounds the polling rate.
	acqIdleSleep = time.Millisecond
)

var (
	// ErrAlreadyRunning is returned by Start on a started rig.
	ErrAlreadyRunning = errors.New("system already running")
	// ErrNotRunning is shared with the capture engine so callers can match
	// either layer's refusal with one sentinel.
	ErrNotRunning = capture.ErrNotRunning
)

// Manager owns the running rig. Construction is cheap; Start opens the
// devices and launches the loops, Stop tears everything down again. The
// zero rig is stopped.
type Manager struct {
	cfg      *config.Manager
	registry *camera.Registry
	log      *zerolog.Logger

	// gpsHolder and filter outlive individual starts so the control surface
	// can report the last known fix and the motion baseline stays coherent
	// across a quick stop/start.
	gpsHolder *gps.Holder
	filter    *motion.Filter

	// holders carry the latest processed frame per stream. The acquisition
	// loop is the sole writer; published frames are immutable.
	holders map[frame.Stream]*atomic.Pointer[frame.Frame]
	mask    atomic.Pointer[frame.Rect]

	mu        sync.Mutex
	running   bool
	sessionID string
	session   camera.Session
	gpsReader *gps.Reader
	gpsActive bool
	sink      *storage.Sink
	video     *storage.VideoRecorder
	engine    *capture.Engine

	acqStop chan struct{}
	acqDone chan struct{}
}

// NewManager builds a stopped rig over the given configuration and camera
// registry.
func NewManager(cfg *config.Manager, registry *camera.Registry) *Manager {
	holders := make(map[frame.Stream]*atomic.Pointer[frame.Frame], len(frame.Streams()))
	for _, s := range frame.Streams() {
		holders[s] = &atomic.Pointer[frame.Frame]{}
	}

	c := cfg.Get()
	m := &Manager{
		cfg:       cfg,
		registry:  registry,
		log:       logger.WithComponent("rig"),
		gpsHolder: &gps.Holder{},
		filter:    motion.NewFilter(c.Trigger.MotionThresholdDegrees),
		holders:   holders,
	}
	m.storeMask(c.Camera.Mask)
	return m
}

func (m *Manager) storeMask(mc config.MaskConfig) {
	r := frame.Rect{X1: mc.X1, Y1: mc.Y1, X2: mc.X2, Y2: mc.Y2}
	m.mask.Store(&r)
}

func (m *Manager) maskRect() frame.Rect {
	if r := m.mask.Load(); r != nil {
		return *r
	}
	return frame.Rect{}
}

// Start opens the location reader and the camera, then arms the capture
// engine. A camera failure aborts the start and unwinds what was already
// opened; a location failure is logged and the rig runs without fixes.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}

	cfg := m.cfg.Get()
	m.storeMask(cfg.Camera.Mask)
	m.filter.SetThreshold(cfg.Trigger.MotionThresholdDegrees)
	m.filter.Reset()

	var reader *gps.Reader
	if cfg.GPS.Enabled {
		reader = gps.NewReader(gps.Config{Port: cfg.GPS.Port, Baud: cfg.GPS.Baud}, m.gpsHolder)
		if err := reader.Start(); err != nil {
			m.log.Warn().Err(err).Msg("Location source unavailable, continuing without fixes")
			reader = nil
		}
	}

	session, err := m.registry.Open(cfg.Camera.Driver, cfg.Camera.DeviceID, camera.SessionOptions{
		FPS:                 cfg.Camera.FPS,
		Width:               cfg.Camera.Width,
		Height:              cfg.Camera.Height,
		ContinuousAutofocus: true,
		AutoExposure:        true,
		AutoWhiteBalance:    true,
	})
	if err != nil {
		if reader != nil {
			reader.Stop()
		}
		return fmt.Errorf("failed to open camera: %w", err)
	}

	sink := storage.NewSink(storage.Config{
		BasePath:    cfg.Storage.BasePath,
		JPEGQuality: cfg.Storage.JPEGQuality,
	})
	video := storage.NewVideoRecorder(storage.VideoConfig{
		BasePath:    cfg.Storage.BasePath,
		FPS:         cfg.Recording.VideoFPS,
		JPEGQuality: cfg.Storage.JPEGQuality,
	})
	engine := capture.NewEngine(capture.Config{Settings: triggerSettings(cfg.Trigger)}, sink, video, m.filter, capture.Sources{
		Frames:     m.Bundle,
		Fix:        m.gpsHolder.Get,
		GPSEnabled: func() bool { return m.cfg.Get().GPS.Enabled },
	})

	for _, h := range m.holders {
		h.Store(nil)
	}

	acqStop := make(chan struct{})
	acqDone := make(chan struct{})
	go m.acquire(session, acqStop, acqDone)

	if err := engine.Start(); err != nil {
		close(acqStop)
		<-acqDone
		session.Close()
		if reader != nil {
			reader.Stop()
		}
		return fmt.Errorf("failed to start capture engine: %w", err)
	}

	m.sessionID = uuid.NewString()
	m.session = session
	m.gpsReader = reader
	m.gpsActive = reader != nil
	m.sink = sink
	m.video = video
	m.engine = engine
	m.acqStop = acqStop
	m.acqDone = acqDone
	m.running = true

	dev := session.Device()
	m.log.Info().
		Str("session", m.sessionID).
		Str("driver", dev.Driver).
		Str("device", dev.ID).
		Bool("gps", m.gpsActive).
		Msg("Rig started")
	return nil
}

// Stop ends any recording, halts the loops and closes the devices. The
// last fix and the motion baseline are cleared with the location reader.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrNotRunning
	}

	m.engine.Stop()

	close(m.acqStop)
	select {
	case <-m.acqDone:
	case <-time.After(acqJoinTimeout):
		m.log.Warn().Msg("Acquisition loop did not exit before timeout, proceeding with shutdown")
	}

	if err := m.session.Close(); err != nil {
		m.log.Error().Err(err).Msg("Failed to close camera session")
	}
	if m.gpsReader != nil {
		m.gpsReader.Stop()
	}
	m.gpsHolder.Clear()

	for _, h := range m.holders {
		h.Store(nil)
	}

	m.sessionID = ""
	m.session = nil
	m.gpsReader = nil
	m.gpsActive = false
	m.sink = nil
	m.video = nil
	m.engine = nil
	m.running = false

	m.log.Info().Msg("Rig stopped")
	return nil
}

// Running reports whether the rig is started.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// acquire sweeps the session's streams, runs each new frame through the
// processing pipeline and publishes it. One goroutine per start.
func (m *Manager) acquire(session camera.Session, stop, done chan struct{}) {
	defer close(done)

	streams := session.Streams()
	for {
		select {
		case <-stop:
			return
		default:
		}

		delivered := false
		for _, s := range streams {
			f, ok := session.TryNext(s)
			if !ok {
				continue
			}
			delivered = true
			m.publish(f)
		}
		if !delivered {
			time.Sleep(acqIdleSleep)
		}
	}
}

// publish runs per-stream processing and stores the result. Raw depth also
// yields the colorized depth view; the colormap is computed before masking
// so blacked-out pixels do not skew the normalization range. Frames are
// mutated here and nowhere else, a stored frame is immutable.
func (m *Manager) publish(f *frame.Frame) {
	mask := m.maskRect()
	switch f.Stream {
	case frame.StreamDepthRaw:
		depth := frame.ColorizeDepth(f)
		frame.ApplyMask(depth, mask)
		m.store(depth)
		frame.ApplyMask(f, mask)
		m.store(f)
	case frame.StreamIR:
		frame.EqualizeHist(f)
		frame.ApplyMask(f, mask)
		m.store(f)
	default:
		frame.ApplyMask(f, mask)
		m.store(f)
	}
}

func (m *Manager) store(f *frame.Frame) {
	h, ok := m.holders[f.Stream]
	if !ok {
		return
	}
	h.Store(f)
	metrics.FramesAcquired.WithLabelValues(string(f.Stream)).Inc()
}

// Bundle snapshots the latest frame per stream. Streams that have not
// delivered yet are absent.
func (m *Manager) Bundle() frame.Bundle {
	b := make(frame.Bundle, len(m.holders))
	for s, h := range m.holders {
		if f := h.Load(); f != nil {
			b[s] = f
		}
	}
	return b
}

// Frame returns the latest frame for one stream, nil when none has arrived
// or the stream is unknown.
func (m *Manager) Frame(stream frame.Stream) *frame.Frame {
	h, ok := m.holders[stream]
	if !ok {
		return nil
	}
	return h.Load()
}

func (m *Manager) engineRef() *capture.Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine
}

// StartRecording begins automatic capture. Continuous recording saves every
// moving tick; withVideo additionally requires continuous mode and appends
// to per-stream AVI files instead of writing stills.
func (m *Manager) StartRecording(continuous, withVideo bool) error {
	e := m.engineRef()
	if e == nil {
		return ErrNotRunning
	}
	return e.StartRecording(continuous, withVideo)
}

// StopRecording ends automatic capture and finalizes any open video files.
func (m *Manager) StopRecording() error {
	e := m.engineRef()
	if e == nil {
		return ErrNotRunning
	}
	return e.StopRecording()
}

// CaptureNow saves the current frames immediately regardless of motion and
// trigger state. Returns the written file paths.
func (m *Manager) CaptureNow() ([]string, error) {
	e := m.engineRef()
	if e == nil {
		return nil, ErrNotRunning
	}
	return e.CaptureNow()
}

// SetTrigger validates, persists and applies new trigger parameters. A
// running engine picks them up on its next tick.
func (m *Manager) SetTrigger(t config.TriggerConfig) error {
	if err := m.cfg.SetTrigger(t); err != nil {
		return err
	}
	applied := m.cfg.Get().Trigger
	m.filter.SetThreshold(applied.MotionThresholdDegrees)
	if e := m.engineRef(); e != nil {
		return e.SetTrigger(triggerSettings(applied))
	}
	return nil
}

// SetMask persists a new blackout rectangle and applies it to all frames
// published from now on. Frames already captured keep the old mask.
func (m *Manager) SetMask(mask config.MaskConfig) error {
	if err := m.cfg.SetMask(mask); err != nil {
		return err
	}
	m.storeMask(mask)
	return nil
}

// SetSaveDir persists a new capture directory and redirects the running
// sink and recorder. Video files already open finish where they started.
func (m *Manager) SetSaveDir(path string) error {
	if err := m.cfg.SetSavePath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sink != nil {
		m.sink.SetBasePath(path)
	}
	if m.video != nil {
		m.video.SetBasePath(path)
	}
	return nil
}

// SetGPSEnabled persists the toggle and, on a running rig, starts or stops
// the location reader. Disabling clears the fix and the motion baseline so
// a later enable starts clean.
func (m *Manager) SetGPSEnabled(enabled bool) error {
	if err := m.cfg.SetGPSEnabled(enabled); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}

	if enabled {
		if m.gpsReader != nil {
			return nil
		}
		cfg := m.cfg.Get()
		reader := gps.NewReader(gps.Config{Port: cfg.GPS.Port, Baud: cfg.GPS.Baud}, m.gpsHolder)
		if err := reader.Start(); err != nil {
			return fmt.Errorf("failed to start location reader: %w", err)
		}
		m.gpsReader = reader
		m.gpsActive = true
		return nil
	}

	if m.gpsReader != nil {
		m.gpsReader.Stop()
		m.gpsReader = nil
	}
	m.gpsActive = false
	m.gpsHolder.Clear()
	m.filter.Reset()
	return nil
}

// Devices enumerates openable camera devices across all drivers.
func (m *Manager) Devices() []camera.DeviceInfo {
	return m.registry.Devices()
}

// SelectDevice persists a new camera selection. It takes effect on the
// next start; a running session is not interrupted.
func (m *Manager) SelectDevice(driver, deviceID string) error {
	return m.cfg.SetDevice(driver, deviceID)
}

// GPSStatus describes the location source for the control surface.
type GPSStatus struct {
	Enabled           bool     `json:"enabled"`
	Active            bool     `json:"active"`
	Fix               *gps.Fix `json:"fix,omitempty"`
	SentencesAccepted uint64   `json:"sentences_accepted"`
	ParseFailures     uint64   `json:"parse_failures"`
}

// Status is the full rig state snapshot served by the control surface.
type Status struct {
	Running   bool               `json:"running"`
	SessionID string             `json:"session_id,omitempty"`
	Device    *camera.DeviceInfo `json:"device,omitempty"`
	Capture   capture.Status     `json:"capture"`
	GPS       GPSStatus          `json:"gps"`
	SaveDir   string             `json:"save_dir"`
	Mask      config.MaskConfig  `json:"mask"`
}

// Status snapshots the rig. Safe to call in any state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.cfg.Get()
	st := Status{
		Running:   m.running,
		SessionID: m.sessionID,
		SaveDir:   cfg.Storage.BasePath,
		Mask:      cfg.Camera.Mask,
		GPS: GPSStatus{
			Enabled: cfg.GPS.Enabled,
			Active:  m.gpsActive,
			Fix:     m.gpsHolder.Get(),
		},
	}

	if m.engine != nil {
		st.Capture = m.engine.Status()
	} else {
		st.Capture = capture.Status{
			State:           capture.StateIdle,
			Mode:            capture.Mode(cfg.Trigger.Mode),
			IntervalSeconds: cfg.Trigger.IntervalSeconds,
			DistanceMeters:  cfg.Trigger.DistanceMeters,
		}
	}
	if m.session != nil {
		dev := m.session.Device()
		st.Device = &dev
	}
	if m.sink != nil {
		st.SaveDir = m.sink.BasePath()
	}
	if m.gpsReader != nil {
		st.GPS.SentencesAccepted, st.GPS.ParseFailures = m.gpsReader.Stats()
	}
	return st
}

// triggerSettings converts persisted trigger parameters to engine settings.
func triggerSettings(t config.TriggerConfig) capture.Settings {
	return capture.Settings{
		Mode:           capture.Mode(t.Mode),
		Interval:       time.Duration(t.IntervalSeconds * float64(time.Second)),
		DistanceMeters: t.DistanceMeters,
	}
}
