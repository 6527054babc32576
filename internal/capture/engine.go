package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldscan/fieldscan/internal/frame"
	"github.com/fieldscan/fieldscan/internal/gps"
	"github.com/fieldscan/fieldscan/internal/logger"
	"github.com/fieldscan/fieldscan/internal/metrics"
	"github.com/fieldscan/fieldscan/internal/motion"
	"github.com/fieldscan/fieldscan/internal/storage"
)

// Mode selects how automatic captures are triggered while recording.
type Mode string

const (
	// ModeTime triggers a capture when the configured interval has elapsed
	// since the last successful capture.
	ModeTime Mode = "time"
	// ModeDistance triggers a capture when the rig has travelled the
	// configured distance since the last successful capture.
	ModeDistance Mode = "distance"
)

// ParseMode validates a mode string from config or the control surface.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTime, ModeDistance:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown trigger mode %q", s)
	}
}

// State is the engine's position in the capture lifecycle.
type State string

const (
	StateIdle                State = "idle"
	StateArmed               State = "armed"
	StateRecordingInterval   State = "recording_interval"
	StateRecordingContinuous State = "recording_continuous"
)

const (
	// DefaultTickInterval is the cadence of the policy loop.
	DefaultTickInterval = 100 * time.Millisecond

	// loopJoinTimeout bounds how long Stop waits for the policy loop to exit.
	loopJoinTimeout = 2 * time.Second
)

// Sentinel errors the control surface maps to client-facing status codes.
var (
	ErrNotRunning           = errors.New("system not running")
	ErrAlreadyRecording     = errors.New("recording already active")
	ErrVideoNeedsContinuous = errors.New("video recording requires continuous mode")
)

// Settings are the trigger parameters. Both thresholds must be positive so
// that switching modes mid-run never activates an unset value.
type Settings struct {
	Mode           Mode
	Interval       time.Duration
	DistanceMeters float64
}

// DefaultSettings returns the trigger parameters used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		Mode:           ModeTime,
		Interval:       30 * time.Second,
		DistanceMeters: 25,
	}
}

func (s Settings) validate() error {
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	if s.Interval <= 0 {
		return fmt.Errorf("trigger interval must be positive, got %s", s.Interval)
	}
	if s.DistanceMeters <= 0 {
		return fmt.Errorf("trigger distance must be positive, got %gm", s.DistanceMeters)
	}
	return nil
}

// Sources supplies the engine's view of shared rig state. Frames returns a
// snapshot of the latest processed frame per stream, Fix the latest location
// fix or nil, and GPSEnabled whether a location source is configured at all
// (distinguishes the "disabled" and "no fix" metadata markers).
type Sources struct {
	Frames     func() frame.Bundle
	Fix        func() *gps.Fix
	GPSEnabled func() bool
}

// Config carries the engine's construction parameters.
type Config struct {
	Settings     Settings
	TickInterval time.Duration
}

// Engine runs the capture policy loop: a fixed-cadence tick that evaluates
// the motion filter and the configured trigger, snapshots the latest frames
// and persists them. It owns the recording state machine; the rig starts and
// stops it alongside the camera and location sources.
type Engine struct {
	sink   *storage.Sink
	video  *storage.VideoRecorder
	motion *motion.Filter
	src    Sources
	log    *zerolog.Logger

	tickInterval time.Duration
	now          func() time.Time

	mu        sync.Mutex
	state     State
	settings  Settings
	withVideo bool

	// Baselines for the automatic trigger. Both reset when a recording
	// starts, so the first tick of a fresh recording always triggers.
	lastCaptureAt  time.Time
	lastCaptureFix *gps.Fix
	captures       uint64

	stopChan chan struct{}
	done     chan struct{}
}

// NewEngine creates an engine in the Idle state. Invalid settings fall back
// to defaults; use SetTrigger for strict validation of user input.
func NewEngine(cfg Config, sink *storage.Sink, video *storage.VideoRecorder, filter *motion.Filter, src Sources) *Engine {
	settings := cfg.Settings
	if settings.validate() != nil {
		settings = DefaultSettings()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	if src.Frames == nil {
		src.Frames = func() frame.Bundle { return nil }
	}
	if src.Fix == nil {
		src.Fix = func() *gps.Fix { return nil }
	}
	if src.GPSEnabled == nil {
		src.GPSEnabled = func() bool { return false }
	}
	return &Engine{
		sink:         sink,
		video:        video,
		motion:       filter,
		src:          src,
		log:          logger.WithComponent("capture"),
		tickInterval: tick,
		now:          time.Now,
		state:        StateIdle,
		settings:     settings,
	}
}

// Start arms the engine and launches the policy loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return fmt.Errorf("capture engine already running")
	}

	e.stopChan = make(chan struct{})
	e.done = make(chan struct{})
	e.state = StateArmed

	go e.run(e.stopChan, e.done)

	e.log.Info().
		Str("mode", string(e.settings.Mode)).
		Dur("interval", e.settings.Interval).
		Float64("distance_m", e.settings.DistanceMeters).
		Dur("tick", e.tickInterval).
		Msg("Capture engine armed")
	return nil
}

// Stop ends any active recording, halts the policy loop and returns the
// engine to Idle. The loop join is bounded; a persist in flight is allowed
// to finish but Stop will not wait forever for it.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateIdle {
		e.mu.Unlock()
		return
	}
	e.stopRecordingLocked()
	e.state = StateIdle
	stopChan, done := e.stopChan, e.done
	e.mu.Unlock()

	close(stopChan)
	select {
	case <-done:
	case <-time.After(loopJoinTimeout):
		e.log.Warn().Msg("Policy loop did not exit before timeout, proceeding with shutdown")
	}
	e.log.Info().Msg("Capture engine stopped")
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// StartRecording transitions from Armed to one of the recording states.
// The video flag opens one writer per 8-bit stream immediately, using the
// geometry of the current frames, so it requires at least one frame to have
// arrived and is only meaningful in continuous mode.
func (e *Engine) StartRecording(continuous, withVideo bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateIdle:
		return ErrNotRunning
	case StateRecordingInterval, StateRecordingContinuous:
		return ErrAlreadyRecording
	}
	if withVideo && !continuous {
		return ErrVideoNeedsContinuous
	}

	if withVideo {
		sizes := make(map[frame.Stream]image.Point)
		bundle := e.src.Frames()
		for _, stream := range bundle.Ordered() {
			f := bundle[stream]
			if f.Format == frame.FormatGray16 {
				continue
			}
			sizes[stream] = image.Pt(f.Width, f.Height)
		}
		if err := e.video.Start(e.now(), sizes); err != nil {
			return fmt.Errorf("failed to start video recording: %w", err)
		}
	}

	e.lastCaptureAt = time.Time{}
	e.lastCaptureFix = nil
	e.withVideo = withVideo
	if continuous {
		e.state = StateRecordingContinuous
	} else {
		e.state = StateRecordingInterval
	}

	e.log.Info().
		Bool("continuous", continuous).
		Bool("video", withVideo).
		Str("mode", string(e.settings.Mode)).
		Msg("Recording started")
	return nil
}

// StopRecording returns the engine to Armed and releases any video writers.
// Calling it while not recording is a no-op.
func (e *Engine) StopRecording() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopRecordingLocked()
}

func (e *Engine) stopRecordingLocked() error {
	if e.state != StateRecordingInterval && e.state != StateRecordingContinuous {
		return nil
	}
	e.state = StateArmed
	e.withVideo = false
	if err := e.video.Stop(); err != nil {
		e.log.Error().Err(err).Msg("Failed to finalize video recording")
		return err
	}
	e.log.Info().Msg("Recording stopped")
	return nil
}

// SetTrigger replaces the trigger parameters. The change takes effect on the
// next tick; accumulated time and distance baselines are deliberately kept.
func (e *Engine) SetTrigger(settings Settings) error {
	if err := settings.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()

	e.log.Info().
		Str("mode", string(settings.Mode)).
		Dur("interval", settings.Interval).
		Float64("distance_m", settings.DistanceMeters).
		Msg("Trigger settings updated")
	return nil
}

// Settings returns the current trigger parameters.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// CaptureNow persists the latest frames immediately, bypassing the motion
// filter and trigger evaluation. The capture is tagged as manual and leaves
// the automatic trigger's baselines untouched.
func (e *Engine) CaptureNow() ([]string, error) {
	e.mu.Lock()
	if e.state == StateIdle {
		e.mu.Unlock()
		return nil, ErrNotRunning
	}
	e.mu.Unlock()

	now := e.now()
	paths, err := e.sink.SaveBundle(e.src.Frames(), e.src.Fix(), e.src.GPSEnabled(), now, storage.CaptureManual)
	if err != nil {
		metrics.Captures.WithLabelValues(storage.CaptureManual, "error").Inc()
		return nil, err
	}
	metrics.Captures.WithLabelValues(storage.CaptureManual, "ok").Inc()

	e.mu.Lock()
	e.captures++
	e.mu.Unlock()

	e.log.Info().Int("artifacts", len(paths)).Msg("Manual capture saved")
	return paths, nil
}

// Status is a snapshot of the engine state for the control surface.
type Status struct {
	State           State      `json:"state"`
	Mode            Mode       `json:"mode"`
	IntervalSeconds float64    `json:"interval_seconds"`
	DistanceMeters  float64    `json:"distance_meters"`
	VideoEnabled    bool       `json:"video_enabled"`
	VideoPaths      []string   `json:"video_paths,omitempty"`
	LastCaptureAt   *time.Time `json:"last_capture_at,omitempty"`
	Captures        uint64     `json:"captures"`
}

// Status returns a snapshot of the engine's state and counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State:           e.state,
		Mode:            e.settings.Mode,
		IntervalSeconds: e.settings.Interval.Seconds(),
		DistanceMeters:  e.settings.DistanceMeters,
		VideoEnabled:    e.withVideo,
		Captures:        e.captures,
	}
	if e.withVideo {
		st.VideoPaths = e.video.Paths()
	}
	if !e.lastCaptureAt.IsZero() {
		at := e.lastCaptureAt
		st.LastCaptureAt = &at
	}
	return st
}

func (e *Engine) run(stopChan, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			e.Tick(e.now())
		}
	}
}

// Tick runs one policy evaluation at the given wall-clock time. The loop
// calls it at the configured cadence; tests call it directly.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	state := e.state
	settings := e.settings
	withVideo := e.withVideo
	lastAt := e.lastCaptureAt
	lastFix := e.lastCaptureFix
	e.mu.Unlock()

	if state == StateIdle {
		return
	}

	started := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(started).Seconds())
	}()

	fix := e.src.Fix()
	if fix != nil {
		metrics.FixAge.Set(time.Since(fix.ReceivedAt).Seconds())
	} else {
		metrics.FixAge.Set(-1)
	}

	// The motion gate applies to every recording tick. Evaluating it while
	// merely armed keeps the baseline tracking the latest moving fix, so a
	// recording started after a long stationary stretch is gated correctly.
	if !e.motion.Moving(fix) {
		return
	}

	switch state {
	case StateRecordingInterval:
		if !shouldTrigger(now, settings, lastAt, lastFix, fix) {
			return
		}
		e.persistAuto(now, fix, true)
	case StateRecordingContinuous:
		e.tickContinuous(now, fix, withVideo)
	}
}

// shouldTrigger decides whether an interval-mode tick captures. A zero
// lastAt or nil lastFix means no capture has happened this recording, which
// triggers immediately in time mode and on the first fix in distance mode.
func shouldTrigger(now time.Time, settings Settings, lastAt time.Time, lastFix, fix *gps.Fix) bool {
	switch settings.Mode {
	case ModeDistance:
		if fix == nil {
			return false
		}
		if lastFix == nil {
			return true
		}
		return motion.FixDistanceMeters(lastFix, fix) >= settings.DistanceMeters
	default:
		return lastAt.IsZero() || now.Sub(lastAt) >= settings.Interval
	}
}

// persistAuto saves the current bundle and, on success, advances the trigger
// baselines. Failures are logged and the baselines left alone so the next
// tick retries.
func (e *Engine) persistAuto(now time.Time, fix *gps.Fix, updateBaselines bool) {
	paths, err := e.sink.SaveBundle(e.src.Frames(), fix, e.src.GPSEnabled(), now, storage.CaptureAuto)
	if err != nil {
		metrics.Captures.WithLabelValues(storage.CaptureAuto, "error").Inc()
		if errors.Is(err, storage.ErrEmptyBundle) {
			e.log.Debug().Msg("Capture triggered before any frames arrived")
		} else {
			e.log.Error().Err(err).Msg("Failed to persist capture, will retry next trigger")
		}
		return
	}
	metrics.Captures.WithLabelValues(storage.CaptureAuto, "ok").Inc()

	e.mu.Lock()
	e.captures++
	if updateBaselines {
		e.lastCaptureAt = now
		e.lastCaptureFix = fix
	}
	e.mu.Unlock()

	e.log.Info().
		Time("at", now).
		Int("artifacts", len(paths)).
		Msg("Capture saved")
}

// tickContinuous appends the latest frames to the open video writers, or
// persists them as a still bundle when video is off. 16-bit depth is skipped
// for video because AVI frames are JPEG encoded.
func (e *Engine) tickContinuous(now time.Time, fix *gps.Fix, withVideo bool) {
	if !withVideo {
		e.persistAuto(now, fix, false)
		return
	}

	bundle := e.src.Frames()
	for _, stream := range bundle.Ordered() {
		f := bundle[stream]
		if f.Format == frame.FormatGray16 {
			continue
		}
		if err := e.video.Append(f); err != nil {
			e.log.Error().Err(err).Str("stream", string(stream)).Msg("Failed to append video frame")
		}
	}
}
