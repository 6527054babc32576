package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fieldscan/fieldscan/internal/logger"
)

// DefaultPort is the control server port.
const DefaultPort = 8365

// MaskConfig is a rectangle blacked out of every frame before display and
// save. Coordinates are pixels, x1/y1 inclusive, x2/y2 exclusive; all zeros
// disables the mask.
type MaskConfig struct {
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
	X2 int `json:"x2" yaml:"x2"`
	Y2 int `json:"y2" yaml:"y2"`
}

// Enabled reports whether the mask covers any area.
func (m MaskConfig) Enabled() bool {
	return m.X2 > m.X1 && m.Y2 > m.Y1
}

// StorageConfig controls where and how still captures are written.
type StorageConfig struct {
	BasePath    string `json:"base_path" yaml:"base_path"`
	JPEGQuality int    `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// CameraConfig selects and parameterizes the frame source.
type CameraConfig struct {
	Driver    string     `json:"driver" yaml:"driver"`
	DeviceID  string     `json:"device_id" yaml:"device_id"`
	FPS       int        `json:"fps" yaml:"fps"`
	Width     int        `json:"width" yaml:"width"`
	Height    int        `json:"height" yaml:"height"`
	ReplayDir string     `json:"replay_dir" yaml:"replay_dir"`
	Mask      MaskConfig `json:"mask" yaml:"mask"`
}

// GPSConfig controls the serial location source. An empty port means
// auto-discovery over the known device path patterns.
type GPSConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    string `json:"port" yaml:"port"`
	Baud    int    `json:"baud" yaml:"baud"`
}

// TriggerConfig holds the automatic capture trigger parameters.
type TriggerConfig struct {
	Mode                   string  `json:"mode" yaml:"mode"`
	IntervalSeconds        float64 `json:"interval_seconds" yaml:"interval_seconds"`
	DistanceMeters         float64 `json:"distance_meters" yaml:"distance_meters"`
	MotionThresholdDegrees float64 `json:"motion_threshold_degrees" yaml:"motion_threshold_degrees"`
}

// RecordingConfig holds the defaults applied when a recording is started
// without explicit parameters.
type RecordingConfig struct {
	ContinuousVideo bool `json:"continuous_video" yaml:"continuous_video"`
	VideoFPS        int  `json:"video_fps" yaml:"video_fps"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// Config is the full application configuration.
type Config struct {
	ServerPort int             `json:"server_port" yaml:"server_port"`
	Storage    StorageConfig   `json:"storage" yaml:"storage"`
	Camera     CameraConfig    `json:"camera" yaml:"camera"`
	GPS        GPSConfig       `json:"gps" yaml:"gps"`
	Trigger    TriggerConfig   `json:"trigger" yaml:"trigger"`
	Recording  RecordingConfig `json:"recording" yaml:"recording"`
	Logging    LoggingConfig   `json:"logging" yaml:"logging"`
}

var validDrivers = map[string]bool{
	"synth":  true,
	"replay": true,
	"uvc":    true,
}

var validTriggerModes = map[string]bool{
	"time":     true,
	"distance": true,
}

var validBauds = map[int]bool{
	4800:   true,
	9600:   true,
	19200:  true,
	38400:  true,
	57600:  true,
	115200: true,
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for values that cannot be corrected by
// applying defaults.
func (c *Config) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port must be in 1..65535, got %d", c.ServerPort)
	}
	if c.Storage.BasePath == "" {
		return fmt.Errorf("storage.base_path must not be empty")
	}
	if c.Storage.JPEGQuality < 1 || c.Storage.JPEGQuality > 100 {
		return fmt.Errorf("storage.jpeg_quality must be in 1..100, got %d", c.Storage.JPEGQuality)
	}
	if !validDrivers[c.Camera.Driver] {
		return fmt.Errorf("camera.driver must be one of synth, replay, uvc, got %q", c.Camera.Driver)
	}
	if c.Camera.Driver == "replay" && c.Camera.ReplayDir == "" {
		return fmt.Errorf("camera.replay_dir is required for the replay driver")
	}
	if c.Camera.FPS < 1 {
		return fmt.Errorf("camera.fps must be positive, got %d", c.Camera.FPS)
	}
	if c.Camera.Width < 1 || c.Camera.Height < 1 {
		return fmt.Errorf("camera geometry must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	m := c.Camera.Mask
	if m.X1 < 0 || m.Y1 < 0 || m.X2 < m.X1 || m.Y2 < m.Y1 {
		return fmt.Errorf("camera.mask must be an ordered rectangle, got (%d,%d)-(%d,%d)", m.X1, m.Y1, m.X2, m.Y2)
	}
	if !validBauds[c.GPS.Baud] {
		return fmt.Errorf("gps.baud %d is not a recognized NMEA baud rate", c.GPS.Baud)
	}
	if !validTriggerModes[c.Trigger.Mode] {
		return fmt.Errorf("trigger.mode must be time or distance, got %q", c.Trigger.Mode)
	}
	if c.Trigger.IntervalSeconds <= 0 {
		return fmt.Errorf("trigger.interval_seconds must be positive, got %g", c.Trigger.IntervalSeconds)
	}
	if c.Trigger.DistanceMeters <= 0 {
		return fmt.Errorf("trigger.distance_meters must be positive, got %g", c.Trigger.DistanceMeters)
	}
	if c.Trigger.MotionThresholdDegrees < 0 {
		return fmt.Errorf("trigger.motion_threshold_degrees must not be negative, got %g", c.Trigger.MotionThresholdDegrees)
	}
	if c.Recording.VideoFPS < 1 {
		return fmt.Errorf("recording.video_fps must be positive, got %d", c.Recording.VideoFPS)
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}

// Manager owns the configuration file: it loads it at startup, creates it
// with defaults when missing, and persists every mutation.
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager loads the configuration from the given file, or from
// ~/.config/fieldscan/config.yaml when the path is empty. A missing file is
// created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir := filepath.Join(homeDir, ".config", "fieldscan")
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		actualConfigPath = filepath.Join(configDir, "config.yaml")
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("driver", m.config.Camera.Driver).
		Bool("gps", m.config.GPS.Enabled).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the configuration used when no file exists.
func Defaults() *Config {
	return &Config{
		ServerPort: DefaultPort,
		Storage: StorageConfig{
			BasePath:    "result",
			JPEGQuality: 92,
		},
		Camera: CameraConfig{
			Driver: "synth",
			FPS:    15,
			Width:  640,
			Height: 480,
		},
		GPS: GPSConfig{
			Enabled: true,
			Baud:    9600,
		},
		Trigger: TriggerConfig{
			Mode:                   "time",
			IntervalSeconds:        30,
			DistanceMeters:         25,
			MotionThresholdDegrees: 0.0001,
		},
		Recording: RecordingConfig{
			ContinuousVideo: false,
			VideoFPS:        10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// applyDefaults fills unset fields so that hand-edited partial configs keep
// working.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.ServerPort == 0 {
		cfg.ServerPort = def.ServerPort
	}
	if cfg.Storage.BasePath == "" {
		cfg.Storage.BasePath = def.Storage.BasePath
	}
	if cfg.Storage.JPEGQuality == 0 {
		cfg.Storage.JPEGQuality = def.Storage.JPEGQuality
	}
	if cfg.Camera.Driver == "" {
		cfg.Camera.Driver = def.Camera.Driver
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = def.Camera.FPS
	}
	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = def.Camera.Width
	}
	if cfg.Camera.Height == 0 {
		cfg.Camera.Height = def.Camera.Height
	}
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = def.GPS.Baud
	}
	if cfg.Trigger.Mode == "" {
		cfg.Trigger.Mode = def.Trigger.Mode
	}
	if cfg.Trigger.IntervalSeconds == 0 {
		cfg.Trigger.IntervalSeconds = def.Trigger.IntervalSeconds
	}
	if cfg.Trigger.DistanceMeters == 0 {
		cfg.Trigger.DistanceMeters = def.Trigger.DistanceMeters
	}
	if cfg.Trigger.MotionThresholdDegrees == 0 {
		cfg.Trigger.MotionThresholdDegrees = def.Trigger.MotionThresholdDegrees
	}
	if cfg.Recording.VideoFPS == 0 {
		cfg.Recording.VideoFPS = def.Recording.VideoFPS
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

// load reads and validates the configuration from disk.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Save writes the current configuration to disk.
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and replaces the entire configuration.
func (m *Manager) Update(cfg *Config) error {
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetSavePath changes the still-capture base directory.
func (m *Manager) SetSavePath(path string) error {
	if path == "" {
		return fmt.Errorf("save path must not be empty")
	}
	m.mu.Lock()
	m.config.Storage.BasePath = path
	m.mu.Unlock()
	return m.Save()
}

// SetMask changes the blackout rectangle.
func (m *Manager) SetMask(mask MaskConfig) error {
	if mask.X1 < 0 || mask.Y1 < 0 || mask.X2 < mask.X1 || mask.Y2 < mask.Y1 {
		return fmt.Errorf("mask must be an ordered rectangle, got (%d,%d)-(%d,%d)", mask.X1, mask.Y1, mask.X2, mask.Y2)
	}
	m.mu.Lock()
	m.config.Camera.Mask = mask
	m.mu.Unlock()
	return m.Save()
}

// SetDevice changes the camera driver and device selection.
func (m *Manager) SetDevice(driver, deviceID string) error {
	if !validDrivers[driver] {
		return fmt.Errorf("camera.driver must be one of synth, replay, uvc, got %q", driver)
	}
	m.mu.Lock()
	m.config.Camera.Driver = driver
	m.config.Camera.DeviceID = deviceID
	m.mu.Unlock()
	return m.Save()
}

// SetGPSEnabled toggles the location source.
func (m *Manager) SetGPSEnabled(enabled bool) error {
	m.mu.Lock()
	m.config.GPS.Enabled = enabled
	m.mu.Unlock()
	return m.Save()
}

// SetTrigger changes the automatic capture trigger parameters.
func (m *Manager) SetTrigger(trigger TriggerConfig) error {
	if !validTriggerModes[trigger.Mode] {
		return fmt.Errorf("trigger.mode must be time or distance, got %q", trigger.Mode)
	}
	if trigger.IntervalSeconds <= 0 {
		return fmt.Errorf("trigger.interval_seconds must be positive, got %g", trigger.IntervalSeconds)
	}
	if trigger.DistanceMeters <= 0 {
		return fmt.Errorf("trigger.distance_meters must be positive, got %g", trigger.DistanceMeters)
	}
	m.mu.Lock()
	if trigger.MotionThresholdDegrees == 0 {
		trigger.MotionThresholdDegrees = m.config.Trigger.MotionThresholdDegrees
	}
	m.config.Trigger = trigger
	m.mu.Unlock()
	return m.Save()
}

// GetPort returns the control server port.
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// GetConfigPath returns the path of the loaded config file.
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
