package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.yaml")
}

func TestNewManagerCreatesDefaultConfig(t *testing.T) {
	path := configPath(t)

	m, err := NewManager(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "a missing config file must be created")

	assert.Equal(t, Defaults(), m.Get())
	assert.Equal(t, path, m.GetConfigPath())
}

func TestLoadPartialConfigAppliesDefaults(t *testing.T) {
	path := configPath(t)
	require.NoError(t, os.WriteFile(path, []byte("server_port: 9000\ngps:\n  enabled: false\n"), 0o644))

	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.Get()
	assert.Equal(t, 9000, cfg.ServerPort)
	assert.False(t, cfg.GPS.Enabled)
	assert.Equal(t, 9600, cfg.GPS.Baud)
	assert.Equal(t, "synth", cfg.Camera.Driver)
	assert.Equal(t, 15, cfg.Camera.FPS)
	assert.Equal(t, 30.0, cfg.Trigger.IntervalSeconds)
	assert.Equal(t, "result", cfg.Storage.BasePath)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := configPath(t)
	require.NoError(t, os.WriteFile(path, []byte("trigger:\n  interval_seconds: -5\n"), 0o644))

	_, err := NewManager(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval_seconds")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := configPath(t)
	require.NoError(t, os.WriteFile(path, []byte("camera: [unterminated\n"), 0o644))

	_, err := NewManager(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port too low", func(c *Config) { c.ServerPort = 0 }, "server_port"},
		{"port too high", func(c *Config) { c.ServerPort = 70000 }, "server_port"},
		{"empty base path", func(c *Config) { c.Storage.BasePath = "" }, "base_path"},
		{"quality too low", func(c *Config) { c.Storage.JPEGQuality = 0 }, "jpeg_quality"},
		{"quality too high", func(c *Config) { c.Storage.JPEGQuality = 101 }, "jpeg_quality"},
		{"unknown driver", func(c *Config) { c.Camera.Driver = "firewire" }, "camera.driver"},
		{"replay without dir", func(c *Config) { c.Camera.Driver = "replay" }, "replay_dir"},
		{"zero fps", func(c *Config) { c.Camera.FPS = 0 }, "camera.fps"},
		{"zero width", func(c *Config) { c.Camera.Width = 0 }, "geometry"},
		{"unordered mask", func(c *Config) { c.Camera.Mask = MaskConfig{X1: 100, Y1: 0, X2: 50, Y2: 50} }, "mask"},
		{"negative mask origin", func(c *Config) { c.Camera.Mask = MaskConfig{X1: -1, Y1: 0, X2: 50, Y2: 50} }, "mask"},
		{"odd baud", func(c *Config) { c.GPS.Baud = 1234 }, "baud"},
		{"unknown trigger mode", func(c *Config) { c.Trigger.Mode = "altitude" }, "trigger.mode"},
		{"zero interval", func(c *Config) { c.Trigger.IntervalSeconds = 0 }, "interval_seconds"},
		{"negative distance", func(c *Config) { c.Trigger.DistanceMeters = -1 }, "distance_meters"},
		{"negative motion threshold", func(c *Config) { c.Trigger.MotionThresholdDegrees = -0.1 }, "motion_threshold"},
		{"zero video fps", func(c *Config) { c.Recording.VideoFPS = 0 }, "video_fps"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		require.NoError(t, Defaults().Validate())
	})

	t.Run("legacy baud accepted", func(t *testing.T) {
		cfg := Defaults()
		cfg.GPS.Baud = 4800
		require.NoError(t, cfg.Validate())
	})
}

func TestMutatorsPersist(t *testing.T) {
	path := configPath(t)
	m, err := NewManager(path)
	require.NoError(t, err)

	require.NoError(t, m.SetSavePath("/data/captures"))
	require.NoError(t, m.SetMask(MaskConfig{X1: 10, Y1: 20, X2: 110, Y2: 120}))
	require.NoError(t, m.SetDevice("replay", "replay-0"))
	require.NoError(t, m.SetGPSEnabled(false))
	require.NoError(t, m.SetTrigger(TriggerConfig{Mode: "distance", IntervalSeconds: 10, DistanceMeters: 50}))

	// A fresh manager sees every mutation.
	reloaded, err := NewManager(path)
	require.NoError(t, err)
	cfg := reloaded.Get()
	assert.Equal(t, "/data/captures", cfg.Storage.BasePath)
	assert.Equal(t, MaskConfig{X1: 10, Y1: 20, X2: 110, Y2: 120}, cfg.Camera.Mask)
	assert.Equal(t, "replay", cfg.Camera.Driver)
	assert.Equal(t, "replay-0", cfg.Camera.DeviceID)
	assert.False(t, cfg.GPS.Enabled)
	assert.Equal(t, "distance", cfg.Trigger.Mode)
	assert.Equal(t, 50.0, cfg.Trigger.DistanceMeters)
	assert.Equal(t, 0.0001, cfg.Trigger.MotionThresholdDegrees, "unset motion threshold keeps the previous value")
}

func TestMutatorValidation(t *testing.T) {
	m, err := NewManager(configPath(t))
	require.NoError(t, err)

	require.Error(t, m.SetSavePath(""))
	require.Error(t, m.SetMask(MaskConfig{X1: 50, Y1: 50, X2: 10, Y2: 10}))
	require.Error(t, m.SetDevice("firewire", ""))
	require.Error(t, m.SetTrigger(TriggerConfig{Mode: "time", IntervalSeconds: 0, DistanceMeters: 25}))

	// Rejected mutations must not dirty the config.
	assert.Equal(t, Defaults(), m.Get())
}

func TestUpdateValidates(t *testing.T) {
	m, err := NewManager(configPath(t))
	require.NoError(t, err)

	bad := Defaults()
	bad.Trigger.Mode = "altitude"
	require.Error(t, m.Update(bad))

	good := Defaults()
	good.ServerPort = 9100
	require.NoError(t, m.Update(good))
	assert.Equal(t, 9100, m.Get().ServerPort)
}

func TestMaskEnabled(t *testing.T) {
	assert.False(t, MaskConfig{}.Enabled())
	assert.False(t, MaskConfig{X1: 10, Y1: 10, X2: 10, Y2: 20}.Enabled())
	assert.True(t, MaskConfig{X1: 0, Y1: 0, X2: 1, Y2: 1}.Enabled())
}

func TestDefaultPathUsedWhenEmpty(t *testing.T) {
	// Point HOME at a sandbox so the default path logic is exercised
	// without touching the real user config.
	home := t.TempDir()
	t.Setenv("HOME", home)

	m, err := NewManager("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "fieldscan", "config.yaml"), m.GetConfigPath())

	_, err = os.Stat(m.GetConfigPath())
	require.NoError(t, err)
}
