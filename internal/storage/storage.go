// Package storage persists capture bundles as image plus sidecar metadata
// pairs under date-stamped directories, and continuous video next to them.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldscan/fieldscan/internal/frame"
	"github.com/fieldscan/fieldscan/internal/gps"
	"github.com/fieldscan/fieldscan/internal/logger"
	"github.com/fieldscan/fieldscan/internal/metrics"
)

// Capture type tags recorded in metadata.
const (
	CaptureAuto   = "auto"
	CaptureManual = "manual"
)

// GPS markers used in metadata when no fix object is available.
const (
	GPSDisabled = "disabled"
	GPSNoFix    = "no_fix"
)

const timestampLayout = "20060102_150405.000"

// Config controls the still-capture sink.
type Config struct {
	BasePath    string
	JPEGQuality int // default 92
}

// Sink writes capture bundles. Every image gets a sidecar JSON with the
// same basename; the pair is atomic in the sense that a failed sidecar
// write removes its image. Safe for concurrent use.
type Sink struct {
	mu       sync.RWMutex
	basePath string
	quality  int
	log      *zerolog.Logger

	// writeFile is swapped in tests to inject write failures
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewSink builds a sink rooted at cfg.BasePath.
func NewSink(cfg Config) *Sink {
	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = 92
	}
	return &Sink{
		basePath:  cfg.BasePath,
		quality:   quality,
		log:       logger.WithComponent("storage"),
		writeFile: os.WriteFile,
	}
}

// BasePath returns the sink's root directory.
func (s *Sink) BasePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basePath
}

// SetBasePath redirects future bundles to a new root directory.
func (s *Sink) SetBasePath(path string) {
	s.mu.Lock()
	s.basePath = path
	s.mu.Unlock()
}

// Metadata is the sidecar document written next to each image.
type Metadata struct {
	Stream      string `json:"stream"`
	Image       string `json:"image"`
	SavedAt     string `json:"saved_at"`
	CaptureType string `json:"capture_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	JPEGQuality int    `json:"jpeg_quality,omitempty"`

	// GPS is either a FixMetadata or one of the string markers.
	GPS any `json:"gps"`
}

// FixMetadata is the fix as persisted.
type FixMetadata struct {
	Timestamp  string  `json:"timestamp"`
	Latitude   float64 `json:"latitude"`
	LatDir     string  `json:"lat_dir"`
	Longitude  float64 `json:"longitude"`
	LonDir     string  `json:"lon_dir"`
	Altitude   float64 `json:"altitude"`
	Speed      float64 `json:"speed"`
	NumSats    int     `json:"num_sats"`
	FixQuality int     `json:"fix_quality"`
}

// SaveBundle persists every frame in the bundle under
// <base>/<YYYYMMDD>/<stream>_<timestamp>.<ext> with its sidecar, creating
// the date directory on first use. It returns the paths written. On a
// failure the failed pair leaves nothing behind; earlier completed pairs
// survive. An empty bundle writes nothing and returns ErrEmptyBundle.
func (s *Sink) SaveBundle(bundle frame.Bundle, fix *gps.Fix, gpsEnabled bool, when time.Time, captureType string) ([]string, error) {
	if bundle.Empty() {
		return nil, ErrEmptyBundle
	}

	dayDir := filepath.Join(s.BasePath(), when.Format("20060102"))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: dayDir, Err: err}
	}
	stamp := when.Format(timestampLayout)

	var paths []string
	for _, stream := range bundle.Ordered() {
		f := bundle[stream]
		imgName := fmt.Sprintf("%s_%s.%s", stream, stamp, extFor(stream))
		imgPath := filepath.Join(dayDir, imgName)

		n, err := s.writeImage(imgPath, f)
		if err != nil {
			return paths, err
		}
		metrics.BytesWritten.Add(float64(n))

		metaPath := strings.TrimSuffix(imgPath, filepath.Ext(imgPath)) + ".json"
		meta := s.buildMetadata(f, fix, gpsEnabled, when, captureType, imgName)
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			os.Remove(imgPath)
			return paths, &StorageError{Op: "encode metadata", Path: metaPath, Err: err}
		}
		if err := s.writeFile(metaPath, data, 0o644); err != nil {
			os.Remove(imgPath)
			return paths, &StorageError{Op: "write metadata", Path: metaPath, Err: err}
		}

		paths = append(paths, imgPath, metaPath)
		metrics.BundleArtifacts.Add(2)
	}

	s.log.Info().
		Int("files", len(paths)).
		Str("type", captureType).
		Str("dir", dayDir).
		Msg("bundle persisted")
	return paths, nil
}

func extFor(stream frame.Stream) string {
	if stream == frame.StreamDepthRaw {
		return "png"
	}
	return "jpg"
}

// writeImage encodes and writes one frame, returning the byte count.
// depth_raw goes out as lossless 16-bit PNG, everything else as JPEG.
func (s *Sink) writeImage(path string, f *frame.Frame) (int, error) {
	var buf bytes.Buffer
	var err error
	if f.Format == frame.FormatGray16 {
		err = png.Encode(&buf, f.Image())
	} else {
		err = jpeg.Encode(&buf, f.Image(), &jpeg.Options{Quality: s.quality})
	}
	if err != nil {
		return 0, &StorageError{Op: "encode", Path: path, Err: err}
	}
	if err := s.writeFile(path, buf.Bytes(), 0o644); err != nil {
		return 0, &StorageError{Op: "write image", Path: path, Err: err}
	}
	return buf.Len(), nil
}

func (s *Sink) buildMetadata(f *frame.Frame, fix *gps.Fix, gpsEnabled bool, when time.Time, captureType, imgName string) Metadata {
	meta := Metadata{
		Stream:      string(f.Stream),
		Image:       imgName,
		SavedAt:     when.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		CaptureType: captureType,
		Width:       f.Width,
		Height:      f.Height,
	}
	if f.Format != frame.FormatGray16 {
		meta.JPEGQuality = s.quality
	}
	switch {
	case !gpsEnabled:
		meta.GPS = GPSDisabled
	case fix == nil:
		meta.GPS = GPSNoFix
	default:
		meta.GPS = FixMetadata{
			Timestamp:  fix.Time.UTC().Format(time.RFC3339),
			Latitude:   fix.Latitude,
			LatDir:     fix.LatDir(),
			Longitude:  fix.Longitude,
			LonDir:     fix.LonDir(),
			Altitude:   fix.Altitude,
			Speed:      fix.Speed,
			NumSats:    fix.Satellites,
			FixQuality: fix.Quality,
		}
	}
	return meta
}
