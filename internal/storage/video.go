package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/icza/mjpeg"
	"github.com/rs/zerolog"

	"github.com/fieldscan/fieldscan/internal/frame"
	"github.com/fieldscan/fieldscan/internal/logger"
	"github.com/fieldscan/fieldscan/internal/metrics"
)

// VideoConfig controls continuous recording.
type VideoConfig struct {
	BasePath    string
	FPS         int // default 10
	JPEGQuality int // default 80
}

// VideoRecorder owns one MJPEG AVI writer per stream under
// <base>/videos/<YYYYMMDD>/<stream>_<HHMMSS>.avi. Geometry and fps are
// fixed when Start creates the writers; Stop releases every writer exactly
// once. Partial files are always retained.
type VideoRecorder struct {
	cfg VideoConfig
	log *zerolog.Logger

	mu      sync.Mutex
	started bool
	writers map[frame.Stream]*videoWriter
}

type videoWriter struct {
	aw     mjpeg.AviWriter
	width  int
	height int
	path   string
	frames uint64
}

// NewVideoRecorder builds a recorder rooted at cfg.BasePath.
func NewVideoRecorder(cfg VideoConfig) *VideoRecorder {
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 80
	}
	return &VideoRecorder{
		cfg: cfg,
		log: logger.WithComponent("video"),
	}
}

// SetBasePath redirects the next recording to a new root directory. Writers
// already open keep their current files.
func (v *VideoRecorder) SetBasePath(path string) {
	v.mu.Lock()
	v.cfg.BasePath = path
	v.mu.Unlock()
}

// Start creates a writer per stream with the given pixel sizes. A creation
// failure closes the writers already created for this start and surfaces a
// StorageError; their partial files stay on disk.
func (v *VideoRecorder) Start(when time.Time, sizes map[frame.Stream]image.Point) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.started {
		return nil
	}
	if len(sizes) == 0 {
		return &StorageError{Op: "video start", Path: v.cfg.BasePath, Err: errors.New("no streams to record")}
	}

	dir := filepath.Join(v.cfg.BasePath, "videos", when.Format("20060102"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	stamp := when.Format("150405")

	writers := make(map[frame.Stream]*videoWriter, len(sizes))
	for _, stream := range frame.Streams() {
		size, ok := sizes[stream]
		if !ok {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.avi", stream, stamp))
		aw, err := mjpeg.New(path, int32(size.X), int32(size.Y), int32(v.cfg.FPS))
		if err != nil {
			for _, w := range writers {
				w.aw.Close()
			}
			return &StorageError{Op: "video create", Path: path, Err: err}
		}
		writers[stream] = &videoWriter{aw: aw, width: size.X, height: size.Y, path: path}
		v.log.Info().Str("path", path).Int("fps", v.cfg.FPS).Msg("video writer opened")
	}

	v.writers = writers
	v.started = true
	return nil
}

// Append writes the frame to its stream's writer. Streams without a writer
// and frames whose geometry no longer matches the writer are skipped.
// Appending while stopped is a no-op.
func (v *VideoRecorder) Append(f *frame.Frame) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.started || f == nil {
		return nil
	}
	w, ok := v.writers[f.Stream]
	if !ok {
		return nil
	}
	if f.Width != w.width || f.Height != w.height {
		v.log.Debug().
			Str("stream", string(f.Stream)).
			Msg("frame geometry changed, skipping video append")
		return nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image(), &jpeg.Options{Quality: v.cfg.JPEGQuality}); err != nil {
		return &StorageError{Op: "video encode", Path: w.path, Err: err}
	}
	if err := w.aw.AddFrame(buf.Bytes()); err != nil {
		return &StorageError{Op: "video append", Path: w.path, Err: err}
	}
	w.frames++
	metrics.VideoFrames.WithLabelValues(string(f.Stream)).Inc()
	return nil
}

// Stop finalizes and releases every writer exactly once. Calling Stop on a
// stopped recorder is a no-op. Close failures are joined and returned but
// the files, complete or not, are never deleted.
func (v *VideoRecorder) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.started {
		return nil
	}
	v.started = false

	var errs []error
	for stream, w := range v.writers {
		if err := w.aw.Close(); err != nil {
			errs = append(errs, &StorageError{Op: "video close", Path: w.path, Err: err})
			continue
		}
		v.log.Info().
			Str("stream", string(stream)).
			Str("path", w.path).
			Uint64("frames", w.frames).
			Msg("video writer closed")
	}
	v.writers = nil
	return errors.Join(errs...)
}

// Active reports whether writers are open.
func (v *VideoRecorder) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.started
}

// Paths lists the files of the open writers.
func (v *VideoRecorder) Paths() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, stream := range frame.Streams() {
		if w, ok := v.writers[stream]; ok {
			out = append(out, w.path)
		}
	}
	return out
}
