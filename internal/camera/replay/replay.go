// Package replay serves previously captured bundles as a camera. Useful
// for reprocessing a day's captures and for exercising the full pipeline
// in tests without hardware.
package replay

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldscan/fieldscan/internal/camera"
	"github.com/fieldscan/fieldscan/internal/frame"
	"github.com/fieldscan/fieldscan/internal/logger"
)

// Capture filenames as the sink writes them. Colorized depth files are
// skipped; that stream is re-derived from depth_raw downstream.
var nameRe = regexp.MustCompile(`^(rgb|depth_raw|ir)_(\d{8}_\d{6}\.\d{3})\.(jpg|png)$`)

type Driver struct {
	dir string
}

// New builds a driver over a capture directory tree. An empty dir means
// the driver is not available.
func New(dir string) *Driver { return &Driver{dir: dir} }

func (d *Driver) Name() string { return "replay" }

func (d *Driver) Available() bool {
	if d.dir == "" {
		return false
	}
	info, err := os.Stat(d.dir)
	return err == nil && info.IsDir()
}

func (d *Driver) Devices() ([]camera.DeviceInfo, error) {
	if !d.Available() {
		return nil, nil
	}
	return []camera.DeviceInfo{
		{ID: "replay-0", Name: fmt.Sprintf("Replay of %s", d.dir), Driver: "replay"},
	}, nil
}

func (d *Driver) Open(id string, opts camera.SessionOptions) (camera.Session, error) {
	if !d.Available() {
		return nil, &camera.DeviceError{Op: "open", Device: id, Err: errors.New("replay directory not set")}
	}
	files, err := scan(d.dir)
	if err != nil {
		return nil, &camera.DeviceError{Op: "scan", Device: d.dir, Err: err}
	}
	if len(files) == 0 {
		return nil, &camera.DeviceError{Op: "scan", Device: d.dir, Err: errors.New("no captures found")}
	}
	if opts.FPS <= 0 {
		opts.FPS = 15
	}
	return &session{
		device:   camera.DeviceInfo{ID: "replay-0", Name: fmt.Sprintf("Replay of %s", d.dir), Driver: "replay"},
		files:    files,
		interval: time.Second / time.Duration(opts.FPS),
		last:     make(map[frame.Stream]time.Time),
		idx:      make(map[frame.Stream]int),
		seq:      make(map[frame.Stream]uint64),
		log:      logger.WithComponent("replay"),
	}, nil
}

// scan walks the capture tree grouping image files per stream, sorted by
// their embedded timestamps.
func scan(root string) (map[frame.Stream][]string, error) {
	files := make(map[frame.Stream][]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		m := nameRe.FindStringSubmatch(filepath.Base(path))
		if m == nil {
			return nil
		}
		stream := frame.Stream(m[1])
		files[stream] = append(files[stream], path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, list := range files {
		sort.Strings(list)
	}
	return files, nil
}

type session struct {
	device   camera.DeviceInfo
	files    map[frame.Stream][]string
	interval time.Duration
	log      *zerolog.Logger

	mu     sync.Mutex
	closed bool
	last   map[frame.Stream]time.Time
	idx    map[frame.Stream]int
	seq    map[frame.Stream]uint64
}

func (s *session) Streams() []frame.Stream {
	streams := make([]frame.Stream, 0, len(s.files))
	for _, st := range frame.Streams() {
		if len(s.files[st]) > 0 {
			streams = append(streams, st)
		}
	}
	return streams
}

func (s *session) Device() camera.DeviceInfo { return s.device }

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *session) TryNext(stream frame.Stream) (*frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.files[stream]) == 0 {
		return nil, false
	}
	now := time.Now()
	if last, ok := s.last[stream]; ok && now.Sub(last) < s.interval {
		return nil, false
	}
	s.last[stream] = now

	list := s.files[stream]
	path := list[s.idx[stream]]
	s.idx[stream] = (s.idx[stream] + 1) % len(list)

	f, err := loadFrame(stream, path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable capture")
		return nil, false
	}
	s.seq[stream]++
	f.Seq = s.seq[stream]
	f.Timestamp = now
	return f, true
}

func loadFrame(stream frame.Stream, path string) (*frame.Frame, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return frame.FromImage(stream, img), nil
}
