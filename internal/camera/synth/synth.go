// Package synth generates deterministic test patterns behind the camera
// seam. It is always available, so a rig with no hardware attached still
// arms, triggers and persists.
package synth

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/fieldscan/fieldscan/internal/camera"
	"github.com/fieldscan/fieldscan/internal/frame"
)

const (
	deviceID = "synth-0"

	// mono sensor geometry, the 400p the stereo pair runs at
	monoWidth  = 640
	monoHeight = 400
)

type Driver struct{}

func New() *Driver { return &Driver{} }

func (d *Driver) Name() string { return "synth" }

func (d *Driver) Available() bool { return true }

func (d *Driver) Devices() ([]camera.DeviceInfo, error) {
	return []camera.DeviceInfo{
		{ID: deviceID, Name: "Synthetic stereo camera", Driver: "synth"},
	}, nil
}

func (d *Driver) Open(id string, opts camera.SessionOptions) (camera.Session, error) {
	if id != deviceID {
		return nil, &camera.DeviceError{Op: "open", Device: id, Err: errors.New("unknown device")}
	}
	if opts.FPS <= 0 {
		opts.FPS = 15
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 640, 480
	}
	return &session{
		device:   camera.DeviceInfo{ID: deviceID, Name: "Synthetic stereo camera", Driver: "synth"},
		opts:     opts,
		interval: time.Second / time.Duration(opts.FPS),
		last:     make(map[frame.Stream]time.Time),
		seq:      make(map[frame.Stream]uint64),
	}, nil
}

// session synthesizes frames on demand, paced to the requested fps.
// The first TryNext per stream always delivers.
type session struct {
	device   camera.DeviceInfo
	opts     camera.SessionOptions
	interval time.Duration

	mu     sync.Mutex
	closed bool
	last   map[frame.Stream]time.Time
	seq    map[frame.Stream]uint64
}

func (s *session) Streams() []frame.Stream {
	return []frame.Stream{frame.StreamRGB, frame.StreamDepthRaw, frame.StreamIR}
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
	if s.closed {
		return nil, false
	}
	switch stream {
	case frame.StreamRGB, frame.StreamDepthRaw, frame.StreamIR:
	default:
		return nil, false
	}

	now := time.Now()
	if last, ok := s.last[stream]; ok && now.Sub(last) < s.interval {
		return nil, false
	}
	s.last[stream] = now
	s.seq[stream]++
	seq := s.seq[stream]

	var f *frame.Frame
	switch stream {
	case frame.StreamRGB:
		f = genRGB(s.opts.Width, s.opts.Height, seq)
	case frame.StreamDepthRaw:
		f = genDepthRaw(monoWidth, monoHeight, seq)
	case frame.StreamIR:
		f = genIR(monoWidth, monoHeight, seq)
	}
	f.Seq = seq
	f.Timestamp = now
	return f, true
}

// genRGB draws a color gradient with a white bar sweeping left to right.
func genRGB(w, h int, seq uint64) *frame.Frame {
	f := frame.New(frame.StreamRGB, w, h, frame.FormatRGB8)
	bar := int(seq) % w
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := byte(x*255/w), byte(y*255/h), byte(seq)
			if x == bar {
				r, g, b = 255, 255, 255
			}
			f.Data[i+0] = r
			f.Data[i+1] = g
			f.Data[i+2] = b
			i += 3
		}
	}
	return f
}

// genDepthRaw ramps millimeter depths between roughly 0.4 m and 4.4 m.
func genDepthRaw(w, h int, seq uint64) *frame.Frame {
	f := frame.New(frame.StreamDepthRaw, w, h, frame.FormatGray16)
	shift := int(seq) * 8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint16(400 + (x+y+shift)%4000)
			binary.BigEndian.PutUint16(f.Data[(y*w+x)*2:], v)
		}
	}
	return f
}

// genIR keeps a deliberately narrow dynamic range, like an unlit scene,
// so downstream equalization has something to do.
func genIR(w, h int, seq uint64) *frame.Frame {
	f := frame.New(frame.StreamIR, w, h, frame.FormatGray8)
	shift := int(seq) * 3
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Data[y*w+x] = byte((x+y+shift)%64 + 16)
		}
	}
	return f
}
