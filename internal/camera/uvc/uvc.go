// Package uvc opens plain V4L2 webcams through OpenCV. A webcam has no
// stereo pair, so sessions deliver the rgb stream only and the rest of the
// pipeline runs on a partial bundle.
package uvc

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/fieldscan/fieldscan/internal/camera"
	"github.com/fieldscan/fieldscan/internal/frame"
	"github.com/fieldscan/fieldscan/internal/logger"
)

type Driver struct{}

func New() *Driver { return &Driver{} }

func (d *Driver) Name() string { return "uvc" }

func (d *Driver) Available() bool {
	return len(videoNodes()) > 0
}

func (d *Driver) Devices() ([]camera.DeviceInfo, error) {
	nodes := videoNodes()
	devices := make([]camera.DeviceInfo, 0, len(nodes))
	for _, node := range nodes {
		devices = append(devices, camera.DeviceInfo{
			ID:     node,
			Name:   fmt.Sprintf("UVC camera %s", node),
			Driver: "uvc",
		})
	}
	return devices, nil
}

func videoNodes() []string {
	nodes, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil
	}
	sort.Strings(nodes)
	return nodes
}

func (d *Driver) Open(id string, opts camera.SessionOptions) (camera.Session, error) {
	cap, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, &camera.DeviceError{Op: "open", Device: id, Err: err}
	}
	cap.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	if opts.FPS > 0 {
		cap.Set(gocv.VideoCaptureFPS, float64(opts.FPS))
	}
	if opts.ContinuousAutofocus {
		cap.Set(gocv.VideoCaptureAutoFocus, 1)
	}
	if opts.AutoExposure {
		// V4L2 encodes aperture-priority auto as 3
		cap.Set(gocv.VideoCaptureAutoExposure, 3)
	}
	if opts.AutoWhiteBalance {
		cap.Set(gocv.VideoCaptureAutoWB, 1)
	}

	s := &session{
		device: camera.DeviceInfo{ID: id, Name: fmt.Sprintf("UVC camera %s", id), Driver: "uvc"},
		cap:    cap,
		log:    logger.WithComponent("uvc"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// session keeps a reader goroutine draining the device into a latest-frame
// slot. TryNext is a lock-free handoff from that slot.
type session struct {
	device camera.DeviceInfo
	cap    *gocv.VideoCapture
	log    *zerolog.Logger

	latest atomic.Pointer[frame.Frame]
	seq    atomic.Uint64

	// lastDelivered is touched only by the single TryNext caller
	lastDelivered uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) readLoop() {
	defer close(s.done)
	mat := gocv.NewMat()
	defer mat.Close()
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if ok := s.cap.Read(&mat); !ok {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if mat.Empty() {
			continue
		}
		img, err := mat.ToImage()
		if err != nil {
			s.log.Debug().Err(err).Msg("mat conversion failed")
			continue
		}
		f := frame.FromImage(frame.StreamRGB, img)
		f.Seq = s.seq.Add(1)
		f.Timestamp = time.Now()
		s.latest.Store(f)
	}
}

func (s *session) TryNext(stream frame.Stream) (*frame.Frame, bool) {
	if stream != frame.StreamRGB {
		return nil, false
	}
	f := s.latest.Load()
	if f == nil || f.Seq == s.lastDelivered {
		return nil, false
	}
	s.lastDelivered = f.Seq
	return f, true
}

func (s *session) Streams() []frame.Stream {
	return []frame.Stream{frame.StreamRGB}
}

func (s *session) Device() camera.DeviceInfo { return s.device }

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		err = s.cap.Close()
	})
	if err != nil {
		return &camera.DeviceError{Op: "close", Device: s.device.ID, Err: err}
	}
	return nil
}
