package api

import (
	"bytes"
	"image/jpeg"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldscan/fieldscan/internal/frame"
	"github.com/fieldscan/fieldscan/internal/logger"
	"github.com/fieldscan/fieldscan/internal/metrics"
	"github.com/fieldscan/fieldscan/internal/rig"
)

const (
	// previewFrameInterval paces the preview pumps; encoding faster than
	// this buys nothing over a browser connection.
	previewFrameInterval = 100 * time.Millisecond

	previewJPEGQuality = 80

	// clientBuffer is the per-client frame backlog. A viewer that falls
	// further behind skips frames instead of stalling the pump.
	clientBuffer = 2
)

// streamHub fans JPEG-encoded preview frames out to MJPEG viewers. Each
// stream gets one pump goroutine that runs only while it has viewers, so an
// unwatched rig spends nothing on encoding.
type streamHub struct {
	rig *rig.Manager
	log *zerolog.Logger

	mu      sync.Mutex
	fanouts map[frame.Stream]*fanout
}

type fanout struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	stop    chan struct{}
}

func newStreamHub(rigMgr *rig.Manager) *streamHub {
	return &streamHub{
		rig:     rigMgr,
		log:     logger.WithComponent("stream"),
		fanouts: make(map[frame.Stream]*fanout),
	}
}

// subscribe registers a viewer and returns its frame channel. The first
// viewer of a stream starts its pump.
func (h *streamHub) subscribe(stream frame.Stream) chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	fo, ok := h.fanouts[stream]
	if !ok {
		fo = &fanout{
			clients: make(map[chan []byte]struct{}),
			stop:    make(chan struct{}),
		}
		h.fanouts[stream] = fo
		go h.pump(stream, fo)
	}

	ch := make(chan []byte, clientBuffer)
	fo.mu.Lock()
	fo.clients[ch] = struct{}{}
	count := len(fo.clients)
	fo.mu.Unlock()

	h.log.Info().Str("stream", string(stream)).Int("viewers", count).Msg("Preview client connected")
	return ch
}

// unsubscribe removes a viewer and closes its channel. The last viewer of
// a stream stops its pump.
func (h *streamHub) unsubscribe(stream frame.Stream, ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fo, ok := h.fanouts[stream]
	if !ok {
		return
	}

	fo.mu.Lock()
	if _, ok := fo.clients[ch]; ok {
		delete(fo.clients, ch)
		close(ch)
	}
	count := len(fo.clients)
	fo.mu.Unlock()

	if count == 0 {
		close(fo.stop)
		delete(h.fanouts, stream)
	}
	h.log.Info().Str("stream", string(stream)).Int("viewers", count).Msg("Preview client disconnected")
}

// close disconnects every viewer and stops all pumps.
func (h *streamHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for stream, fo := range h.fanouts {
		fo.mu.Lock()
		for ch := range fo.clients {
			close(ch)
		}
		fo.clients = make(map[chan []byte]struct{})
		fo.mu.Unlock()
		close(fo.stop)
		delete(h.fanouts, stream)
	}
}

// pump encodes new frames for one stream and broadcasts them. Slow viewers
// drop frames rather than backing up the pump.
func (h *streamHub) pump(stream frame.Stream, fo *fanout) {
	log := logger.WithStream("stream", string(stream))
	ticker := time.NewTicker(previewFrameInterval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-fo.stop:
			return
		case <-ticker.C:
		}

		f := h.rig.Frame(stream)
		if f == nil || f.Seq == lastSeq {
			continue
		}
		lastSeq = f.Seq

		img := renderPreview(f, h.rig.Status())
		buf := new(bytes.Buffer)
		if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: previewJPEGQuality}); err != nil {
			log.Error().Err(err).Msg("Failed to encode preview frame")
			continue
		}
		data := buf.Bytes()

		fo.mu.Lock()
		for ch := range fo.clients {
			select {
			case ch <- data:
			default:
				metrics.FramesDropped.WithLabelValues(string(stream)).Inc()
			}
		}
		fo.mu.Unlock()
	}
}
