package frame

import (
	"fmt"
	"image"
	"time"
)

// Stream identifies one of the camera output streams.
type Stream string

const (
	StreamRGB      Stream = "rgb"
	StreamDepth    Stream = "depth"
	StreamDepthRaw Stream = "depth_raw"
	StreamIR       Stream = "ir"
)

// Streams returns all known streams in stable order.
func Streams() []Stream {
	return []Stream{StreamRGB, StreamDepth, StreamDepthRaw, StreamIR}
}

// Valid reports whether s is one of the known streams.
func (s Stream) Valid() bool {
	switch s {
	case StreamRGB, StreamDepth, StreamDepthRaw, StreamIR:
		return true
	}
	return false
}

// Format is the pixel layout of a frame's Data buffer.
type Format int

const (
	// FormatGray8 is 8-bit single channel.
	FormatGray8 Format = iota
	// FormatGray16 is 16-bit single channel, big-endian, matching image.Gray16.
	FormatGray16
	// FormatRGB8 is 8-bit three channel, interleaved R,G,B.
	FormatRGB8
)

// BytesPerPixel returns the per-pixel size of the format.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatGray16:
		return 2
	case FormatRGB8:
		return 3
	default:
		return 1
	}
}

func (f Format) String() string {
	switch f {
	case FormatGray8:
		return "gray8"
	case FormatGray16:
		return "gray16"
	case FormatRGB8:
		return "rgb8"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Frame is a single decoded camera frame. Data holds Width*Height pixels in
// the declared Format with no row padding. Seq increases monotonically per
// stream within a session.
type Frame struct {
	Stream    Stream
	Width     int
	Height    int
	Format    Format
	Data      []byte
	Seq       uint64
	Timestamp time.Time
}

// New allocates a zeroed frame for the given geometry.
func New(stream Stream, width, height int, format Format) *Frame {
	return &Frame{
		Stream: stream,
		Width:  width,
		Height: height,
		Format: format,
		Data:   make([]byte, width*height*format.BytesPerPixel()),
	}
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return &c
}

// Image wraps the frame as an image.Image for encoding. Gray formats share
// the frame's buffer; RGB8 is copied into an RGBA image.
func (f *Frame) Image() image.Image {
	rect := image.Rect(0, 0, f.Width, f.Height)
	switch f.Format {
	case FormatGray8:
		return &image.Gray{Pix: f.Data, Stride: f.Width, Rect: rect}
	case FormatGray16:
		return &image.Gray16{Pix: f.Data, Stride: 2 * f.Width, Rect: rect}
	default:
		img := image.NewRGBA(rect)
		si, di := 0, 0
		for p := 0; p < f.Width*f.Height; p++ {
			img.Pix[di+0] = f.Data[si+0]
			img.Pix[di+1] = f.Data[si+1]
			img.Pix[di+2] = f.Data[si+2]
			img.Pix[di+3] = 0xff
			si += 3
			di += 4
		}
		return img
	}
}

// Bundle is a point-in-time snapshot of the latest frame per stream.
// Streams the camera did not deliver are simply absent.
type Bundle map[Stream]*Frame

// Empty reports whether the bundle holds no frames.
func (b Bundle) Empty() bool {
	return len(b) == 0
}

// Ordered returns the bundle's streams in the stable stream order.
func (b Bundle) Ordered() []Stream {
	out := make([]Stream, 0, len(b))
	for _, s := range Streams() {
		if _, ok := b[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
