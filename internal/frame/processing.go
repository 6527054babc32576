package frame

import "encoding/binary"

// Rect is a half-open pixel rectangle [X1,X2) x [Y1,Y2). A zero-area rect
// disables whatever operation it parameterizes.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// Empty reports whether the rect covers no pixels.
func (r Rect) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// ApplyMask zeroes the rect's pixels in place, clipped to the frame bounds.
// Applied before a frame is displayed or persisted so the masked region
// never leaves the process.
func ApplyMask(f *Frame, r Rect) {
	if f == nil || r.Empty() {
		return
	}
	x1, y1, x2, y2 := r.X1, r.Y1, r.X2, r.Y2
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > f.Width {
		x2 = f.Width
	}
	if y2 > f.Height {
		y2 = f.Height
	}
	if x2 <= x1 || y2 <= y1 {
		return
	}
	bpp := f.Format.BytesPerPixel()
	stride := f.Width * bpp
	for y := y1; y < y2; y++ {
		row := f.Data[y*stride : (y+1)*stride]
		start := x1 * bpp
		end := x2 * bpp
		for i := start; i < end; i++ {
			row[i] = 0
		}
	}
}

// ColorizeDepth renders a 16-bit raw depth frame as an 8-bit jet-style
// visualization: min-max normalize, then map through the colormap. The
// result carries StreamDepth and the source frame's Seq and Timestamp.
func ColorizeDepth(raw *Frame) *Frame {
	out := New(StreamDepth, raw.Width, raw.Height, FormatRGB8)
	out.Seq = raw.Seq
	out.Timestamp = raw.Timestamp
	norm := normalizeGray16(raw.Data)
	for i, v := range norm {
		r, g, b := jetColor(v)
		out.Data[i*3+0] = r
		out.Data[i*3+1] = g
		out.Data[i*3+2] = b
	}
	return out
}

// normalizeGray16 min-max scales big-endian 16-bit pixels to 8 bit.
// A flat frame (min == max) maps to all zeros.
func normalizeGray16(data []byte) []byte {
	n := len(data) / 2
	out := make([]byte, n)
	if n == 0 {
		return out
	}
	min, max := uint16(0xffff), uint16(0)
	for i := 0; i < n; i++ {
		v := binary.BigEndian.Uint16(data[i*2:])
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		return out
	}
	span := uint32(max - min)
	for i := 0; i < n; i++ {
		v := binary.BigEndian.Uint16(data[i*2:])
		out[i] = byte(uint32(v-min) * 255 / span)
	}
	return out
}

// jetColor maps an 8-bit value through the classic jet ramp
// (blue at 0 through green to red at 255).
func jetColor(v byte) (r, g, b byte) {
	t := float64(v) / 255.0
	r = jetChannel(1.5 - abs(4*t-3))
	g = jetChannel(1.5 - abs(4*t-2))
	b = jetChannel(1.5 - abs(4*t-1))
	return
}

func jetChannel(x float64) byte {
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	return byte(x*255 + 0.5)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// EqualizeHist applies global histogram equalization to an 8-bit grayscale
// frame in place. Frames that are not FormatGray8, or are flat, are left
// untouched. Used on the IR stream, which is otherwise too dark to inspect.
func EqualizeHist(f *Frame) {
	if f == nil || f.Format != FormatGray8 {
		return
	}
	var hist [256]int
	for _, v := range f.Data {
		hist[v]++
	}
	total := len(f.Data)
	if total == 0 {
		return
	}

	var cdf [256]int
	sum := 0
	for i, h := range hist {
		sum += h
		cdf[i] = sum
	}
	cdfMin := 0
	for _, c := range cdf {
		if c > 0 {
			cdfMin = c
			break
		}
	}
	if total == cdfMin {
		// single-valued frame, nothing to spread
		return
	}

	var lut [256]byte
	denom := total - cdfMin
	for i := range lut {
		v := (cdf[i] - cdfMin) * 255 / denom
		if v < 0 {
			v = 0
		}
		lut[i] = byte(v)
	}
	for i, v := range f.Data {
		f.Data[i] = lut[v]
	}
}
