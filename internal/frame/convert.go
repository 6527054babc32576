package frame

import (
	"encoding/binary"
	"image"
	"image/color"
)

// FromImage repacks a decoded image into the stream's canonical format:
// Gray16 for depth_raw, Gray8 for ir, RGB8 otherwise. Common image types
// take the row-copy path; anything else goes through the color model.
func FromImage(stream Stream, img image.Image) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch stream {
	case StreamDepthRaw:
		f := New(stream, w, h, FormatGray16)
		if g16, ok := img.(*image.Gray16); ok {
			for y := 0; y < h; y++ {
				src := g16.Pix[y*g16.Stride : y*g16.Stride+2*w]
				copy(f.Data[y*2*w:], src)
			}
			return f
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				binary.BigEndian.PutUint16(f.Data[(y*w+x)*2:], c.Y)
			}
		}
		return f

	case StreamIR:
		f := New(stream, w, h, FormatGray8)
		if g, ok := img.(*image.Gray); ok {
			for y := 0; y < h; y++ {
				copy(f.Data[y*w:], g.Pix[y*g.Stride:y*g.Stride+w])
			}
			return f
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				f.Data[y*w+x] = c.Y
			}
		}
		return f

	default:
		f := New(stream, w, h, FormatRGB8)
		if rgba, ok := img.(*image.RGBA); ok {
			for y := 0; y < h; y++ {
				src := rgba.Pix[y*rgba.Stride:]
				dst := f.Data[y*w*3:]
				for x := 0; x < w; x++ {
					dst[x*3+0] = src[x*4+0]
					dst[x*3+1] = src[x*4+1]
					dst[x*3+2] = src[x*4+2]
				}
			}
			return f
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				i := (y*w + x) * 3
				f.Data[i+0] = byte(r >> 8)
				f.Data[i+1] = byte(g >> 8)
				f.Data[i+2] = byte(bl >> 8)
			}
		}
		return f
	}
}
