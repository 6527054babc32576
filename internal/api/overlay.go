package api

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/fieldscan/fieldscan/internal/frame"
	"github.com/fieldscan/fieldscan/internal/rig"
)

const (
	overlayPad    = 4
	overlayLineH  = 14
	overlayHeight = overlayPad*2 + overlayLineH*2
)

var (
	overlayBG   = color.RGBA{0, 0, 0, 160}
	overlayText = color.RGBA{255, 255, 255, 255}
)

// renderPreview converts a published frame to RGBA and burns the status
// strip into the top edge. The source frame is never touched; previews are
// drawn on a fresh copy.
func renderPreview(f *frame.Frame, st rig.Status) *image.RGBA {
	bounds := image.Rect(0, 0, f.Width, f.Height)
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, f.Image(), image.Point{}, draw.Src)

	strip := image.Rect(0, 0, f.Width, overlayHeight)
	draw.Draw(img, strip, &image.Uniform{overlayBG}, image.Point{}, draw.Over)

	drawLabel(img, overlayPad, overlayPad+11, statusLine(f))
	drawLabel(img, overlayPad, overlayPad+11+overlayLineH, locationLine(st))
	return img
}

func drawLabel(img *image.RGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(overlayText),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func statusLine(f *frame.Frame) string {
	return fmt.Sprintf("%s  %s #%d",
		f.Timestamp.UTC().Format("2006-01-02 15:04:05.000"), f.Stream, f.Seq)
}

func locationLine(st rig.Status) string {
	state := string(st.Capture.State)
	fix := st.GPS.Fix
	switch {
	case fix != nil:
		return fmt.Sprintf("%.5f%s %.5f%s  sats %d  %s",
			math.Abs(fix.Latitude), fix.LatDir(),
			math.Abs(fix.Longitude), fix.LonDir(),
			fix.Satellites, state)
	case st.GPS.Enabled:
		return "no fix  " + state
	default:
		return "gps off  " + state
	}
}
