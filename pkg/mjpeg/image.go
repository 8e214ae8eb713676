package mjpeg

import (
	"fmt"
	"image"

	"github.com/visionline/camd/pkg/device"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Options change the picture before encoding. Zero Width or Height keeps the
// aspect ratio.
type Options struct {
	Quality int
	Width   int
	Height  int

	// Overlay prints label, sequence and time in the top left corner
	Overlay bool
	Label   string
}

// Render returns the frame picture with options applied. Frame pixels are
// never modified, a changed picture is always a copy.
func Render(frame *device.Frame, opts *Options) image.Image {
	src := frame.Image()
	if opts == nil {
		return src
	}

	b := src.Bounds()
	w, h := opts.size(b)
	if w == b.Dx() && h == b.Dy() && !opts.Overlay {
		return src
	}

	var dst draw.Image
	if _, ok := src.(*image.Gray); ok {
		dst = image.NewGray(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}

	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}

	if opts.Overlay {
		text := fmt.Sprintf("%s #%d %s", opts.Label, frame.Sequence, frame.Timestamp.Format("15:04:05.000"))
		drawText(dst, text)
	}

	return dst
}

func (o *Options) size(b image.Rectangle) (w, h int) {
	w, h = o.Width, o.Height
	switch {
	case w <= 0 && h <= 0:
		return b.Dx(), b.Dy()
	case w <= 0:
		w = b.Dx() * h / b.Dy()
	case h <= 0:
		h = b.Dy() * w / b.Dx()
	}
	return max(w, 1), max(h, 1)
}

const textPadding = 2

func drawText(img draw.Image, text string) {
	face := basicfont.Face7x13

	d := &font.Drawer{Dst: img, Src: image.White, Face: face}

	box := image.Rect(0, 0, d.MeasureString(text).Ceil()+2*textPadding, face.Height+2*textPadding)
	draw.Draw(img, box.Intersect(img.Bounds()), image.Black, image.Point{}, draw.Src)

	d.Dot = fixed.P(textPadding, textPadding+face.Ascent)
	d.DrawString(text)
}
