package device

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// PixelFormat values follow the GigE Vision PFNC codes used by both SDK families.
type PixelFormat uint32

const (
	PixelUnknown  PixelFormat = 0
	PixelMono8    PixelFormat = 0x01080001
	PixelBayerGR8 PixelFormat = 0x01080008
	PixelBayerRG8 PixelFormat = 0x01080009
	PixelBayerGB8 PixelFormat = 0x0108000A
	PixelBayerBG8 PixelFormat = 0x0108000B
	PixelRGB8     PixelFormat = 0x02180014
	PixelBGR8     PixelFormat = 0x02180015
)

var pixelNames = map[PixelFormat]string{
	PixelMono8:    "Mono8",
	PixelBayerGR8: "BayerGR8",
	PixelBayerRG8: "BayerRG8",
	PixelBayerGB8: "BayerGB8",
	PixelBayerBG8: "BayerBG8",
	PixelRGB8:     "RGB8",
	PixelBGR8:     "BGR8",
}

func (f PixelFormat) String() string {
	if s, ok := pixelNames[f]; ok {
		return s
	}
	return fmt.Sprintf("0x%08x", uint32(f))
}

func (f PixelFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func ParsePixelFormat(s string) (PixelFormat, error) {
	if s == "" {
		return PixelMono8, nil
	}
	for f, name := range pixelNames {
		if strings.EqualFold(name, s) {
			return f, nil
		}
	}
	switch strings.ToLower(s) {
	case "mono", "gray":
		return PixelMono8, nil
	case "rgb", "color":
		return PixelRGB8, nil
	}
	return PixelUnknown, fmt.Errorf("%w: pixel format %q", ErrParam, s)
}

// Color is true for three channel formats.
func (f PixelFormat) Color() bool {
	return f == PixelRGB8 || f == PixelBGR8
}

// Bytes per pixel, Bayer mosaics are one byte per pixel.
func (f PixelFormat) Bytes() int {
	if f.Color() {
		return 3
	}
	return 1
}

// Frame is an owned copy of one captured image, safe to share between
// goroutines. Consumers must not modify Pixels.
type Frame struct {
	Pixels    []byte      `json:"-"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Format    PixelFormat `json:"format"`
	Sequence  uint64      `json:"sequence"`
	Timestamp time.Time   `json:"timestamp"`
}

// copyFrame copies buf out of driver memory. It never keeps a reference to buf.Data.
func copyFrame(buf *Buffer, seq uint64) (*Frame, error) {
	if buf.Width <= 0 || buf.Height <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrDecode, buf.Width, buf.Height)
	}

	size := buf.Width * buf.Height * buf.Format.Bytes()
	if len(buf.Data) < size {
		return nil, fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d", ErrDecode, buf.Format, buf.Width, buf.Height, size, len(buf.Data))
	}

	ts := buf.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	pixels := make([]byte, size)
	copy(pixels, buf.Data)

	return &Frame{
		Pixels:    pixels,
		Width:     buf.Width,
		Height:    buf.Height,
		Format:    buf.Format,
		Sequence:  seq,
		Timestamp: ts,
	}, nil
}

// Image wraps Pixels without conversion where possible.
// Bayer mosaics are returned as gray, demosaicing is left to consumers.
func (f *Frame) Image() image.Image {
	rect := image.Rect(0, 0, f.Width, f.Height)

	switch f.Format {
	case PixelRGB8, PixelBGR8:
		img := image.NewRGBA(rect)
		r, b := 0, 2
		if f.Format == PixelBGR8 {
			r, b = 2, 0
		}
		for i, j := 0, 0; i+2 < len(f.Pixels) && j < len(img.Pix); i, j = i+3, j+4 {
			img.Pix[j] = f.Pixels[i+r]
			img.Pix[j+1] = f.Pixels[i+1]
			img.Pix[j+2] = f.Pixels[i+b]
			img.Pix[j+3] = 0xFF
		}
		return img
	}

	return &image.Gray{Pix: f.Pixels, Stride: f.Width, Rect: rect}
}
