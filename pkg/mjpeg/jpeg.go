package mjpeg

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"

	"github.com/visionline/camd/pkg/device"
)

const DefaultQuality = 85

var buffers = sync.Pool{
	New: func() any { return bytes.NewBuffer(make([]byte, 0, 256*1024)) },
}

// Encode compresses a frame to JPEG. Quality outside 1-100 means DefaultQuality.
func Encode(frame *device.Frame, quality int) ([]byte, error) {
	return EncodeImage(frame.Image(), quality)
}

func EncodeWith(frame *device.Frame, opts *Options) ([]byte, error) {
	if opts == nil {
		return Encode(frame, 0)
	}
	return EncodeImage(Render(frame, opts), opts.Quality)
}

func EncodeImage(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}

	buf := buffers.Get().(*bytes.Buffer)
	defer buffers.Put(buf)
	buf.Reset()

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}

	b := make([]byte, buf.Len())
	copy(b, buf.Bytes())
	return b, nil
}

// IsJPEG checks for the SOI marker.
func IsJPEG(b []byte) bool {
	return len(b) > 2 && b[0] == 0xFF && b[1] == markerSOI
}

const markerSOI = 0xD8 // Start Of Image
