package sim

import (
	"sync"
	"time"

	"github.com/visionline/camd/pkg/device"
)

type handle struct {
	Camera

	mu          sync.Mutex
	params      device.Parameters
	running     bool
	outstanding bool
	closed      bool
	destroyed   bool
	counter     int
	pix         []byte

	abort   chan struct{}
	trigger chan struct{}
}

func newHandle(cam Camera) *handle {
	if cam.Width <= 0 || cam.Height <= 0 {
		cam.Width, cam.Height = 640, 480
	}
	return &handle{
		Camera:  cam,
		params:  device.DefaultParameters(),
		abort:   make(chan struct{}, 1),
		trigger: make(chan struct{}, 1),
	}
}

func handleOf(h device.Handle) (*handle, error) {
	cam, ok := h.(*handle)
	if !ok || cam == nil {
		return nil, ErrBadHandle
	}
	cam.mu.Lock()
	destroyed := cam.destroyed
	cam.mu.Unlock()
	if destroyed {
		return nil, ErrBadHandle
	}
	return cam, nil
}

// frame draws the next test image into the driver owned buffer.
// The buffer is reused, so it is only valid until Release.
func (h *handle) frame() *device.Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.counter++
	h.outstanding = true

	format := h.params.PixelFormat
	size := h.Width * h.Height * format.Bytes()
	if cap(h.pix) < size {
		h.pix = make([]byte, size)
	}
	pix := h.pix[:size]

	if format.Color() {
		drawColor(pix, h.Width, h.Height, h.counter, format == device.PixelBGR8)
	} else {
		drawGray(pix, h.Width, h.Height, h.counter)
	}

	return &device.Buffer{
		Data:      pix,
		Width:     h.Width,
		Height:    h.Height,
		Format:    format,
		Timestamp: time.Now(),
		Token:     h.counter,
	}
}

// moving diagonal gradient with a counter box in the top left corner
func drawGray(pix []byte, w, h, n int) {
	offset := n * 2
	for y := 0; y < h; y++ {
		gy := scale(y, h)
		row := pix[y*w : (y+1)*w]
		for x := range row {
			row[x] = byte(scale(x, w) + gy + offset)
		}
	}

	box(w, h, func(i int, inner bool) {
		if inner {
			pix[i] = byte(n)
		} else {
			pix[i] = 0xFF
		}
	})
}

func drawColor(pix []byte, w, h, n int, bgr bool) {
	r, b := 0, 2
	if bgr {
		r, b = 2, 0
	}

	for y := 0; y < h; y++ {
		gy := scale(y, h)
		for x := 0; x < w; x++ {
			gx := scale(x, w)
			i := (y*w + x) * 3
			pix[i+r] = byte(gx + n*2)
			pix[i+1] = byte(gy + n*3)
			pix[i+b] = byte(gx + gy + n*5)
		}
	}

	box(w, h, func(i int, inner bool) {
		i *= 3
		pix[i+r], pix[i+b] = 0xFF, 0xFF
		pix[i+1] = 0xFF
		if inner {
			pix[i+r], pix[i+b] = 0, 0
		}
	})
}

func box(w, h int, set func(i int, inner bool)) {
	bw, bh := min(200, w), min(30, h)
	for y := 0; y < bh; y++ {
		for x := 0; x < bw; x++ {
			inner := y >= 5 && y < 25 && x >= 5 && x < 195
			set(y*w+x, inner)
		}
	}
}

// scale maps 0..n-1 to 0..255
func scale(i, n int) int {
	if n <= 1 {
		return 0
	}
	return i * 255 / (n - 1)
}
