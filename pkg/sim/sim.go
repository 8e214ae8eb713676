// Package sim is a camera driver without hardware. It draws a moving test
// pattern and enforces the same rules as real SDKs: exclusive open and one
// outstanding buffer per device.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/visionline/camd/pkg/device"
)

type Camera struct {
	Serial    string
	Model     string
	UserName  string
	Transport device.Transport
	IP        string
	Width     int
	Height    int
}

// DefaultCameras is what a driver without configured cameras enumerates.
var DefaultCameras = []Camera{
	{Serial: "SIM0001", Model: "SIM-640", UserName: "sim0", Transport: device.TransportUSB, Width: 640, Height: 480},
	{Serial: "SIM0002", Model: "SIM-1280", UserName: "sim1", Transport: device.TransportGigE, IP: "127.0.0.2", Width: 1280, Height: 960},
}

var (
	ErrNotInitialized = errors.New("sim: sdk not initialized")
	ErrNotStarted     = errors.New("sim: grabbing not started")
	ErrOutstanding    = errors.New("sim: previous buffer not released")
	ErrBadRelease     = errors.New("sim: release of unknown buffer")
	ErrBadHandle      = errors.New("sim: invalid handle")
)

var ranges = map[string]device.Range{
	device.ParamExposureTime: {Min: 10, Max: 1_000_000},
	device.ParamGain:         {Min: 0, Max: 24},
	device.ParamGamma:        {Min: 0, Max: 4},
	device.ParamFrameRate:    {Min: 0, Max: 200},
}

type Driver struct {
	Cameras []Camera
	// Interval between frames in continuous mode
	Interval time.Duration

	mu      sync.Mutex
	inited  int
	locked  map[string]bool
	handles int
}

func NewDriver(cameras ...Camera) *Driver {
	if len(cameras) == 0 {
		cameras = DefaultCameras
	}
	return &Driver{
		Cameras:  cameras,
		Interval: 10 * time.Millisecond,
		locked:   map[string]bool{},
	}
}

func (d *Driver) Family() device.Family {
	return device.FamilySim
}

func (d *Driver) Init() error {
	d.mu.Lock()
	d.inited++
	d.mu.Unlock()
	return nil
}

func (d *Driver) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inited == 0 {
		return ErrNotInitialized
	}
	d.inited--
	return nil
}

// Lock marks a camera as opened by another process.
func (d *Driver) Lock(serial string) {
	d.mu.Lock()
	d.locked[serial] = true
	d.mu.Unlock()
}

func (d *Driver) Unlock(serial string) {
	d.mu.Lock()
	delete(d.locked, serial)
	d.mu.Unlock()
}

// Handles returns the number of handles not destroyed yet.
func (d *Driver) Handles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles
}

func (d *Driver) Enumerate(ctx context.Context) ([]device.Descriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inited == 0 {
		return nil, ErrNotInitialized
	}

	list := make([]device.Descriptor, len(d.Cameras))
	for i, cam := range d.Cameras {
		list[i] = device.Descriptor{
			Index:     i,
			Family:    device.FamilySim,
			Transport: cam.Transport,
			Serial:    cam.Serial,
			Model:     cam.Model,
			UserName:  cam.UserName,
			IP:        cam.IP,
		}
	}
	return list, nil
}

func (d *Driver) Open(ctx context.Context, desc device.Descriptor) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, cam := range d.Cameras {
		if cam.Serial != desc.Serial {
			continue
		}
		if d.locked[cam.Serial] {
			return nil, fmt.Errorf("%w: %s", device.ErrDeviceBusy, cam.Serial)
		}
		d.locked[cam.Serial] = true
		d.handles++
		return newHandle(cam), nil
	}

	return nil, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, desc.Serial)
}

func (d *Driver) Configure(ctx context.Context, h device.Handle, params device.Parameters) error {
	cam, err := handleOf(h)
	if err != nil {
		return err
	}

	switch params.PixelFormat {
	case device.PixelMono8, device.PixelRGB8, device.PixelBGR8:
	default:
		return fmt.Errorf("%w: pixel format %s", device.ErrConfigRejected, params.PixelFormat)
	}

	for name, r := range ranges {
		v, _ := params.Get(name)
		if f := v.(float64); f != 0 && !r.Contains(f) {
			return fmt.Errorf("%w: %s=%v out of range", device.ErrConfigRejected, name, f)
		}
	}

	cam.mu.Lock()
	cam.params = params
	cam.mu.Unlock()
	return nil
}

func (d *Driver) Start(h device.Handle) error {
	cam, err := handleOf(h)
	if err != nil {
		return err
	}
	cam.mu.Lock()
	cam.running = true
	cam.counter = 0
	cam.mu.Unlock()
	return nil
}

func (d *Driver) Stop(h device.Handle) error {
	cam, err := handleOf(h)
	if err != nil {
		return err
	}
	cam.mu.Lock()
	cam.running = false
	cam.mu.Unlock()
	return nil
}

func (d *Driver) Grab(h device.Handle, timeout time.Duration) (*device.Buffer, error) {
	cam, err := handleOf(h)
	if err != nil {
		return nil, err
	}

	cam.mu.Lock()
	running, outstanding := cam.running, cam.outstanding
	mode, rate := cam.params.TriggerMode, cam.params.FrameRate
	cam.mu.Unlock()

	if !running {
		return nil, ErrNotStarted
	}
	if outstanding {
		return nil, ErrOutstanding
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var ready <-chan time.Time
	var trigger <-chan struct{}

	switch mode {
	case device.TriggerOff:
		interval := d.Interval
		if rate > 0 {
			interval = time.Duration(float64(time.Second) / rate)
		}
		// a slower frame never arrives in time
		if interval < timeout {
			t := time.NewTimer(interval)
			defer t.Stop()
			ready = t.C
		}
	case device.TriggerSoftware:
		trigger = cam.trigger
	}

	select {
	case <-ready:
	case <-trigger:
	case <-cam.abort:
		return nil, device.ErrFrameTimeout
	case <-timer.C:
		return nil, device.ErrFrameTimeout
	}

	return cam.frame(), nil
}

func (d *Driver) Release(h device.Handle, buf *device.Buffer) error {
	cam, err := handleOf(h)
	if err != nil {
		return err
	}

	cam.mu.Lock()
	defer cam.mu.Unlock()

	if !cam.outstanding || buf.Token != cam.counter {
		return ErrBadRelease
	}
	cam.outstanding = false
	return nil
}

func (d *Driver) Close(h device.Handle) error {
	cam, err := handleOf(h)
	if err != nil {
		return err
	}

	cam.mu.Lock()
	closed := cam.closed
	cam.closed = true
	cam.mu.Unlock()

	if closed {
		return ErrBadHandle
	}

	d.Unlock(cam.Serial)
	return nil
}

func (d *Driver) Destroy(h device.Handle) error {
	cam, err := handleOf(h)
	if err != nil {
		return err
	}

	cam.mu.Lock()
	cam.destroyed = true
	closed := cam.closed
	cam.closed = true
	cam.mu.Unlock()

	if !closed {
		d.Unlock(cam.Serial)
	}

	d.mu.Lock()
	d.handles--
	d.mu.Unlock()
	return nil
}

func (d *Driver) SetParam(h device.Handle, name string, value any) error {
	cam, err := handleOf(h)
	if err != nil {
		return err
	}

	if r, ok := ranges[name]; ok {
		if f, ok := value.(float64); ok && !r.Contains(f) {
			return fmt.Errorf("%w: %s=%v", device.ErrParam, name, f)
		}
	}

	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.params.Set(name, value)
}

func (d *Driver) Param(h device.Handle, name string) (any, error) {
	cam, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.params.Get(name)
}

func (d *Driver) Range(h device.Handle, name string) (device.Range, error) {
	if _, err := handleOf(h); err != nil {
		return device.Range{}, err
	}
	if r, ok := ranges[name]; ok {
		return r, nil
	}
	return device.Range{}, device.ErrUnsupported
}

func (d *Driver) Abort(h device.Handle) error {
	cam, err := handleOf(h)
	if err != nil {
		return err
	}
	select {
	case cam.abort <- struct{}{}:
	default:
	}
	return nil
}

func (d *Driver) Trigger(h device.Handle) error {
	cam, err := handleOf(h)
	if err != nil {
		return err
	}
	select {
	case cam.trigger <- struct{}{}:
	default:
	}
	return nil
}
