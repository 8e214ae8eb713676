// Package mindvision adapts the MindVision camera SDK to device.Driver.
package mindvision

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/visionline/camd/pkg/device"
)

type Driver struct {
	sdk SDK

	mu    sync.Mutex
	infos map[string]DevInfo
}

func NewDriver(sdk SDK) *Driver {
	return &Driver{sdk: sdk, infos: map[string]DevInfo{}}
}

type handle struct {
	id   int32
	caps Capability
	// ISP output, reused for every frame
	out []byte
}

func (d *Driver) Family() device.Family {
	return device.FamilyMindVision
}

func (d *Driver) Init() error {
	return check(d.sdk.SdkInit(1))
}

// Cleanup does nothing, the SDK has no global teardown.
func (d *Driver) Cleanup() error {
	return nil
}

func (d *Driver) Enumerate(ctx context.Context) ([]device.Descriptor, error) {
	infos, status := d.sdk.EnumerateDevice()
	if status == NoDeviceFound {
		return nil, nil
	}
	if err := check(status); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := make([]device.Descriptor, len(infos))
	for i, info := range infos {
		desc := device.Descriptor{
			Index:    i,
			Family:   device.FamilyMindVision,
			Serial:   info.Sn,
			Model:    info.ProductName,
			UserName: info.FriendlyName,
		}
		if strings.HasPrefix(info.PortType, "NET") {
			desc.Transport = device.TransportGigE
			desc.IP = info.IP
		} else {
			desc.Transport = device.TransportUSB
		}
		d.infos[info.Sn] = info
		list[i] = desc
	}
	return list, nil
}

func (d *Driver) Open(ctx context.Context, desc device.Descriptor) (device.Handle, error) {
	d.mu.Lock()
	info, ok := d.infos[desc.Serial]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, desc.Serial)
	}

	id, status := d.sdk.Init(info)
	if err := check(status); err != nil {
		return nil, fmt.Errorf("camera init: %w", err)
	}

	caps, status := d.sdk.GetCapability(id)
	if err := check(status); err != nil {
		_ = d.sdk.UnInit(id)
		return nil, fmt.Errorf("capability: %w", err)
	}

	return &handle{id: id, caps: caps}, nil
}

func (d *Driver) Configure(ctx context.Context, h device.Handle, params device.Parameters) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}

	if hd.caps.Mono && params.PixelFormat.Color() {
		return fmt.Errorf("%w: %s on mono sensor", device.ErrConfigRejected, params.PixelFormat)
	}

	switch params.PixelFormat {
	case device.PixelMono8, device.PixelRGB8, device.PixelBGR8:
	default:
		return fmt.Errorf("%w: isp output %s", device.ErrConfigRejected, params.PixelFormat)
	}

	type step struct {
		name string
		fn   func() Status
	}

	steps := []step{
		{"trigger mode", func() Status { return d.sdk.SetTriggerMode(hd.id, triggerMode(params.TriggerMode)) }},
		{"isp format", func() Status { return d.sdk.SetIspOutFormat(hd.id, uint32(params.PixelFormat)) }},
		{"auto exposure", func() Status { return d.sdk.SetAeState(hd.id, false) }},
		{"exposure", func() Status { return d.setExposure(hd, params.ExposureTime) }},
		{"gain", func() Status { return d.setGain(hd, params.Gain) }},
	}
	if params.Gamma > 0 {
		steps = append(steps, step{"gamma", func() Status {
			return d.sdk.SetGamma(hd.id, int32(math.Round(params.Gamma*100)))
		}})
	}

	for _, step := range steps {
		if err = check(step.fn()); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	size := int(hd.caps.MaxWidth) * int(hd.caps.MaxHeight) * params.PixelFormat.Bytes()
	if cap(hd.out) < size {
		hd.out = make([]byte, size)
	}
	return nil
}

func (d *Driver) setExposure(hd *handle, us float64) Status {
	if hd.caps.ExposureMax > 0 && (us < hd.caps.ExposureMin || us > hd.caps.ExposureMax) {
		return OutOfBound
	}
	return d.sdk.SetExposureTime(hd.id, us)
}

func (d *Driver) setGain(hd *handle, gain float64) Status {
	g := int32(math.Round(gain))
	if hd.caps.GainMax > 0 && (g < hd.caps.GainMin || g > hd.caps.GainMax) {
		return OutOfBound
	}
	return d.sdk.SetAnalogGain(hd.id, g)
}

func (d *Driver) Start(h device.Handle) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	return check(d.sdk.Play(hd.id))
}

func (d *Driver) Stop(h device.Handle) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	return check(d.sdk.Pause(hd.id))
}

// Grab fetches the raw frame and runs the ISP into the handle buffer.
// The raw buffer stays with the SDK until Release.
func (d *Driver) Grab(h device.Handle, timeout time.Duration) (*device.Buffer, error) {
	hd, err := handleOf(h)
	if err != nil {
		return nil, err
	}

	raw, head, status := d.sdk.GetImageBuffer(hd.id, uint32(timeout.Milliseconds()))
	if raw == nil {
		return nil, check(status)
	}

	buf := &device.Buffer{Timestamp: time.Now(), Token: raw}
	if err = check(status); err != nil {
		return buf, err
	}

	if err = check(d.sdk.ImageProcess(hd.id, raw, hd.out, &head)); err != nil {
		return buf, fmt.Errorf("image process: %w", err)
	}

	n := int(head.Bytes)
	if n == 0 || n > len(hd.out) {
		n = len(hd.out)
	}
	buf.Data = hd.out[:n]
	buf.Width = int(head.Width)
	buf.Height = int(head.Height)
	buf.Format = device.PixelFormat(head.MediaType)
	return buf, nil
}

func (d *Driver) Release(h device.Handle, buf *device.Buffer) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	raw, ok := buf.Token.(*RawBuffer)
	if !ok {
		return fmt.Errorf("%w: foreign buffer", device.ErrDriver)
	}
	return check(d.sdk.ReleaseImageBuffer(hd.id, raw))
}

// Close does nothing, CameraUnInit in Destroy closes and frees the handle.
func (d *Driver) Close(h device.Handle) error {
	_, err := handleOf(h)
	return err
}

func (d *Driver) Destroy(h device.Handle) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	return check(d.sdk.UnInit(hd.id))
}

func (d *Driver) SetParam(h device.Handle, name string, value any) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}

	switch name {
	case device.ParamExposureTime, device.ParamGain, device.ParamGamma:
		f, ok := value.(float64)
		if !ok {
			return fmt.Errorf("%w: %s=%v", device.ErrParam, name, value)
		}
		switch name {
		case device.ParamExposureTime:
			return check(d.setExposure(hd, f))
		case device.ParamGain:
			return check(d.setGain(hd, f))
		}
		return check(d.sdk.SetGamma(hd.id, int32(math.Round(f*100))))

	case device.ParamTriggerMode:
		mode, ok := value.(device.TriggerMode)
		if !ok {
			return fmt.Errorf("%w: %s=%v", device.ErrParam, name, value)
		}
		return check(d.sdk.SetTriggerMode(hd.id, triggerMode(mode)))
	}

	return device.ErrUnsupported
}

func (d *Driver) Param(h device.Handle, name string) (any, error) {
	hd, err := handleOf(h)
	if err != nil {
		return nil, err
	}

	switch name {
	case device.ParamExposureTime:
		us, status := d.sdk.GetExposureTime(hd.id)
		return us, check(status)
	case device.ParamGain:
		g, status := d.sdk.GetAnalogGain(hd.id)
		return float64(g), check(status)
	}
	return nil, device.ErrUnsupported
}

func (d *Driver) Range(h device.Handle, name string) (device.Range, error) {
	hd, err := handleOf(h)
	if err != nil {
		return device.Range{}, err
	}

	switch {
	case name == device.ParamExposureTime && hd.caps.ExposureMax > 0:
		return device.Range{Min: hd.caps.ExposureMin, Max: hd.caps.ExposureMax}, nil
	case name == device.ParamGain && hd.caps.GainMax > 0:
		return device.Range{Min: float64(hd.caps.GainMin), Max: float64(hd.caps.GainMax)}, nil
	}
	return device.Range{}, device.ErrUnsupported
}

func (d *Driver) Trigger(h device.Handle) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	return check(d.sdk.SoftTrigger(hd.id))
}

func triggerMode(mode device.TriggerMode) int32 {
	switch mode {
	case device.TriggerSoftware:
		return TriggerSoftware
	case device.TriggerHardware:
		return TriggerHardware
	}
	return TriggerContinuous
}

func handleOf(h device.Handle) (*handle, error) {
	if hd, ok := h.(*handle); ok && hd != nil {
		return hd, nil
	}
	return nil, fmt.Errorf("%w: invalid handle", device.ErrDriver)
}
