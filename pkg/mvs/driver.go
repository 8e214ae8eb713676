// Package mvs adapts the Hikrobot MVS camera SDK to device.Driver.
package mvs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/visionline/camd/pkg/device"
)

type Driver struct {
	sdk SDK

	mu    sync.Mutex
	infos map[string]DeviceInfo // last enumeration by serial
}

func NewDriver(sdk SDK) *Driver {
	return &Driver{sdk: sdk, infos: map[string]DeviceInfo{}}
}

type handle struct {
	cam  Camera
	gige bool
}

func (d *Driver) Family() device.Family {
	return device.FamilyMVS
}

func (d *Driver) Init() error {
	return check(d.sdk.Initialize())
}

func (d *Driver) Cleanup() error {
	return check(d.sdk.Finalize())
}

func (d *Driver) Enumerate(ctx context.Context) ([]device.Descriptor, error) {
	infos, code := d.sdk.EnumDevices(LayerGigE | LayerUSB)
	if err := check(code); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := make([]device.Descriptor, 0, len(infos))
	for _, info := range infos {
		desc := device.Descriptor{
			Index:    len(list),
			Family:   device.FamilyMVS,
			Serial:   info.SerialNumber,
			Model:    info.ModelName,
			UserName: info.UserDefinedName,
		}
		switch info.TLayerType {
		case LayerGigE:
			desc.Transport = device.TransportGigE
			desc.IP = ipString(info.CurrentIP)
		case LayerUSB:
			desc.Transport = device.TransportUSB
		}
		d.infos[info.SerialNumber] = info
		list = append(list, desc)
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

	cam, code := d.sdk.CreateHandle(info)
	if err := check(code); err != nil {
		return nil, fmt.Errorf("create handle: %w", err)
	}

	if err := check(cam.OpenDevice(AccessExclusive, 0)); err != nil {
		// the handle exists even when open fails
		_ = cam.DestroyHandle()
		return nil, fmt.Errorf("open device: %w", err)
	}

	return &handle{cam: cam, gige: info.TLayerType == LayerGigE}, nil
}

func (d *Driver) Configure(ctx context.Context, h device.Handle, params device.Parameters) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	cam := hd.cam

	if hd.gige {
		size := params.PacketSize
		if size == 0 {
			size = int(cam.GetOptimalPacketSize())
		}
		if size > 0 {
			if err = check(cam.SetIntValue("GevSCPSPacketSize", int64(size))); err != nil {
				return fmt.Errorf("packet size %d: %w", size, err)
			}
		}
	}

	if err = setTrigger(cam, params.TriggerMode); err != nil {
		return err
	}

	if err = check(cam.SetEnumValue("PixelFormat", uint32(params.PixelFormat))); err != nil {
		return fmt.Errorf("pixel format %s: %w", params.PixelFormat, err)
	}

	if err = check(cam.SetEnumValue("ExposureAuto", ExposureAutoOff)); err != nil {
		return fmt.Errorf("exposure auto: %w", err)
	}

	for _, name := range []string{device.ParamExposureTime, device.ParamGain, device.ParamGamma, device.ParamFrameRate} {
		v, _ := params.Get(name)
		f := v.(float64)
		if f == 0 && name != device.ParamGain {
			continue
		}
		if err = check(cam.SetFloatValue(floatKeys[name], float32(f))); err != nil {
			return fmt.Errorf("%s=%v: %w", name, f, err)
		}
	}

	return nil
}

func (d *Driver) Start(h device.Handle) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	return check(hd.cam.StartGrabbing())
}

func (d *Driver) Stop(h device.Handle) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	return check(hd.cam.StopGrabbing())
}

func (d *Driver) Grab(h device.Handle, timeout time.Duration) (*device.Buffer, error) {
	hd, err := handleOf(h)
	if err != nil {
		return nil, err
	}

	frame, code := hd.cam.GetImageBuffer(uint32(timeout.Milliseconds()))
	if frame == nil {
		return nil, check(code)
	}

	data := frame.Data
	if n := int(frame.FrameLen); n > 0 && n <= len(data) {
		data = data[:n]
	}

	buf := &device.Buffer{
		Data:      data,
		Width:     int(frame.Width),
		Height:    int(frame.Height),
		Format:    device.PixelFormat(frame.PixelType),
		Timestamp: time.Now(),
		Token:     frame,
	}
	return buf, check(code)
}

func (d *Driver) Release(h device.Handle, buf *device.Buffer) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	frame, ok := buf.Token.(*FrameOut)
	if !ok {
		return fmt.Errorf("%w: foreign buffer", device.ErrDriver)
	}
	return check(hd.cam.FreeImageBuffer(frame))
}

func (d *Driver) Close(h device.Handle) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	return check(hd.cam.CloseDevice())
}

func (d *Driver) Destroy(h device.Handle) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	return check(hd.cam.DestroyHandle())
}

var floatKeys = map[string]string{
	device.ParamExposureTime: "ExposureTime",
	device.ParamGain:         "Gain",
	device.ParamGamma:        "Gamma",
	device.ParamFrameRate:    "AcquisitionFrameRate",
}

func (d *Driver) SetParam(h device.Handle, name string, value any) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	cam := hd.cam

	switch name {
	case device.ParamTriggerMode:
		mode, ok := value.(device.TriggerMode)
		if !ok {
			return fmt.Errorf("%w: %s=%v", device.ErrParam, name, value)
		}
		return setTrigger(cam, mode)

	case device.ParamPixelFormat:
		format, ok := value.(device.PixelFormat)
		if !ok {
			return fmt.Errorf("%w: %s=%v", device.ErrParam, name, value)
		}
		return check(cam.SetEnumValue("PixelFormat", uint32(format)))

	case device.ParamPacketSize:
		size, ok := value.(int)
		if !ok || !hd.gige {
			return fmt.Errorf("%w: %s=%v", device.ErrParam, name, value)
		}
		if size == 0 {
			size = int(cam.GetOptimalPacketSize())
		}
		return check(cam.SetIntValue("GevSCPSPacketSize", int64(size)))
	}

	key, ok := floatKeys[name]
	if !ok {
		return device.ErrUnsupported
	}
	f, ok := value.(float64)
	if !ok {
		return fmt.Errorf("%w: %s=%v", device.ErrParam, name, value)
	}
	if name == device.ParamExposureTime {
		if err = check(cam.SetEnumValue("ExposureAuto", ExposureAutoOff)); err != nil {
			return err
		}
	}
	return check(cam.SetFloatValue(key, float32(f)))
}

func (d *Driver) Param(h device.Handle, name string) (any, error) {
	v, err := d.floatValue(h, name)
	if err != nil {
		return nil, err
	}
	return float64(v.Current), nil
}

func (d *Driver) Range(h device.Handle, name string) (device.Range, error) {
	v, err := d.floatValue(h, name)
	if err != nil {
		return device.Range{}, err
	}
	return device.Range{Min: float64(v.Min), Max: float64(v.Max)}, nil
}

func (d *Driver) Trigger(h device.Handle) error {
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	return check(hd.cam.SetCommandValue("TriggerSoftware"))
}

func (d *Driver) floatValue(h device.Handle, name string) (FloatValue, error) {
	hd, err := handleOf(h)
	if err != nil {
		return FloatValue{}, err
	}
	key, ok := floatKeys[name]
	if !ok {
		return FloatValue{}, device.ErrUnsupported
	}
	v, code := hd.cam.GetFloatValue(key)
	return v, check(code)
}

func setTrigger(cam Camera, mode device.TriggerMode) error {
	if mode == device.TriggerOff {
		if err := check(cam.SetEnumValue("TriggerMode", TriggerModeOff)); err != nil {
			return fmt.Errorf("trigger mode: %w", err)
		}
		return nil
	}

	if err := check(cam.SetEnumValue("TriggerMode", TriggerModeOn)); err != nil {
		return fmt.Errorf("trigger mode: %w", err)
	}

	source := TriggerSourceLine0
	if mode == device.TriggerSoftware {
		source = TriggerSourceSoftware
	}
	if err := check(cam.SetEnumValue("TriggerSource", source)); err != nil {
		return fmt.Errorf("trigger source: %w", err)
	}
	return nil
}

func handleOf(h device.Handle) (*handle, error) {
	if hd, ok := h.(*handle); ok && hd != nil {
		return hd, nil
	}
	return nil, check(ErrHandle)
}

func ipString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}
