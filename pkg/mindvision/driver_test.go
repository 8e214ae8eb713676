package mindvision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/visionline/camd/pkg/device"
)

type fakeSDK struct {
	devices  []DevInfo
	initErr  Status
	grabs    []Status
	calls    []string
	released int
	exposure float64
	gain     int32
	trigger  int32
	format   uint32
}

func (s *fakeSDK) call(name string) Status {
	s.calls = append(s.calls, name)
	return Success
}

func (s *fakeSDK) SdkInit(language int32) Status { return s.call("sdk init") }

func (s *fakeSDK) EnumerateDevice() ([]DevInfo, Status) {
	if len(s.devices) == 0 {
		return nil, NoDeviceFound
	}
	return s.devices, Success
}

func (s *fakeSDK) Init(info DevInfo) (int32, Status) {
	s.call("init " + info.Sn)
	if s.initErr != Success {
		return 0, s.initErr
	}
	return 7, Success
}

func (s *fakeSDK) UnInit(h int32) Status { return s.call("uninit") }

func (s *fakeSDK) GetCapability(h int32) (Capability, Status) {
	return Capability{MaxWidth: 4, MaxHeight: 2, Mono: true, ExposureMin: 20, ExposureMax: 500000, GainMin: 1, GainMax: 16}, Success
}

func (s *fakeSDK) SetTriggerMode(h int32, mode int32) Status {
	s.trigger = mode
	return s.call("trigger mode")
}

func (s *fakeSDK) SoftTrigger(h int32) Status                { return s.call("soft trigger") }
func (s *fakeSDK) SetAeState(h int32, auto bool) Status      { return s.call("ae") }
func (s *fakeSDK) SetGamma(h int32, gamma int32) Status      { return s.call("gamma") }
func (s *fakeSDK) Play(h int32) Status                       { return s.call("play") }
func (s *fakeSDK) Pause(h int32) Status                      { return s.call("pause") }
func (s *fakeSDK) GetExposureTime(h int32) (float64, Status) { return s.exposure, Success }
func (s *fakeSDK) GetAnalogGain(h int32) (int32, Status)     { return s.gain, Success }

func (s *fakeSDK) SetExposureTime(h int32, us float64) Status {
	s.exposure = us
	return s.call("exposure")
}

func (s *fakeSDK) SetAnalogGain(h int32, gain int32) Status {
	s.gain = gain
	return s.call("gain")
}

func (s *fakeSDK) SetIspOutFormat(h int32, format uint32) Status {
	s.format = format
	return s.call("isp format")
}

func (s *fakeSDK) GetImageBuffer(h int32, timeoutMs uint32) (*RawBuffer, FrameHead, Status) {
	status := Success
	if len(s.grabs) > 0 {
		status, s.grabs = s.grabs[0], s.grabs[1:]
	}
	if status == TimeOut {
		return nil, FrameHead{}, status
	}
	return &RawBuffer{Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}, FrameHead{Width: 4, Height: 2}, status
}

func (s *fakeSDK) ImageProcess(h int32, raw *RawBuffer, out []byte, head *FrameHead) Status {
	copy(out, raw.Data)
	head.MediaType = s.format
	head.Bytes = uint32(len(raw.Data))
	return Success
}

func (s *fakeSDK) ReleaseImageBuffer(h int32, raw *RawBuffer) Status {
	s.released++
	return s.call("release")
}

func testSDK() *fakeSDK {
	return &fakeSDK{devices: []DevInfo{
		{ProductName: "MV-GE134GM", FriendlyName: "Line1", PortType: "NET-1000M-192.168.0.1", Sn: "043061720012", IP: "192.168.0.20"},
		{ProductName: "MV-UBS31GM", FriendlyName: "Bench", PortType: "USB3.0", Sn: "044011920101"},
	}}
}

func TestStatus(t *testing.T) {
	require.ErrorIs(t, check(TimeOut), device.ErrFrameTimeout)
	require.ErrorIs(t, check(DeviceIsOpened), device.ErrDeviceBusy)
	require.ErrorIs(t, check(OutOfBound), device.ErrParam)
	require.ErrorIs(t, check(DeviceLost), device.ErrDriver)
	require.Nil(t, check(Success))
	require.Equal(t, "mindvision: device is opened (-18)", DeviceIsOpened.Error())
	require.Equal(t, "mindvision: status -99", Status(-99).Error())
}

func TestEnumerate(t *testing.T) {
	d := NewDriver(testSDK())

	list, err := d.Enumerate(context.Background())
	require.Nil(t, err)
	require.Equal(t, "GigE: Line1 MV-GE134GM (192.168.0.20)", list[0].Name())
	require.Equal(t, "USB: Bench MV-UBS31GM (044011920101)", list[1].Name())

	d = NewDriver(&fakeSDK{})
	list, err = d.Enumerate(context.Background())
	require.Nil(t, err)
	require.Empty(t, list)
}

func TestOpenBusy(t *testing.T) {
	sdk := testSDK()
	sdk.initErr = DeviceIsOpened
	d := NewDriver(sdk)
	ctx := context.Background()

	list, err := d.Enumerate(ctx)
	require.Nil(t, err)

	_, err = d.Open(ctx, list[0])
	require.ErrorIs(t, err, device.ErrDeviceBusy)
}

func TestConfigureAndGrab(t *testing.T) {
	sdk := testSDK()
	d := NewDriver(sdk)
	ctx := context.Background()

	list, err := d.Enumerate(ctx)
	require.Nil(t, err)
	h, err := d.Open(ctx, list[1])
	require.Nil(t, err)

	params := device.DefaultParameters()
	params.PixelFormat = device.PixelRGB8
	require.ErrorIs(t, d.Configure(ctx, h, params), device.ErrConfigRejected)

	params = device.DefaultParameters()
	params.Gain = 40
	require.ErrorIs(t, d.Configure(ctx, h, params), device.ErrParam)

	params.Gain = 4
	params.TriggerMode = device.TriggerSoftware
	require.Nil(t, d.Configure(ctx, h, params))
	require.Equal(t, TriggerSoftware, sdk.trigger)
	require.Equal(t, int32(4), sdk.gain)
	require.Equal(t, 10000.0, sdk.exposure)

	r, err := d.Range(h, device.ParamGain)
	require.Nil(t, err)
	require.Equal(t, device.Range{Min: 1, Max: 16}, r)

	require.Nil(t, d.Start(h))

	sdk.grabs = []Status{Success, TimeOut}

	buf, err := d.Grab(h, time.Second)
	require.Nil(t, err)
	require.Equal(t, 4, buf.Width)
	require.Equal(t, device.PixelMono8, buf.Format)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf.Data)
	require.Nil(t, d.Release(h, buf))

	buf, err = d.Grab(h, time.Second)
	require.Nil(t, buf)
	require.ErrorIs(t, err, device.ErrFrameTimeout)

	require.Nil(t, d.Trigger(h))
	require.Nil(t, d.SetParam(h, device.ParamExposureTime, 2000.0))

	v, err := d.Param(h, device.ParamExposureTime)
	require.Nil(t, err)
	require.Equal(t, 2000.0, v)

	require.ErrorIs(t, d.SetParam(h, device.ParamFrameRate, 30.0), device.ErrUnsupported)

	require.Nil(t, d.Stop(h))
	require.Nil(t, d.Close(h))
	require.Nil(t, d.Destroy(h))
	require.Equal(t, 1, sdk.released)
	require.Equal(t, "uninit", sdk.calls[len(sdk.calls)-1])
}
