package mvs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/visionline/camd/pkg/device"
)

type fakeSDK struct {
	devices []DeviceInfo
	openErr Code
	cams    []*fakeCamera
}

func (s *fakeSDK) Initialize() Code { return OK }
func (s *fakeSDK) Finalize() Code   { return OK }

func (s *fakeSDK) EnumDevices(layers uint32) ([]DeviceInfo, Code) {
	return s.devices, OK
}

func (s *fakeSDK) CreateHandle(info DeviceInfo) (Camera, Code) {
	cam := &fakeCamera{info: info, openErr: s.openErr, values: map[string]any{}}
	s.cams = append(s.cams, cam)
	return cam, OK
}

type fakeCamera struct {
	info    DeviceInfo
	openErr Code
	calls   []string
	values  map[string]any
	frames  []Code
	freed   int
}

func (c *fakeCamera) call(s string) Code {
	c.calls = append(c.calls, s)
	return OK
}

func (c *fakeCamera) OpenDevice(access uint32, key uint16) Code {
	c.call("open")
	return c.openErr
}

func (c *fakeCamera) CloseDevice() Code   { return c.call("close") }
func (c *fakeCamera) DestroyHandle() Code { return c.call("destroy") }
func (c *fakeCamera) StartGrabbing() Code { return c.call("start") }
func (c *fakeCamera) StopGrabbing() Code  { return c.call("stop") }

func (c *fakeCamera) GetImageBuffer(timeoutMs uint32) (*FrameOut, Code) {
	c.call("grab")
	code := OK
	if len(c.frames) > 0 {
		code, c.frames = c.frames[0], c.frames[1:]
	}
	if code == ErrNoData {
		return nil, code
	}
	return &FrameOut{Data: make([]byte, 8), Width: 2, Height: 2, PixelType: 0x01080001, FrameLen: 4}, code
}

func (c *fakeCamera) FreeImageBuffer(frame *FrameOut) Code {
	c.freed++
	return c.call("free")
}

func (c *fakeCamera) SetEnumValue(key string, value uint32) Code {
	c.values[key] = value
	return c.call("enum " + key)
}

func (c *fakeCamera) SetFloatValue(key string, value float32) Code {
	if key == "Gain" && value > 20 {
		return ErrGCRange
	}
	c.values[key] = value
	return c.call("float " + key)
}

func (c *fakeCamera) GetFloatValue(key string) (FloatValue, Code) {
	v, _ := c.values[key].(float32)
	return FloatValue{Current: v, Min: 0, Max: 20}, OK
}

func (c *fakeCamera) SetIntValue(key string, value int64) Code {
	c.values[key] = value
	return c.call("int " + key)
}

func (c *fakeCamera) SetCommandValue(key string) Code {
	return c.call("command " + key)
}

func (c *fakeCamera) GetOptimalPacketSize() int32 {
	return 8164
}

func testSDK() *fakeSDK {
	return &fakeSDK{devices: []DeviceInfo{
		{TLayerType: LayerGigE, ModelName: "MV-CA013-20GM", UserDefinedName: "left", SerialNumber: "00D1", CurrentIP: 0xC0A8010A},
		{TLayerType: LayerUSB, ModelName: "MV-CE050-30UC", UserDefinedName: "right", SerialNumber: "00E2"},
	}}
}

func TestCodes(t *testing.T) {
	require.ErrorIs(t, check(ErrNoData), device.ErrFrameTimeout)
	require.ErrorIs(t, check(ErrAccessDenied), device.ErrDeviceBusy)
	require.ErrorIs(t, fmt.Errorf("open: %w", check(ErrBusy)), device.ErrDeviceBusy)
	require.ErrorIs(t, check(ErrGCRange), device.ErrParam)
	require.ErrorIs(t, check(ErrUSBBandwidth), device.ErrDriver)
	require.Nil(t, check(OK))

	require.Equal(t, "mvs: no data (0x80000007)", ErrNoData.Error())
	require.Equal(t, "mvs: ip conflict (0x80000221)", ErrIPConflict.Error())
	require.Equal(t, "mvs: error 0x80000005", Code(-0x80000000+5).Error())

	var code Code
	require.True(t, errors.As(check(ErrBusy), &code))
	require.Equal(t, ErrBusy, code)
}

func TestEnumerate(t *testing.T) {
	d := NewDriver(testSDK())

	list, err := d.Enumerate(context.Background())
	require.Nil(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "GigE: left MV-CA013-20GM (192.168.1.10)", list[0].Name())
	require.Equal(t, "USB: right MV-CE050-30UC (00E2)", list[1].Name())
	require.Equal(t, 1, list[1].Index)
}

func TestOpenConfigure(t *testing.T) {
	sdk := testSDK()
	d := NewDriver(sdk)
	ctx := context.Background()

	list, err := d.Enumerate(ctx)
	require.Nil(t, err)

	h, err := d.Open(ctx, list[0])
	require.Nil(t, err)

	params := device.DefaultParameters()
	params.TriggerMode = device.TriggerSoftware
	params.Gain = 4
	require.Nil(t, d.Configure(ctx, h, params))

	cam := sdk.cams[0]
	require.Equal(t, int64(8164), cam.values["GevSCPSPacketSize"])
	require.Equal(t, TriggerModeOn, cam.values["TriggerMode"])
	require.Equal(t, TriggerSourceSoftware, cam.values["TriggerSource"])
	require.Equal(t, float32(10000), cam.values["ExposureTime"])
	require.Equal(t, uint32(device.PixelMono8), cam.values["PixelFormat"])

	params.Gain = 30
	err = d.Configure(ctx, h, params)
	require.ErrorIs(t, err, device.ErrParam)

	require.Nil(t, d.Trigger(h))
	require.Contains(t, cam.calls, "command TriggerSoftware")

	require.ErrorIs(t, d.SetParam(h, device.ParamGain, 25.0), device.ErrParam)
	require.Nil(t, d.SetParam(h, device.ParamGain, 6.0))

	v, err := d.Param(h, device.ParamGain)
	require.Nil(t, err)
	require.Equal(t, 6.0, v)

	r, err := d.Range(h, device.ParamGain)
	require.Nil(t, err)
	require.Equal(t, device.Range{Min: 0, Max: 20}, r)

	_, err = d.Range(h, device.ParamPixelFormat)
	require.ErrorIs(t, err, device.ErrUnsupported)
}

func TestOpenBusy(t *testing.T) {
	sdk := testSDK()
	sdk.openErr = ErrAccessDenied
	d := NewDriver(sdk)
	ctx := context.Background()

	list, err := d.Enumerate(ctx)
	require.Nil(t, err)

	_, err = d.Open(ctx, list[1])
	require.ErrorIs(t, err, device.ErrDeviceBusy)
	require.Equal(t, []string{"open", "destroy"}, sdk.cams[0].calls)

	_, err = d.Open(ctx, device.Descriptor{Serial: "missing"})
	require.ErrorIs(t, err, device.ErrDeviceNotFound)
}

func TestGrabRelease(t *testing.T) {
	sdk := testSDK()
	d := NewDriver(sdk)
	ctx := context.Background()

	list, err := d.Enumerate(ctx)
	require.Nil(t, err)
	h, err := d.Open(ctx, list[1])
	require.Nil(t, err)

	cam := sdk.cams[0]
	cam.frames = []Code{OK, ErrNoData, ErrAbnormalImage}

	buf, err := d.Grab(h, time.Second)
	require.Nil(t, err)
	require.Len(t, buf.Data, 4)
	require.Equal(t, device.PixelMono8, buf.Format)
	require.Nil(t, d.Release(h, buf))

	buf, err = d.Grab(h, time.Second)
	require.Nil(t, buf)
	require.ErrorIs(t, err, device.ErrFrameTimeout)

	// abnormal image still hands out a buffer that must be freed
	buf, err = d.Grab(h, time.Second)
	require.NotNil(t, buf)
	require.ErrorIs(t, err, device.ErrDecode)
	require.Nil(t, d.Release(h, buf))

	require.Equal(t, 2, cam.freed)
	require.ErrorIs(t, d.Release(h, &device.Buffer{}), device.ErrDriver)
}

func TestWithController(t *testing.T) {
	sdk := testSDK()
	r := device.NewRegistry(device.Options{GrabTimeout: 10 * time.Millisecond}, NewDriver(sdk))
	ctx := context.Background()

	c, err := r.Acquire(ctx, device.MustIdentity("mvs:00E2"), device.Config{Parameters: device.DefaultParameters()})
	require.Nil(t, err)
	require.Equal(t, device.StateReady, c.State())

	require.Nil(t, r.Release(ctx, device.MustIdentity("mvs:00E2")))

	calls := sdk.cams[0].calls
	require.Equal(t, "open", calls[0])
	require.Equal(t, []string{"close", "destroy"}, calls[len(calls)-2:])
}
