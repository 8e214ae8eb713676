package mvs

// Transport layers for EnumDevices.
const (
	LayerGigE uint32 = 0x00000001
	LayerUSB  uint32 = 0x00000004
)

const AccessExclusive uint32 = 1

// Feature values.
const (
	TriggerModeOff        uint32 = 0
	TriggerModeOn         uint32 = 1
	TriggerSourceLine0    uint32 = 0
	TriggerSourceSoftware uint32 = 7
	ExposureAutoOff       uint32 = 0
)

// SDK is the process wide part of the MvCameraControl API.
// The cgo binding lives outside this module, tests use a fake.
type SDK interface {
	Initialize() Code
	Finalize() Code
	EnumDevices(layers uint32) ([]DeviceInfo, Code)
	CreateHandle(info DeviceInfo) (Camera, Code)
}

// Camera is the per handle part of the API.
type Camera interface {
	OpenDevice(access uint32, switchoverKey uint16) Code
	CloseDevice() Code
	DestroyHandle() Code

	StartGrabbing() Code
	StopGrabbing() Code
	GetImageBuffer(timeoutMs uint32) (*FrameOut, Code)
	FreeImageBuffer(frame *FrameOut) Code

	SetEnumValue(key string, value uint32) Code
	SetFloatValue(key string, value float32) Code
	GetFloatValue(key string) (FloatValue, Code)
	SetIntValue(key string, value int64) Code
	SetCommandValue(key string) Code
	GetOptimalPacketSize() int32
}

type DeviceInfo struct {
	TLayerType      uint32
	ModelName       string
	UserDefinedName string
	SerialNumber    string
	CurrentIP       uint32
}

// FrameOut is MV_FRAME_OUT. Data points into SDK memory until FreeImageBuffer.
type FrameOut struct {
	Data      []byte
	Width     uint16
	Height    uint16
	PixelType uint32
	FrameLen  uint32
	FrameNum  uint32
}

type FloatValue struct {
	Current float32
	Min     float32
	Max     float32
}
