package mindvision

// Trigger modes for SetTriggerMode.
const (
	TriggerContinuous int32 = 0
	TriggerSoftware   int32 = 1
	TriggerHardware   int32 = 2
)

// SDK is the MindVision CameraApi surface used by the driver. Camera handles
// are plain integers like in the C API. The cgo binding lives outside this
// module, tests use a fake.
type SDK interface {
	SdkInit(language int32) Status
	EnumerateDevice() ([]DevInfo, Status)

	Init(info DevInfo) (int32, Status)
	UnInit(h int32) Status
	GetCapability(h int32) (Capability, Status)

	SetTriggerMode(h int32, mode int32) Status
	SoftTrigger(h int32) Status
	SetAeState(h int32, auto bool) Status
	SetExposureTime(h int32, us float64) Status
	GetExposureTime(h int32) (float64, Status)
	SetAnalogGain(h int32, gain int32) Status
	GetAnalogGain(h int32) (int32, Status)
	SetGamma(h int32, gamma int32) Status
	SetIspOutFormat(h int32, format uint32) Status

	Play(h int32) Status
	Pause(h int32) Status

	GetImageBuffer(h int32, timeoutMs uint32) (*RawBuffer, FrameHead, Status)
	ImageProcess(h int32, raw *RawBuffer, out []byte, head *FrameHead) Status
	ReleaseImageBuffer(h int32, raw *RawBuffer) Status
}

// DevInfo is tSdkCameraDevInfo.
type DevInfo struct {
	ProductName  string
	FriendlyName string
	PortType     string
	Sn           string
	IP           string
}

// RawBuffer is SDK memory returned by GetImageBuffer.
type RawBuffer struct {
	Data []byte
}

// FrameHead is tSdkFrameHead after ImageProcess.
type FrameHead struct {
	Width     int32
	Height    int32
	MediaType uint32
	Bytes     uint32
}

type Capability struct {
	MaxWidth    int32
	MaxHeight   int32
	Mono        bool
	ExposureMin float64
	ExposureMax float64
	GainMin     int32
	GainMax     int32
}
