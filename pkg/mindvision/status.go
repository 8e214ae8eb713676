package mindvision

import (
	"fmt"

	"github.com/visionline/camd/pkg/device"
)

// Status is a CameraApi return value.
type Status int32

const (
	Success          Status = 0
	Failed           Status = -1
	InternalError    Status = -2
	Unknown          Status = -3
	NotSupported     Status = -4
	NotInitialized   Status = -5
	ParameterInvalid Status = -6
	OutOfBound       Status = -7
	Unenabled        Status = -8
	UserCancel       Status = -9
	PathNotFound     Status = -10
	SizeMismatch     Status = -11
	TimeOut          Status = -12
	IOError          Status = -13
	CommError        Status = -14
	BusError         Status = -15
	NoDeviceFound    Status = -16
	NoLogicDevice    Status = -17
	DeviceIsOpened   Status = -18
	DeviceIsClosed   Status = -19
	VideoClosed      Status = -20
	NoMemory         Status = -21
	Busy             Status = -28
	DeviceLost       Status = -38
)

var statusNames = map[Status]string{
	Failed:           "failed",
	InternalError:    "internal error",
	Unknown:          "unknown error",
	NotSupported:     "not supported",
	NotInitialized:   "not initialized",
	ParameterInvalid: "invalid parameter",
	OutOfBound:       "out of bound",
	Unenabled:        "not enabled",
	UserCancel:       "cancelled",
	PathNotFound:     "path not found",
	SizeMismatch:     "size mismatch",
	TimeOut:          "timeout",
	IOError:          "io error",
	CommError:        "communication error",
	BusError:         "bus error",
	NoDeviceFound:    "no device found",
	NoLogicDevice:    "no logic device",
	DeviceIsOpened:   "device is opened",
	DeviceIsClosed:   "device is closed",
	VideoClosed:      "video closed",
	NoMemory:         "no memory",
	Busy:             "busy",
	DeviceLost:       "device lost",
}

func (s Status) Error() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("mindvision: %s (%d)", name, int32(s))
	}
	return fmt.Sprintf("mindvision: status %d", int32(s))
}

func (s Status) Is(target error) bool {
	return s.kind() == target
}

func (s Status) kind() error {
	switch s {
	case TimeOut:
		return device.ErrFrameTimeout
	case DeviceIsOpened, Busy:
		return device.ErrDeviceBusy
	case NoDeviceFound, NoLogicDevice:
		return device.ErrDeviceNotFound
	case ParameterInvalid, OutOfBound:
		return device.ErrParam
	case NotSupported:
		return device.ErrUnsupported
	case SizeMismatch:
		return device.ErrDecode
	}
	return device.ErrDriver
}

func check(s Status) error {
	if s == Success {
		return nil
	}
	return s
}
