package mvs

import (
	"fmt"

	"github.com/visionline/camd/pkg/device"
)

// Code is an MvCameraControl return value.
type Code int32

const OK Code = 0

// general
const (
	ErrHandle        Code = -0x80000000 + iota // 0x80000000
	ErrSupport                                 // 0x80000001
	ErrBufOver                                 // 0x80000002
	ErrCallOrder                               // 0x80000003
	ErrParameter                               // 0x80000004
	_                                          // 0x80000005
	ErrResource                                // 0x80000006
	ErrNoData                                  // 0x80000007
	ErrPrecondition                            // 0x80000008
	ErrVersion                                 // 0x80000009
	ErrNoEnoughBuf                             // 0x8000000A
	ErrAbnormalImage                           // 0x8000000B
	ErrLoadLibrary                             // 0x8000000C
	ErrNoOutBuf                                // 0x8000000D
	ErrEncrypt                                 // 0x8000000E
)

const ErrUnknown Code = -0x80000000 + 0xFF

// GenICam
const (
	ErrGCGeneric     Code = -0x80000000 + 0x100 + iota
	ErrGCArgument         // 0x80000101
	ErrGCRange            // 0x80000102
	ErrGCProperty         // 0x80000103
	ErrGCRuntime          // 0x80000104
	ErrGCLogical          // 0x80000105
	ErrGCAccess           // 0x80000106
	ErrGCTimeout          // 0x80000107
	ErrGCDynamicCast      // 0x80000108
)

// GigE
const (
	ErrNotImplemented Code = -0x80000000 + 0x200 + iota
	ErrInvalidAddress      // 0x80000201
	ErrWriteProtect        // 0x80000202
	ErrAccessDenied        // 0x80000203
	ErrBusy                // 0x80000204
	ErrPacket              // 0x80000205
	ErrNetwork             // 0x80000206
)

const ErrIPConflict Code = -0x80000000 + 0x221

// USB
const (
	ErrUSBRead Code = -0x80000000 + 0x300 + iota
	ErrUSBWrite
	ErrUSBDevice
	ErrUSBGenICam
	ErrUSBBandwidth
	ErrUSBDriver
)

const ErrUSBUnknown Code = -0x80000000 + 0x3FF

var codeNames = map[Code]string{
	ErrHandle:         "invalid handle",
	ErrSupport:        "not supported",
	ErrBufOver:        "buffer overflow",
	ErrCallOrder:      "wrong call order",
	ErrParameter:      "invalid parameter",
	ErrResource:       "resource allocation failed",
	ErrNoData:         "no data",
	ErrPrecondition:   "precondition failed",
	ErrVersion:        "version mismatch",
	ErrNoEnoughBuf:    "insufficient buffer",
	ErrAbnormalImage:  "abnormal image",
	ErrLoadLibrary:    "load library failed",
	ErrNoOutBuf:       "no output buffer",
	ErrEncrypt:        "encryption error",
	ErrUnknown:        "unknown error",
	ErrGCGeneric:      "genicam generic error",
	ErrGCArgument:     "genicam invalid argument",
	ErrGCRange:        "genicam value out of range",
	ErrGCProperty:     "genicam property error",
	ErrGCRuntime:      "genicam runtime error",
	ErrGCLogical:      "genicam logical error",
	ErrGCAccess:       "genicam access error",
	ErrGCTimeout:      "genicam timeout",
	ErrGCDynamicCast:  "genicam dynamic cast error",
	ErrNotImplemented: "command not implemented",
	ErrInvalidAddress: "invalid address",
	ErrWriteProtect:   "write protected",
	ErrAccessDenied:   "access denied",
	ErrBusy:           "device busy",
	ErrPacket:         "network packet error",
	ErrNetwork:        "network error",
	ErrIPConflict:     "ip conflict",
	ErrUSBRead:        "usb read error",
	ErrUSBWrite:       "usb write error",
	ErrUSBDevice:      "usb device error",
	ErrUSBGenICam:     "usb genicam error",
	ErrUSBBandwidth:   "usb bandwidth error",
	ErrUSBDriver:      "usb driver error",
	ErrUSBUnknown:     "usb unknown error",
}

func (c Code) Error() string {
	if name, ok := codeNames[c]; ok {
		return fmt.Sprintf("mvs: %s (0x%08X)", name, uint32(c))
	}
	return fmt.Sprintf("mvs: error 0x%08X", uint32(c))
}

// Is maps SDK codes to device errors, so errors.Is(code, device.ErrDeviceBusy) works.
func (c Code) Is(target error) bool {
	return c.kind() == target
}

func (c Code) kind() error {
	switch c {
	case ErrNoData, ErrGCTimeout:
		return device.ErrFrameTimeout
	case ErrAccessDenied, ErrBusy:
		return device.ErrDeviceBusy
	case ErrParameter, ErrGCArgument, ErrGCRange, ErrGCProperty, ErrGCAccess, ErrWriteProtect:
		return device.ErrParam
	case ErrSupport, ErrNotImplemented:
		return device.ErrUnsupported
	case ErrAbnormalImage:
		return device.ErrDecode
	}
	return device.ErrDriver
}

// check returns nil for OK and the code as error otherwise
func check(code Code) error {
	if code == OK {
		return nil
	}
	return code
}
