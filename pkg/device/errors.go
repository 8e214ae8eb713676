package device

import (
	"errors"
	"strings"
)

// resource errors
var (
	ErrDeviceNotFound       = errors.New("device not found")
	ErrDeviceBusy           = errors.New("device busy")
	ErrAlreadyOpenElsewhere = errors.New("already open elsewhere")
	ErrAlreadyOpen          = errors.New("already open in this process")
)

// configuration errors
var (
	ErrConfigRejected = errors.New("config rejected")
	ErrParam          = errors.New("invalid parameter")
)

// acquisition errors
var (
	ErrFrameTimeout       = errors.New("frame timeout")
	ErrDecode             = errors.New("frame decode")
	ErrDeviceUnresponsive = errors.New("device unresponsive")
)

// lifecycle errors
var (
	ErrFaulted          = errors.New("faulted")
	ErrNotReady         = errors.New("not ready")
	ErrNotStreaming     = errors.New("not streaming")
	ErrAlreadyStreaming = errors.New("already streaming")
	ErrStreamingActive  = errors.New("streaming active")
	ErrStopTimeout      = errors.New("stop timeout")
	ErrClosed           = errors.New("controller closed")
	ErrUnsupported      = errors.New("not supported by driver")
)

var (
	ErrResourceLeakSuspected = errors.New("resource leak suspected")
	ErrDriver                = errors.New("driver error")
	ErrInvalidTransition     = errors.New("invalid transition")
)

// Error binds an error to the operation and device identity it happened on.
type Error struct {
	Op       string
	Identity Identity
	Err      error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if s := e.Identity.String(); s != "" {
		sb.WriteString(s)
		sb.WriteString(": ")
	}
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Err.Error())
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind returns the first taxonomy sentinel found in err chain,
// or ErrDriver for unknown errors and nil for nil.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrDriver
}

var kinds = []error{
	ErrAlreadyOpen, ErrAlreadyOpenElsewhere, ErrDeviceNotFound, ErrDeviceBusy,
	ErrConfigRejected, ErrParam,
	ErrFrameTimeout, ErrDecode, ErrDeviceUnresponsive,
	ErrAlreadyStreaming, ErrStreamingActive, ErrNotStreaming, ErrNotReady,
	ErrStopTimeout, ErrClosed, ErrUnsupported, ErrResourceLeakSuspected,
	ErrInvalidTransition, ErrFaulted,
}
