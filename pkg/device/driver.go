package device

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Family is the closed set of camera SDK families.
type Family byte

const (
	FamilyUnknown Family = iota
	FamilyMindVision
	FamilyMVS
	FamilySim
)

func (f Family) String() string {
	switch f {
	case FamilyMindVision:
		return "mindvision"
	case FamilyMVS:
		return "mvs"
	case FamilySim:
		return "sim"
	}
	return ""
}

func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(s) {
	case "mindvision", "mv":
		return FamilyMindVision, nil
	case "mvs", "hikvision", "hikrobot":
		return FamilyMVS, nil
	case "sim", "mock", "fake":
		return FamilySim, nil
	}
	return FamilyUnknown, fmt.Errorf("device: unknown family %q", s)
}

type Transport byte

const (
	TransportUnknown Transport = iota
	TransportGigE
	TransportUSB
)

func (t Transport) String() string {
	switch t {
	case TransportGigE:
		return "GigE"
	case TransportUSB:
		return "USB"
	}
	return "Unknown"
}

func (t Transport) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Descriptor is one enumerated physical camera.
type Descriptor struct {
	Index     int       `json:"index"`
	Family    Family    `json:"family"`
	Transport Transport `json:"transport"`
	Serial    string    `json:"serial,omitempty"`
	Model     string    `json:"model,omitempty"`
	UserName  string    `json:"user_name,omitempty"`
	IP        string    `json:"ip,omitempty"`
}

func (d Descriptor) Name() string {
	switch d.Transport {
	case TransportGigE:
		return fmt.Sprintf("GigE: %s %s (%s)", d.UserName, d.Model, d.IP)
	case TransportUSB:
		return fmt.Sprintf("USB: %s %s (%s)", d.UserName, d.Model, d.Serial)
	}
	return "Unknown device type"
}

// Handle is the opaque token returned by Driver.Open.
// Only the controller that opened it may use it.
type Handle any

// Buffer is a driver owned image. Data is valid only until Release.
type Buffer struct {
	Data      []byte
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp time.Time

	// Token is private driver state needed to release the buffer
	Token any
}

// Driver is the capability set every camera family implements.
// Blocking calls are issued only from the controller worker.
type Driver interface {
	Family() Family

	// Init and Cleanup manage process wide SDK state. The registry calls
	// Init before the first controller of the family and Cleanup after the last.
	Init() error
	Cleanup() error

	Enumerate(ctx context.Context) ([]Descriptor, error)
	Open(ctx context.Context, desc Descriptor) (Handle, error)
	Configure(ctx context.Context, h Handle, params Parameters) error

	Start(h Handle) error
	// Grab returns ErrFrameTimeout when no frame arrived in time.
	// A non nil buffer must be released even if err is not nil.
	Grab(h Handle, timeout time.Duration) (*Buffer, error)
	Release(h Handle, buf *Buffer) error
	Stop(h Handle) error

	Close(h Handle) error
	Destroy(h Handle) error
}

// ParamSetter is implemented by drivers that can change parameters on an open device.
type ParamSetter interface {
	SetParam(h Handle, name string, value any) error
	Param(h Handle, name string) (any, error)
}

// Ranger is implemented by drivers that report hardware parameter ranges.
type Ranger interface {
	Range(h Handle, name string) (Range, error)
}

// Aborter can interrupt an in-flight Grab from another goroutine.
// The interrupted Grab returns ErrFrameTimeout.
type Aborter interface {
	Abort(h Handle) error
}

// Triggerer fires a software trigger.
type Triggerer interface {
	Trigger(h Handle) error
}
