package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type TriggerMode byte

const (
	TriggerOff TriggerMode = iota // continuous acquisition
	TriggerSoftware
	TriggerHardware
)

func (t TriggerMode) String() string {
	switch t {
	case TriggerSoftware:
		return "software"
	case TriggerHardware:
		return "hardware"
	}
	return "off"
}

func (t TriggerMode) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func ParseTriggerMode(s string) (TriggerMode, error) {
	switch strings.ToLower(s) {
	case "", "off", "continuous", "false":
		return TriggerOff, nil
	case "software", "soft", "on", "true":
		return TriggerSoftware, nil
	case "hardware", "line0", "line":
		return TriggerHardware, nil
	}
	return TriggerOff, fmt.Errorf("%w: trigger mode %q", ErrParam, s)
}

// parameter names
const (
	ParamExposureTime = "exposure_time" // microseconds
	ParamGain         = "gain"
	ParamGamma        = "gamma"
	ParamFrameRate    = "frame_rate"
	ParamTriggerMode  = "trigger_mode"
	ParamPixelFormat  = "pixel_format"
	ParamPacketSize   = "packet_size" // GigE only, 0 means driver optimal
)

var paramAliases = map[string]string{
	"exposure":             ParamExposureTime,
	"exposuretime":         ParamExposureTime,
	"gain":                 ParamGain,
	"gamma":                ParamGamma,
	"framerate":            ParamFrameRate,
	"acquisitionframerate": ParamFrameRate,
	"fps":                  ParamFrameRate,
	"triggermode":          ParamTriggerMode,
	"trigger":              ParamTriggerMode,
	"pixelformat":          ParamPixelFormat,
	"format":               ParamPixelFormat,
	"packetsize":           ParamPacketSize,
	"gevscpspacketsize":    ParamPacketSize,
}

// ParamName normalizes "ExposureTime", "exposure" and "exposure_time" to one name.
func ParamName(s string) (string, error) {
	key := strings.ToLower(strings.ReplaceAll(s, "_", ""))
	if name, ok := paramAliases[key]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: unknown parameter %q", ErrParam, s)
}

// Parameters are applied exactly once per connect.
// Zero Gamma and FrameRate leave the device defaults.
type Parameters struct {
	ExposureTime float64     `json:"exposure_time"`
	Gain         float64     `json:"gain"`
	Gamma        float64     `json:"gamma,omitempty"`
	FrameRate    float64     `json:"frame_rate,omitempty"`
	TriggerMode  TriggerMode `json:"trigger_mode"`
	PixelFormat  PixelFormat `json:"pixel_format"`
	PacketSize   int         `json:"packet_size,omitempty"`
}

func DefaultParameters() Parameters {
	return Parameters{
		ExposureTime: 10000,
		PixelFormat:  PixelMono8,
	}
}

func (p Parameters) Validate() error {
	for _, f := range []float64{p.ExposureTime, p.Gain, p.Gamma, p.FrameRate} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %v is not a number", ErrParam, f)
		}
	}

	switch {
	case p.ExposureTime < 0:
		return fmt.Errorf("%w: negative exposure time", ErrParam)
	case p.Gain < 0:
		return fmt.Errorf("%w: negative gain", ErrParam)
	case p.Gamma < 0:
		return fmt.Errorf("%w: negative gamma", ErrParam)
	case p.FrameRate < 0:
		return fmt.Errorf("%w: negative frame rate", ErrParam)
	case p.PacketSize < 0 || p.PacketSize > 16000:
		return fmt.Errorf("%w: packet size %d", ErrParam, p.PacketSize)
	}
	return nil
}

// Set coerces value and stores it under name.
func (p *Parameters) Set(name string, value any) error {
	name, err := ParamName(name)
	if err != nil {
		return err
	}

	next := *p

	switch name {
	case ParamTriggerMode:
		switch v := value.(type) {
		case TriggerMode:
			next.TriggerMode = v
		case string:
			if next.TriggerMode, err = ParseTriggerMode(v); err != nil {
				return err
			}
		case bool:
			next.TriggerMode = TriggerOff
			if v {
				next.TriggerMode = TriggerSoftware
			}
		default:
			return fmt.Errorf("%w: %s=%v", ErrParam, name, value)
		}

	case ParamPixelFormat:
		switch v := value.(type) {
		case PixelFormat:
			next.PixelFormat = v
		case string:
			if next.PixelFormat, err = ParsePixelFormat(v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s=%v", ErrParam, name, value)
		}

	default:
		f, err := toFloat(value)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s=%v", ErrParam, name, value)
		}
		switch name {
		case ParamExposureTime:
			next.ExposureTime = f
		case ParamGain:
			next.Gain = f
		case ParamGamma:
			next.Gamma = f
		case ParamFrameRate:
			next.FrameRate = f
		case ParamPacketSize:
			next.PacketSize = int(f)
		}
	}

	if err = next.Validate(); err != nil {
		return err
	}

	*p = next
	return nil
}

func (p Parameters) Get(name string) (any, error) {
	name, err := ParamName(name)
	if err != nil {
		return nil, err
	}
	switch name {
	case ParamExposureTime:
		return p.ExposureTime, nil
	case ParamGain:
		return p.Gain, nil
	case ParamGamma:
		return p.Gamma, nil
	case ParamFrameRate:
		return p.FrameRate, nil
	case ParamTriggerMode:
		return p.TriggerMode, nil
	case ParamPixelFormat:
		return p.PixelFormat, nil
	default:
		return p.PacketSize, nil
	}
}

// Range is a hardware limit reported by the driver.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return 0, fmt.Errorf("unsupported type %T", value)
}
