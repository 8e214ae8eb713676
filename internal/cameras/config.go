package cameras

import (
	"fmt"
	"strings"
	"time"

	"github.com/visionline/camd/pkg/device"
	"github.com/visionline/camd/pkg/sim"
)

// Config is one entry of the `cameras:` section.
type Config struct {
	Family    string `yaml:"family"`
	Identity  string `yaml:"identity"`
	Autostart bool   `yaml:"autostart"`

	ExposureTime *float64 `yaml:"exposure_time"`
	Gain         float64  `yaml:"gain"`
	Gamma        float64  `yaml:"gamma"`
	FrameRate    float64  `yaml:"frame_rate"`
	TriggerMode  string   `yaml:"trigger_mode"`
	PixelFormat  string   `yaml:"pixel_format"`
	PacketSize   int      `yaml:"packet_size"`

	GrabTimeout    time.Duration `yaml:"grab_timeout"`
	FaultThreshold int           `yaml:"fault_threshold"` // trigger_mode off only
	StopGrace      time.Duration `yaml:"stop_grace"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReleaseTimeout time.Duration `yaml:"release_timeout"`

	// Queue is the frame queue length of every consumer
	Queue int `yaml:"queue"`
}

const DefaultQueue = 4

// Identity joins family and identity, "mvs:00D1".
func (c *Config) identity() (device.Identity, error) {
	s := c.Identity
	if c.Family != "" && !strings.Contains(s, ":") {
		s = c.Family + ":" + s
	}
	return device.ParseIdentity(s)
}

func (c *Config) parameters() (device.Parameters, error) {
	params := device.DefaultParameters()
	if c.ExposureTime != nil {
		params.ExposureTime = *c.ExposureTime
	}
	params.Gain = c.Gain
	params.Gamma = c.Gamma
	params.FrameRate = c.FrameRate
	params.PacketSize = c.PacketSize

	var err error
	if params.TriggerMode, err = device.ParseTriggerMode(c.TriggerMode); err != nil {
		return params, err
	}
	if c.PixelFormat != "" {
		if params.PixelFormat, err = device.ParsePixelFormat(c.PixelFormat); err != nil {
			return params, err
		}
	}
	return params, params.Validate()
}

func (c *Config) options() device.Options {
	return device.Options{
		GrabTimeout:    c.GrabTimeout,
		FaultThreshold: c.FaultThreshold,
		StopGrace:      c.StopGrace,
		ConnectTimeout: c.ConnectTimeout,
		ReleaseTimeout: c.ReleaseTimeout,
	}
}

// SimConfig is the `sim:` section, the cameras of the simulated family.
type SimConfig struct {
	Interval time.Duration `yaml:"interval"`
	Cameras  []struct {
		Serial    string `yaml:"serial"`
		Model     string `yaml:"model"`
		Name      string `yaml:"name"`
		Transport string `yaml:"transport"`
		IP        string `yaml:"ip"`
		Width     int    `yaml:"width"`
		Height    int    `yaml:"height"`
	} `yaml:"cameras"`
}

func (s *SimConfig) driver() (*sim.Driver, error) {
	var cams []sim.Camera
	for i, item := range s.Cameras {
		cam := sim.Camera{
			Serial:   item.Serial,
			Model:    item.Model,
			UserName: item.Name,
			IP:       item.IP,
			Width:    item.Width,
			Height:   item.Height,
		}

		switch strings.ToLower(item.Transport) {
		case "", "usb":
			cam.Transport = device.TransportUSB
		case "gige", "gev":
			cam.Transport = device.TransportGigE
		default:
			return nil, fmt.Errorf("sim: camera %d: unknown transport %q", i, item.Transport)
		}

		if cam.Serial == "" {
			cam.Serial = fmt.Sprintf("SIM%04d", i+1)
		}
		if cam.Model == "" {
			cam.Model = "SIM"
		}
		if cam.Width == 0 || cam.Height == 0 {
			cam.Width, cam.Height = 640, 480
		}

		cams = append(cams, cam)
	}

	drv := sim.NewDriver(cams...)
	if s.Interval > 0 {
		drv.Interval = s.Interval
	}
	return drv, nil
}
