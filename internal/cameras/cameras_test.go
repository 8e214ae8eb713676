package cameras

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/visionline/camd/internal/app"
	"github.com/visionline/camd/pkg/device"
	"github.com/visionline/camd/pkg/sim"
)

func testInit(t *testing.T) *sim.Driver {
	drv := sim.NewDriver()
	drv.Interval = 5 * time.Millisecond

	registry = device.NewRegistry(device.Options{
		GrabTimeout:    50 * time.Millisecond,
		StopGrace:      200 * time.Millisecond,
		ConnectTimeout: time.Second,
		ReleaseTimeout: time.Second,
	}, drv)
	cameras = map[string]*Camera{}

	t.Cleanup(func() {
		require.Nil(t, Close(context.Background()))
		registry = nil
	})
	return drv
}

func TestConfig(t *testing.T) {
	exposure := 2500.0
	conf := &Config{
		Family:       "sim",
		Identity:     "cam1",
		ExposureTime: &exposure,
		Gain:         3,
		TriggerMode:  "software",
		PixelFormat:  "RGB8",
		GrabTimeout:  200 * time.Millisecond,
	}

	id, err := conf.identity()
	require.Nil(t, err)
	require.Equal(t, "sim:1", id.String())

	params, err := conf.parameters()
	require.Nil(t, err)
	require.Equal(t, 2500.0, params.ExposureTime)
	require.Equal(t, device.TriggerSoftware, params.TriggerMode)
	require.Equal(t, device.PixelRGB8, params.PixelFormat)
	require.Equal(t, 200*time.Millisecond, conf.options().GrabTimeout)

	conf = &Config{Identity: "mvs:00D1", Family: "sim"}
	id, err = conf.identity()
	require.Nil(t, err)
	require.Equal(t, device.FamilyMVS, id.Family)

	_, err = (&Config{TriggerMode: "sometimes"}).parameters()
	require.ErrorIs(t, err, device.ErrParam)

	_, err = (&Config{Gain: -1}).parameters()
	require.ErrorIs(t, err, device.ErrParam)
}

func TestSimConfig(t *testing.T) {
	var cfg SimConfig
	cfg.Interval = 40 * time.Millisecond
	cfg.Cameras = append(cfg.Cameras, struct {
		Serial    string `yaml:"serial"`
		Model     string `yaml:"model"`
		Name      string `yaml:"name"`
		Transport string `yaml:"transport"`
		IP        string `yaml:"ip"`
		Width     int    `yaml:"width"`
		Height    int    `yaml:"height"`
	}{Name: "line", Transport: "GigE", IP: "127.0.0.9"})

	drv, err := cfg.driver()
	require.Nil(t, err)
	require.Equal(t, 40*time.Millisecond, drv.Interval)
	require.Equal(t, "SIM0001", drv.Cameras[0].Serial)
	require.Equal(t, device.TransportGigE, drv.Cameras[0].Transport)
	require.Equal(t, 640, drv.Cameras[0].Width)

	cfg.Cameras[0].Transport = "serial"
	_, err = cfg.driver()
	require.NotNil(t, err)
}

func TestNewDrivers(t *testing.T) {
	drivers, err := newDrivers(&SimConfig{})
	require.Nil(t, err)
	require.Len(t, drivers, 1)
	require.Equal(t, device.FamilySim, drivers[0].Family())
}

func TestDuplicate(t *testing.T) {
	testInit(t)

	_, err := New("ccd1", &Config{Family: "sim", Identity: "0"})
	require.Nil(t, err)

	_, err = New("ccd1", &Config{Family: "sim", Identity: "1"})
	require.NotNil(t, err)

	_, err = New("ccd2", &Config{Family: "sim", Identity: "cam0"})
	require.NotNil(t, err)

	require.Len(t, GetAll(), 1)
}

func TestCameraStreaming(t *testing.T) {
	drv := testInit(t)
	ctx := context.Background()

	cam, err := New("ccd1", &Config{Family: "sim", Identity: "SIM0002"})
	require.Nil(t, err)
	require.Equal(t, device.StateIdle, cam.State())

	var mu sync.Mutex
	var seqs []uint64
	remove := cam.AddSink(device.SinkFunc(func(frame *device.Frame) {
		mu.Lock()
		seqs = append(seqs, frame.Sequence)
		mu.Unlock()
	}))

	require.Nil(t, cam.Start(ctx))
	require.Nil(t, cam.Start(ctx))
	require.Equal(t, device.StateStreaming, cam.State())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	remove()
	require.Nil(t, cam.Stop(ctx))
	require.Equal(t, device.StateReady, cam.State())

	mu.Lock()
	require.Equal(t, []uint64{1, 2, 3}, seqs[:3])
	mu.Unlock()

	status := cam.Status()
	require.Equal(t, "ccd1", status.Name)
	require.Equal(t, "SIM0002", status.Device.Serial)
	require.Equal(t, 0, status.Consumers)

	require.Nil(t, cam.Release(ctx))
	require.Equal(t, device.StateIdle, cam.State())
	require.Equal(t, 0, drv.Handles())
}

func TestCameraBusy(t *testing.T) {
	drv := testInit(t)
	drv.Lock("SIM0001")

	cam, err := New("ccd1", &Config{Family: "sim", Identity: "0"})
	require.Nil(t, err)

	err = cam.Connect(context.Background())
	require.ErrorIs(t, err, device.ErrAlreadyOpenElsewhere)

	status := cam.Status()
	require.Equal(t, device.StateFaulted, status.State)
	require.Equal(t, "faulted: device busy", status.Summary())

	// a faulted controller is replaced on the next connect
	drv.Unlock("SIM0001")
	require.Nil(t, cam.Connect(context.Background()))
	require.Equal(t, device.StateReady, cam.State())
}

func TestCameraSameDevice(t *testing.T) {
	drv := testInit(t)
	ctx := context.Background()

	cam1, err := New("ccd1", &Config{Family: "sim", Identity: "0"})
	require.Nil(t, err)
	cam2, err := New("ccd2", &Config{Family: "sim", Identity: "auto"})
	require.Nil(t, err)

	require.Nil(t, cam1.Connect(ctx))

	// both names resolve to SIM0001
	err = cam2.Connect(ctx)
	require.ErrorIs(t, err, device.ErrAlreadyOpen)
	require.Equal(t, "idle: already open in this process", cam2.Status().Summary())
	require.Equal(t, device.StateReady, cam1.State())
	require.Equal(t, 1, drv.Handles())

	require.Nil(t, cam1.Release(ctx))
	require.Nil(t, cam2.Connect(ctx))
	require.Equal(t, device.StateReady, cam2.State())
}

func TestSetParam(t *testing.T) {
	testInit(t)
	ctx := context.Background()

	prev := app.ConfigPath
	t.Cleanup(func() { app.ConfigPath = prev })
	app.ConfigPath = filepath.Join(t.TempDir(), "camd.yaml")
	require.Nil(t, os.WriteFile(app.ConfigPath, []byte("cameras:\n  ccd1:\n    family: sim\n"), 0644))

	cam, err := New("ccd1", &Config{Family: "sim"})
	require.Nil(t, err)

	// not connected, only stored
	require.Nil(t, cam.SetParam(ctx, "Gain", "4", true))
	v, err := cam.Param(ctx, "gain")
	require.Nil(t, err)
	require.Equal(t, 4.0, v)

	require.Nil(t, cam.SetParam(ctx, "trigger", "software", true))

	b, err := os.ReadFile(app.ConfigPath)
	require.Nil(t, err)
	require.Equal(t, "cameras:\n  ccd1:\n    family: sim\n    gain: 4\n    trigger_mode: software\n", string(b))

	require.Nil(t, cam.Connect(ctx))
	require.Nil(t, cam.SetParam(ctx, "exposure", 5000.0, false))
	require.ErrorIs(t, cam.SetParam(ctx, "gain", 99.0, false), device.ErrParam)

	v, err = cam.Param(ctx, "exposure_time")
	require.Nil(t, err)
	require.Equal(t, 5000.0, v)

	rng, err := cam.Range(ctx, "gain")
	require.Nil(t, err)
	require.Equal(t, device.Range{Min: 0, Max: 24}, rng)

	require.Nil(t, cam.Start(ctx))
	require.ErrorIs(t, cam.SetParam(ctx, "gain", 1.0, false), device.ErrStreamingActive)
	require.Nil(t, cam.Trigger(ctx))

	require.ErrorIs(t, cam.SetParam(ctx, "shutter", 1, false), device.ErrParam)
}

func TestOnStatus(t *testing.T) {
	testInit(t)

	states := make(chan device.State, 32)
	remove := OnStatus(func(status *Status) {
		if status.Name == "ccd1" {
			states <- status.State
		}
	})
	defer remove()

	cam, err := New("ccd1", &Config{Family: "sim"})
	require.Nil(t, err)

	require.Nil(t, cam.Connect(context.Background()))
	require.Equal(t, device.StateReady, <-states)

	require.Nil(t, cam.Disconnect(context.Background()))
	require.Equal(t, device.StateClosing, <-states)
	require.Equal(t, device.StateIdle, <-states)
}

func TestAPI(t *testing.T) {
	testInit(t)

	_, err := New("ccd1", &Config{Family: "sim", Identity: "0"})
	require.Nil(t, err)

	w := httptest.NewRecorder()
	apiCameras(w, httptest.NewRequest("GET", "/api/cameras", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list []map[string]any
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, "ccd1", list[0]["name"])
	require.Equal(t, "idle", list[0]["state"])

	w = httptest.NewRecorder()
	apiCameras(w, httptest.NewRequest("POST", "/api/cameras?name=ccd1&action=start", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]any
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, "streaming", status["state"])

	w = httptest.NewRecorder()
	apiParam(w, httptest.NewRequest("POST", "/api/cameras/param?name=ccd1&key=gain&value=2", nil))
	require.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	apiCameras(w, httptest.NewRequest("POST", "/api/cameras?name=ccd1&action=stop", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	apiParam(w, httptest.NewRequest("POST", "/api/cameras/param?name=ccd1&key=gain&value=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"name":"ccd1","key":"gain","value":2,"range":{"min":0,"max":24}}`, w.Body.String())

	w = httptest.NewRecorder()
	apiCameras(w, httptest.NewRequest("POST", "/api/cameras?name=ccd1&action=trigger", nil))
	require.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	apiCameras(w, httptest.NewRequest("POST", "/api/cameras?name=ccd1&action=jump", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	apiCameras(w, httptest.NewRequest("POST", "/api/cameras?name=ccd9&action=start", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	apiDevices(w, httptest.NewRequest("GET", "/api/cameras/devices?family=sim", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var devices []map[string]any
	require.Nil(t, json.Unmarshal(w.Body.Bytes(), &devices))
	require.Len(t, devices, 2)
	require.Equal(t, "USB: sim0 SIM-640 (SIM0001)", devices[0]["name"])

	w = httptest.NewRecorder()
	apiDevices(w, httptest.NewRequest("GET", "/api/cameras/devices?family=gopro", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConsume(t *testing.T) {
	testInit(t)
	ctx := context.Background()

	cam, err := New("ccd1", &Config{Family: "sim"})
	require.Nil(t, err)

	frames := make(chan *device.Frame, 100)
	sink := device.SinkFunc(func(frame *device.Frame) {
		select {
		case frames <- frame:
		default:
		}
	})

	release1, err := cam.Consume(ctx, sink)
	require.Nil(t, err)
	release2, err := cam.Consume(ctx, sink)
	require.Nil(t, err)
	require.Equal(t, 2, cam.Status().Consumers)

	frame := <-frames
	require.Equal(t, 640, frame.Width)

	release1()
	release1()
	require.Equal(t, device.StateStreaming, cam.State())

	release2()
	require.Equal(t, device.StateReady, cam.State())

	// started by hand, consumers do not stop it
	require.Nil(t, cam.Start(ctx))
	release3, err := cam.Consume(ctx, sink)
	require.Nil(t, err)
	release3()
	require.Equal(t, device.StateStreaming, cam.State())
}
