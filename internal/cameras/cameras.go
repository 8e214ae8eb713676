package cameras

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/visionline/camd/internal/api"
	"github.com/visionline/camd/internal/api/ws"
	"github.com/visionline/camd/internal/app"
	"github.com/visionline/camd/pkg/device"
	"github.com/visionline/camd/pkg/mindvision"
	"github.com/visionline/camd/pkg/mvs"
)

// Native SDK bindings. Builds that link a vendor SDK set them before Init.
var (
	MVS        mvs.SDK
	MindVision mindvision.SDK
)

func Init() {
	var cfg struct {
		Mod map[string]*Config `yaml:"cameras"`
		Sim SimConfig          `yaml:"sim"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("cameras")

	drivers, err := newDrivers(&cfg.Sim)
	if err != nil {
		log.Error().Err(err).Msg("[cameras] drivers")
	}

	deviceLog := app.GetLogger("device")
	registry = device.NewRegistry(device.Options{Logger: &deviceLog}, drivers...)

	for _, family := range registry.Families() {
		log.Debug().Stringer("family", family).Msg("[cameras] driver")
	}

	for name, conf := range cfg.Mod {
		if conf == nil {
			conf = &Config{}
		}
		if _, err = New(name, conf); err != nil {
			log.Error().Err(err).Str("camera", name).Msg("[cameras] config")
		}
	}

	api.HandleFunc("api/cameras", apiCameras)
	api.HandleFunc("api/cameras/devices", apiDevices)
	api.HandleFunc("api/cameras/param", apiParam)

	ws.HandleFunc("cameras", wsCameras)
	ws.HandleFunc("trigger", wsTrigger)
}

// newDrivers returns the simulator when no vendor SDK is linked or when the
// `sim:` section lists cameras.
func newDrivers(simCfg *SimConfig) ([]device.Driver, error) {
	var drivers []device.Driver

	if MVS != nil {
		drivers = append(drivers, mvs.NewDriver(MVS))
	}
	if MindVision != nil {
		drivers = append(drivers, mindvision.NewDriver(MindVision))
	}

	if len(drivers) == 0 || len(simCfg.Cameras) > 0 {
		drv, err := simCfg.driver()
		if err != nil {
			return drivers, err
		}
		drivers = append(drivers, drv)
	}

	return drivers, nil
}

func Get(name string) *Camera {
	camerasMu.Lock()
	defer camerasMu.Unlock()
	return cameras[name]
}

func GetAll() []*Camera {
	camerasMu.Lock()
	all := make([]*Camera, 0, len(cameras))
	for _, cam := range cameras {
		all = append(all, cam)
	}
	camerasMu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// New adds a camera. Two names for one physical camera are not allowed,
// they would fight over the frame sink.
func New(name string, conf *Config) (*Camera, error) {
	if registry == nil {
		return nil, device.ErrClosed
	}

	cam, err := newCamera(name, conf)
	if err != nil {
		return nil, err
	}

	camerasMu.Lock()
	defer camerasMu.Unlock()

	if _, ok := cameras[name]; ok {
		return nil, fmt.Errorf("cameras: duplicate name %q", name)
	}
	for _, other := range cameras {
		if other.identity == cam.identity {
			return nil, fmt.Errorf("cameras: %s and %s use the same device %s", other.Name, name, cam.identity)
		}
	}

	cameras[name] = cam
	return cam, nil
}

// Remove releases the camera and forgets its name.
func Remove(ctx context.Context, name string) error {
	camerasMu.Lock()
	cam := cameras[name]
	delete(cameras, name)
	camerasMu.Unlock()

	if cam == nil {
		return nil
	}
	return cam.Release(ctx)
}

// Autostart starts streaming of every camera with `autostart: true`.
func Autostart(ctx context.Context) {
	for _, cam := range GetAll() {
		if !cam.autostart {
			continue
		}
		go func(cam *Camera) {
			if err := cam.Start(ctx); err != nil {
				log.Warn().Err(err).Str("camera", cam.Name).Msg("[cameras] autostart")
			}
		}(cam)
	}
}

// Devices enumerates the cameras of a family, all families when it is empty.
func Devices(ctx context.Context, family string) ([]device.Descriptor, error) {
	if registry == nil {
		return nil, device.ErrClosed
	}

	var families []device.Family
	if family != "" {
		f, err := device.ParseFamily(family)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", api.ErrBadRequest, err)
		}
		families = []device.Family{f}
	} else {
		families = registry.Families()
	}

	var all []device.Descriptor
	for _, f := range families {
		list, err := registry.Devices(ctx, f)
		if err != nil {
			return nil, err
		}
		all = append(all, list...)
	}
	return all, nil
}

// Close releases all cameras and destroys their handles.
func Close(ctx context.Context) error {
	if registry == nil {
		return nil
	}

	for _, cam := range GetAll() {
		cam.detach()
	}

	return registry.Close(ctx)
}

// OnStatus calls f after every state change of any camera.
func OnStatus(f func(status *Status)) (remove func()) {
	watchersMu.Lock()
	watchersID++
	id := watchersID
	watchers[id] = f
	watchersMu.Unlock()

	return func() {
		watchersMu.Lock()
		delete(watchers, id)
		watchersMu.Unlock()
	}
}

func broadcast(status *Status) {
	watchersMu.Lock()
	defer watchersMu.Unlock()
	for _, f := range watchers {
		f(status)
	}
}

var (
	log      = zerolog.Nop()
	registry *device.Registry

	cameras   = map[string]*Camera{}
	camerasMu sync.Mutex

	watchers   = map[int]func(*Status){}
	watchersID int
	watchersMu sync.Mutex
)
