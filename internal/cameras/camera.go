package cameras

import (
	"context"
	"errors"
	"sync"

	"github.com/visionline/camd/internal/app"
	"github.com/visionline/camd/pkg/device"
)

// Camera is a configured camera name. Its controller comes from the registry
// on first use and is replaced when it faults.
type Camera struct {
	Name string

	identity  device.Identity
	autostart bool
	queue     int
	fanout    device.Fanout

	// serializes consumers joining and leaving
	consMu   sync.Mutex
	onDemand bool

	mu     sync.Mutex
	config device.Config
	ctrl   *device.Controller
	off    func()
	err    error
}

type Status struct {
	Name string `json:"name"`
	device.Status
	Autostart bool `json:"autostart,omitempty"`
	Consumers int  `json:"consumers"`
}

func newCamera(name string, conf *Config) (*Camera, error) {
	identity, err := conf.identity()
	if err != nil {
		return nil, err
	}

	params, err := conf.parameters()
	if err != nil {
		return nil, err
	}

	cam := &Camera{
		Name:      name,
		identity:  identity,
		autostart: conf.Autostart,
		queue:     conf.Queue,
	}
	if cam.queue <= 0 {
		cam.queue = DefaultQueue
	}

	cam.config = device.Config{
		Parameters: params,
		Options:    conf.options(),
		Sink:       &cam.fanout,
	}

	return cam, nil
}

// Connect opens and configures the camera, it is a no-op when connected.
func (c *Camera) Connect(ctx context.Context) error {
	_, err := c.acquire(ctx)
	return err
}

// Start connects when needed and starts streaming. Starting a streaming
// camera is not an error.
func (c *Camera) Start(ctx context.Context) error {
	ctrl, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	if err = ctrl.StartStreaming(ctx); errors.Is(err, device.ErrAlreadyStreaming) {
		return nil
	}
	return err
}

func (c *Camera) Stop(ctx context.Context) error {
	if ctrl := c.controller(); ctrl != nil {
		return ctrl.StopStreaming(ctx)
	}
	return nil
}

// Disconnect closes the device handle but keeps the controller registered.
func (c *Camera) Disconnect(ctx context.Context) error {
	if ctrl := c.controller(); ctrl != nil {
		return ctrl.Disconnect(ctx)
	}
	return nil
}

// Release removes the controller from the registry so another process may
// open the device.
func (c *Camera) Release(ctx context.Context) error {
	c.detach()
	err := registry.Release(ctx, c.identity)
	c.setErr(err)
	broadcast(c.Status())
	return err
}

func (c *Camera) Trigger(ctx context.Context) error {
	ctrl := c.controller()
	if ctrl == nil {
		return &device.Error{Op: "trigger", Identity: c.identity, Err: device.ErrNotStreaming}
	}
	return ctrl.Trigger(ctx)
}

// SetParam changes a parameter of the live controller and of the stored
// config used for the next controller. With save the value is also written
// to the config file.
func (c *Camera) SetParam(ctx context.Context, key string, value any, save bool) error {
	name, err := device.ParamName(key)
	if err != nil {
		return err
	}

	if ctrl := c.controller(); ctrl != nil {
		if err = ctrl.SetParameter(ctx, name, value); err != nil {
			return err
		}
	}

	c.mu.Lock()
	err = c.config.Parameters.Set(name, value)
	params := c.config.Parameters
	c.mu.Unlock()

	if err != nil || !save {
		return err
	}

	v, _ := params.Get(name)
	switch v := v.(type) {
	case device.TriggerMode:
		return app.PatchConfig([]string{"cameras", c.Name, name}, v.String())
	case device.PixelFormat:
		return app.PatchConfig([]string{"cameras", c.Name, name}, v.String())
	default:
		return app.PatchConfig([]string{"cameras", c.Name, name}, v)
	}
}

// Param reads from the device when connected, otherwise from the config.
func (c *Camera) Param(ctx context.Context, key string) (any, error) {
	if ctrl := c.controller(); ctrl != nil {
		return ctrl.Parameter(ctx, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Parameters.Get(key)
}

func (c *Camera) Range(ctx context.Context, key string) (device.Range, error) {
	ctrl := c.controller()
	if ctrl == nil {
		return device.Range{}, &device.Error{Op: "range", Identity: c.identity, Err: device.ErrNotReady}
	}
	return ctrl.Range(ctx, key)
}

// AddSink attaches a frame consumer, it receives frames while streaming.
func (c *Camera) AddSink(sink device.Sink) (remove func()) {
	return c.fanout.Add(sink)
}

// Consume attaches sink and starts streaming. The returned release detaches
// it. A camera started by its first consumer is stopped when the last one
// leaves, unless it has autostart.
func (c *Camera) Consume(ctx context.Context, sink device.Sink) (release func(), err error) {
	c.consMu.Lock()
	defer c.consMu.Unlock()

	streaming := c.State() == device.StateStreaming

	remove := c.fanout.Add(sink)
	if err = c.Start(ctx); err != nil {
		remove()
		return nil, err
	}

	if !streaming && !c.autostart {
		c.onDemand = true
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.consMu.Lock()
			defer c.consMu.Unlock()

			remove()

			if c.fanout.Len() > 0 || !c.onDemand {
				return
			}
			c.onDemand = false

			log.Debug().Str("camera", c.Name).Msg("[cameras] no consumers, stop")
			if err := c.Stop(context.Background()); err != nil {
				log.Warn().Err(err).Str("camera", c.Name).Msg("[cameras] stop")
			}
		})
	}, nil
}

// Queue is the frame queue length for consumers of this camera.
func (c *Camera) Queue() int {
	return c.queue
}

func (c *Camera) State() device.State {
	if ctrl := c.controller(); ctrl != nil {
		return ctrl.State()
	}
	return device.StateIdle
}

func (c *Camera) Status() *Status {
	c.mu.Lock()
	ctrl, params, err := c.ctrl, c.config.Parameters, c.err
	c.mu.Unlock()

	if ctrl != nil {
		return c.status(ctrl.Status())
	}

	s := device.Status{Identity: c.identity, State: device.StateIdle, Parameters: params, Err: err}
	if err != nil {
		s.Error = err.Error()
	}
	return c.status(s)
}

func (c *Camera) status(s device.Status) *Status {
	return &Status{Name: c.Name, Status: s, Autostart: c.autostart, Consumers: c.fanout.Len()}
}

func (c *Camera) controller() *device.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctrl
}

// acquire gets the controller from the registry and connects it.
func (c *Camera) acquire(ctx context.Context) (*device.Controller, error) {
	c.mu.Lock()
	config := c.config
	c.mu.Unlock()

	ctrl, err := registry.Acquire(ctx, c.identity, config)
	c.setErr(err)
	if ctrl != nil && c.attach(ctrl) {
		// the first transitions ran before the listener was attached
		broadcast(c.status(ctrl.Status()))
	}
	if err != nil {
		return ctrl, err
	}

	if ctrl.State() == device.StateIdle {
		err = ctrl.Connect(ctx)
	}
	return ctrl, err
}

func (c *Camera) attach(ctrl *device.Controller) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctrl == ctrl {
		return false
	}
	if c.off != nil {
		c.off()
	}

	log.Debug().Str("camera", c.Name).Str("id", ctrl.ID()).Msg("[cameras] new controller")

	c.ctrl = ctrl
	c.off = ctrl.OnStatus(func(s device.Status) {
		log.Debug().Str("camera", c.Name).Str("state", s.Summary()).Msg("[cameras] status")
		broadcast(c.status(s))
	})
	return true
}

func (c *Camera) detach() {
	c.mu.Lock()
	if c.off != nil {
		c.off()
		c.off = nil
	}
	c.ctrl = nil
	c.mu.Unlock()
}

func (c *Camera) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}
