package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Registry maps device identities to controllers and keeps at most one live
// handle per identity in the process. The driver still reports devices
// locked by other processes as busy, and that answer always wins.
type Registry struct {
	drivers map[Family]Driver
	opts    Options
	log     zerolog.Logger

	mu      sync.Mutex
	entries map[Identity]*entry
	refs    map[Family]int
	claims  map[string]*Controller
	closed  bool
}

type entry struct {
	// serializes acquire and release of one identity
	mu   sync.Mutex
	ctrl atomic.Pointer[Controller]
}

// NewRegistry uses opts as defaults for every controller it creates.
func NewRegistry(opts Options, drivers ...Driver) *Registry {
	r := &Registry{
		drivers: map[Family]Driver{},
		opts:    opts,
		entries: map[Identity]*entry{},
		refs:    map[Family]int{},
		claims:  map[string]*Controller{},
	}
	for _, drv := range drivers {
		r.drivers[drv.Family()] = drv
	}
	if opts.Logger != nil {
		r.log = *opts.Logger
	} else {
		r.log = zerolog.Nop()
	}
	return r
}

func (r *Registry) Families() []Family {
	families := make([]Family, 0, len(r.drivers))
	for f := range r.drivers {
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	return families
}

// Acquire returns the live controller for id or creates and connects a new one.
// Faulted and closing controllers are torn down and replaced. On connect
// failure the new controller is still registered and returned with the error,
// so the caller can show its state.
func (r *Registry) Acquire(ctx context.Context, id Identity, cfg Config) (*Controller, error) {
	id, drv, err := r.resolve(id)
	if err != nil {
		return nil, err
	}

	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if c := e.ctrl.Load(); c != nil {
		if !c.Closing() && c.State() != StateFaulted {
			return c, nil
		}

		r.log.Debug().Stringer("camera", id).Msg("[device] replace controller")

		e.ctrl.Store(nil)
		if err = r.shutdown(ctx, c); err != nil && errors.Is(err, ErrResourceLeakSuspected) {
			return nil, err
		}
	}

	if err = r.ref(drv); err != nil {
		return nil, err
	}

	cfg.Options = cfg.Options.merge(r.opts)
	cfg.claim = r.claim

	c := NewController(id, drv, cfg)
	e.ctrl.Store(c)

	if err = c.Connect(ctx); err != nil {
		if errors.Is(err, ErrAlreadyOpen) {
			// another identity of this process holds the camera
			e.ctrl.Store(nil)
			_ = r.shutdown(ctx, c)
			return nil, err
		}
		if errors.Is(err, ErrDeviceBusy) {
			err = fmt.Errorf("%w: %w", ErrAlreadyOpenElsewhere, err)
		}
		return c, err
	}

	return c, nil
}

// Get returns the registered controller or nil.
func (r *Registry) Get(id Identity) *Controller {
	id, _, err := r.resolve(id)
	if err != nil {
		return nil
	}

	r.mu.Lock()
	e := r.entries[id]
	r.mu.Unlock()

	if e == nil {
		return nil
	}
	return e.ctrl.Load()
}

// Release shuts the controller down and waits for its handle to be destroyed.
// When the worker is stuck in a driver call past the release timeout it is
// abandoned and ErrResourceLeakSuspected is returned.
func (r *Registry) Release(ctx context.Context, id Identity) error {
	id, _, err := r.resolve(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	e := r.entries[id]
	r.mu.Unlock()

	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.ctrl.Swap(nil)
	if c == nil {
		return nil
	}
	return r.shutdown(ctx, c)
}

// List returns live controllers ordered by identity.
func (r *Registry) List() []*Controller {
	r.mu.Lock()
	list := make([]*Controller, 0, len(r.entries))
	for _, e := range r.entries {
		if c := e.ctrl.Load(); c != nil {
			list = append(list, c)
		}
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].identity.String() < list[j].identity.String()
	})
	return list
}

func (r *Registry) Len() int {
	return len(r.List())
}

// Devices enumerates the cameras of one family without opening them.
func (r *Registry) Devices(ctx context.Context, family Family) ([]Descriptor, error) {
	drv, ok := r.drivers[family]
	if !ok {
		return nil, fmt.Errorf("%w: no driver for %q", ErrUnsupported, family)
	}

	if err := r.ref(drv); err != nil {
		return nil, err
	}

	// the SDK stays referenced until an abandoned enumerate returns
	timeout := r.opts.withDefaults().ConnectTimeout
	list, err := bounded(ctx, timeout, func(ctx context.Context) ([]Descriptor, error) {
		defer r.unref(drv)
		return drv.Enumerate(ctx)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: enumerate: %w", family, err)
	}
	return list, nil
}

// Close releases every controller. Acquire fails after Close.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	ids := make([]Identity, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id Identity) {
			defer wg.Done()
			errs[i] = r.Release(ctx, id)
		}(i, id)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Refs returns the number of SDK users of a family.
func (r *Registry) Refs(family Family) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[family]
}

func (r *Registry) resolve(id Identity) (Identity, Driver, error) {
	if id.Family == FamilyUnknown {
		if len(r.drivers) != 1 {
			return id, nil, fmt.Errorf("%w: %s: camera family required", ErrDeviceNotFound, id)
		}
		for family := range r.drivers {
			id.Family = family
		}
	}

	drv, ok := r.drivers[id.Family]
	if !ok {
		return id, nil, fmt.Errorf("%w: no driver for %q", ErrUnsupported, id.Family)
	}
	return id, drv, nil
}

func (r *Registry) entry(id Identity) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, &Error{Op: "acquire", Identity: id, Err: ErrClosed}
	}

	e := r.entries[id]
	if e == nil {
		e = &entry{}
		r.entries[id] = e
	}
	return e, nil
}

func (r *Registry) shutdown(ctx context.Context, c *Controller) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReleaseTimeout)
	defer cancel()

	err := c.Close(ctx)
	if ctx.Err() == nil {
		r.forget(c)
		return err
	}

	// the worker is blocked inside the driver
	if c.abort() == nil {
		select {
		case <-c.Done():
			r.forget(c)
			return nil
		case <-time.After(c.opts.StopGrace):
		}
	}

	r.log.Warn().Stringer("camera", c.identity).Dur("timeout", c.opts.ReleaseTimeout).
		Msg("[device] worker abandoned, handle may leak")

	go func() {
		<-c.Done()
		r.forget(c)
	}()

	return &Error{Op: "release", Identity: c.identity, Err: ErrResourceLeakSuspected}
}

// claim keeps one controller per physical camera, whatever identity
// resolved to it
func (r *Registry) claim(c *Controller, desc Descriptor) error {
	key := desc.Serial
	if key == "" {
		key = desc.Name()
	}
	key = c.identity.Family.String() + ":" + key

	r.mu.Lock()
	defer r.mu.Unlock()

	if other := r.claims[key]; other != nil && other != c {
		return fmt.Errorf("%w: %s is used as %s", ErrAlreadyOpen, desc.Name(), other.identity)
	}

	for k, v := range r.claims {
		if v == c {
			delete(r.claims, k)
		}
	}
	r.claims[key] = c
	return nil
}

// forget drops the claims and the SDK reference of a stopped controller
func (r *Registry) forget(c *Controller) {
	r.mu.Lock()
	for k, v := range r.claims {
		if v == c {
			delete(r.claims, k)
		}
	}
	r.mu.Unlock()

	r.unref(c.drv)
}

// ref calls Init before the first user of a family
func (r *Registry) ref(drv Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	family := drv.Family()
	if r.refs[family] == 0 {
		if err := guard(drv.Init); err != nil {
			return fmt.Errorf("%w: %s init: %w", ErrDriver, family, err)
		}
		r.log.Debug().Stringer("family", family).Msg("[device] sdk init")
	}
	r.refs[family]++
	return nil
}

// unref calls Cleanup after the last user of a family
func (r *Registry) unref(drv Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	family := drv.Family()
	if r.refs[family] == 0 {
		return
	}
	r.refs[family]--
	if r.refs[family] > 0 {
		return
	}
	if err := guard(drv.Cleanup); err != nil {
		r.log.Warn().Err(err).Stringer("family", family).Msg("[device] sdk cleanup")
		return
	}
	r.log.Debug().Stringer("family", family).Msg("[device] sdk cleanup")
}

func (o Options) merge(def Options) Options {
	if o.GrabTimeout == 0 {
		o.GrabTimeout = def.GrabTimeout
	}
	if o.FaultThreshold == 0 {
		o.FaultThreshold = def.FaultThreshold
	}
	if o.StopGrace == 0 {
		o.StopGrace = def.StopGrace
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.ReleaseTimeout == 0 {
		o.ReleaseTimeout = def.ReleaseTimeout
	}
	if o.Logger == nil {
		o.Logger = def.Logger
	}
	return o
}
