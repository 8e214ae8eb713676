package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Options struct {
	// GrabTimeout bounds one Grab call
	GrabTimeout time.Duration
	// FaultThreshold is the number of consecutive grab timeouts after which
	// the device is marked unresponsive, 0 disables the check. Timeouts are
	// counted only with trigger mode off; a triggered camera is silent until
	// the next trigger.
	FaultThreshold int
	// StopGrace is how long StopStreaming waits before forcing the stop
	StopGrace time.Duration
	// ConnectTimeout bounds every enumerate, open and configure step
	ConnectTimeout time.Duration
	// ReleaseTimeout is how long the registry waits for handle destruction
	ReleaseTimeout time.Duration

	Logger *zerolog.Logger
}

const (
	DefaultGrabTimeout    = time.Second
	DefaultStopGrace      = 2 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultReleaseTimeout = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.GrabTimeout <= 0 {
		o.GrabTimeout = DefaultGrabTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.ConnectTimeout < 0 {
		o.ConnectTimeout = 0
	} else if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReleaseTimeout <= 0 {
		o.ReleaseTimeout = DefaultReleaseTimeout
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

// Config is used once, when a controller is created.
type Config struct {
	Parameters Parameters
	Options    Options
	Sink       Sink

	// claim reserves the matched device before it is opened
	claim func(c *Controller, desc Descriptor) error
}

// Status is a snapshot of controller state for display.
type Status struct {
	ID           string      `json:"id"`
	Identity     Identity    `json:"identity"`
	State        State       `json:"state"`
	Error        string      `json:"error,omitempty"`
	Device       *Descriptor `json:"device,omitempty"`
	Name         string      `json:"name,omitempty"`
	Parameters   Parameters  `json:"parameters"`
	Sequence     uint64      `json:"sequence"`
	Frames       uint64      `json:"frames"`
	Timeouts     uint64      `json:"timeouts"`
	DecodeErrors uint64      `json:"decode_errors,omitempty"`
	Since        *time.Time  `json:"streaming_since,omitempty"`

	Err error `json:"-"`
}

// Summary renders state and error kind, like "faulted: device busy".
func (s Status) Summary() string {
	if s.Err == nil {
		return s.State.String()
	}
	return s.State.String() + ": " + Kind(s.Err).Error()
}

// Controller is the state machine of one camera. Every method is safe for
// concurrent use: commands are queued to the controller worker and run
// strictly in submission order.
type Controller struct {
	id       string
	identity Identity
	drv      Driver
	opts     Options
	sink     Sink
	claim    func(c *Controller, desc Descriptor) error
	log      zerolog.Logger

	cmds    chan *command
	done    chan struct{}
	closing atomic.Bool

	// written only by the worker, under mu
	mu       sync.Mutex
	state    State
	lastErr  error
	desc     *Descriptor
	handle   Handle
	params   Parameters
	seq      uint64
	frames   uint64
	timeouts uint64
	decodes  uint64
	since    time.Time

	// worker only
	running     bool
	consecutive int
	configuring <-chan struct{}

	listeners listeners
}

func NewController(identity Identity, drv Driver, cfg Config) *Controller {
	opts := cfg.Options.withDefaults()

	c := &Controller{
		id:       uuid.NewString(),
		identity: identity.WithFamily(drv.Family()),
		drv:      drv,
		opts:     opts,
		sink:     cfg.Sink,
		claim:    cfg.claim,
		params:   cfg.Parameters,
		cmds:     make(chan *command, 16),
		done:     make(chan struct{}),
	}
	c.log = opts.Logger.With().Str("camera", c.identity.String()).Logger()

	go c.run()

	return c
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) Identity() Identity {
	return c.identity
}

// Done is closed when the worker has exited after Close.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Closing reports whether Close was requested.
func (c *Controller) Closing() bool {
	return c.closing.Load()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status()
}

func (c *Controller) status() Status {
	s := Status{
		ID:           c.id,
		Identity:     c.identity,
		State:        c.state,
		Parameters:   c.params,
		Sequence:     c.seq,
		Frames:       c.frames,
		Timeouts:     c.timeouts,
		DecodeErrors: c.decodes,
		Err:          c.lastErr,
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	if c.desc != nil {
		desc := *c.desc
		s.Device = &desc
		s.Name = desc.Name()
	}
	if c.state == StateStreaming {
		since := c.since
		s.Since = &since
	}
	return s
}

// OnStatus registers f to be called after every state change.
// f runs on the worker goroutine: it must return fast and must not
// wait for controller commands.
func (c *Controller) OnStatus(f func(Status)) (remove func()) {
	return c.listeners.add(f)
}

// Connect enumerates, opens and configures the device.
// It is a no-op when the device is already connected.
func (c *Controller) Connect(ctx context.Context) error {
	_, err := c.submit(ctx, &command{op: opConnect})
	return err
}

func (c *Controller) StartStreaming(ctx context.Context) error {
	_, err := c.submit(ctx, &command{op: opStart})
	return err
}

// StopStreaming asks the worker to leave the acquire loop and blocks until it
// does. After StopGrace the in-flight grab is aborted when the driver
// supports it; after a second grace period ErrStopTimeout is returned while
// the stop stays queued.
func (c *Controller) StopStreaming(ctx context.Context) error {
	cmd := &command{op: opStop}
	if err := c.enqueue(ctx, cmd); err != nil {
		return err
	}

	res, err := c.wait(ctx, cmd, c.opts.StopGrace)
	if !errors.Is(err, ErrStopTimeout) {
		return firstErr(res.err, err)
	}

	c.log.Warn().Dur("grace", c.opts.StopGrace).Msg("[device] stop grace expired, force stop")

	if err = c.abort(); err != nil && !errors.Is(err, ErrUnsupported) {
		c.log.Warn().Err(err).Msg("[device] abort")
	}

	res, err = c.wait(ctx, cmd, c.opts.StopGrace)
	if errors.Is(err, ErrStopTimeout) {
		return c.wrap("stop", err)
	}
	return firstErr(res.err, err)
}

// SetParameter changes one parameter. Parameters are stream exclusive:
// while streaming it fails with ErrStreamingActive. When the device is not
// connected the value is stored and applied on the next Connect.
func (c *Controller) SetParameter(ctx context.Context, name string, value any) error {
	_, err := c.submit(ctx, &command{op: opSetParam, name: name, value: value})
	return err
}

// Parameter reads from the device when connected, otherwise the stored value.
func (c *Controller) Parameter(ctx context.Context, name string) (any, error) {
	return c.submit(ctx, &command{op: opGetParam, name: name})
}

func (c *Controller) Range(ctx context.Context, name string) (Range, error) {
	v, err := c.submit(ctx, &command{op: opRange, name: name})
	if err != nil {
		return Range{}, err
	}
	return v.(Range), nil
}

// Trigger fires a software trigger, only while streaming in software trigger mode.
func (c *Controller) Trigger(ctx context.Context) error {
	_, err := c.submit(ctx, &command{op: opTrigger})
	return err
}

// Disconnect stops, closes and destroys the device from any state.
// Calling it on an idle controller does nothing.
func (c *Controller) Disconnect(ctx context.Context) error {
	_, err := c.submit(ctx, &command{op: opDisconnect})
	return err
}

// Close disconnects and stops the worker. The controller is unusable after.
func (c *Controller) Close(ctx context.Context) error {
	if !c.closing.CompareAndSwap(false, true) {
		select {
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cmd := &command{op: opTerminate}
	if err := c.enqueue(ctx, cmd); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}

	select {
	case res := <-cmd.reply:
		<-c.done
		return res.err
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) abort() error {
	aborter, ok := c.drv.(Aborter)
	if !ok {
		return ErrUnsupported
	}

	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()

	if h == nil {
		return nil
	}
	return guard(func() error { return aborter.Abort(h) })
}

// command queue

type opcode byte

const (
	opConnect opcode = iota
	opStart
	opStop
	opDisconnect
	opSetParam
	opGetParam
	opRange
	opTrigger
	opTerminate
)

var opNames = [...]string{
	opConnect:    "connect",
	opStart:      "start",
	opStop:       "stop",
	opDisconnect: "disconnect",
	opSetParam:   "set parameter",
	opGetParam:   "get parameter",
	opRange:      "range",
	opTrigger:    "trigger",
	opTerminate:  "close",
}

func (o opcode) String() string {
	return opNames[o]
}

type command struct {
	op    opcode
	ctx   context.Context
	name  string
	value any
	reply chan result
}

type result struct {
	value any
	err   error
}

func (c *Controller) submit(ctx context.Context, cmd *command) (any, error) {
	if err := c.enqueue(ctx, cmd); err != nil {
		return nil, err
	}
	res, err := c.wait(ctx, cmd, 0)
	if err != nil {
		return nil, err
	}
	return res.value, res.err
}

func (c *Controller) enqueue(ctx context.Context, cmd *command) error {
	cmd.ctx = ctx
	cmd.reply = make(chan result, 1)

	select {
	case <-c.done:
		return c.wrap(cmd.op.String(), ErrClosed)
	default:
	}

	select {
	case c.cmds <- cmd:
		return nil
	case <-c.done:
		return c.wrap(cmd.op.String(), ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wait returns ErrStopTimeout when timeout > 0 expires before the reply.
func (c *Controller) wait(ctx context.Context, cmd *command, timeout time.Duration) (result, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-cmd.reply:
		return res, nil
	case <-c.done:
		select {
		case res := <-cmd.reply:
			return res, nil
		default:
			return result{}, c.wrap(cmd.op.String(), ErrClosed)
		}
	case <-expired:
		return result{}, ErrStopTimeout
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

type listeners struct {
	mu    sync.Mutex
	next  int
	funcs map[int]func(Status)
}

func (l *listeners) add(f func(Status)) func() {
	l.mu.Lock()
	if l.funcs == nil {
		l.funcs = map[int]func(Status){}
	}
	l.next++
	id := l.next
	l.funcs[id] = f
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.funcs, id)
		l.mu.Unlock()
	}
}

func (l *listeners) fire(s Status) {
	l.mu.Lock()
	funcs := make([]func(Status), 0, len(l.funcs))
	for _, f := range l.funcs {
		funcs = append(funcs, f)
	}
	l.mu.Unlock()

	for _, f := range funcs {
		f(s)
	}
}
