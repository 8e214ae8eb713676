package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

func (c *Controller) run() {
	defer close(c.done)

	for {
		// state is written only here, so no lock is needed to read it
		if c.state == StateStreaming {
			select {
			case cmd := <-c.cmds:
				if c.exec(cmd) {
					return
				}
			default:
				c.safe("grab", func() (any, error) {
					c.iterate()
					return nil, nil
				})
			}
			continue
		}

		if c.exec(<-c.cmds) {
			return
		}
	}
}

// exec runs one command and returns true if the worker must exit
func (c *Controller) exec(cmd *command) bool {
	res := c.safe(cmd.op.String(), func() (any, error) {
		return c.dispatch(cmd)
	})
	cmd.reply <- res
	return cmd.op == opTerminate
}

func (c *Controller) dispatch(cmd *command) (any, error) {
	switch cmd.op {
	case opConnect:
		return nil, c.connect(cmd.ctx)
	case opStart:
		return nil, c.start()
	case opStop:
		return nil, c.stop()
	case opDisconnect, opTerminate:
		return nil, c.disconnect()
	case opSetParam:
		return nil, c.setParam(cmd.name, cmd.value)
	case opGetParam:
		return c.getParam(cmd.name)
	case opRange:
		return c.paramRange(cmd.name)
	case opTrigger:
		return nil, c.trigger()
	}
	return nil, fmt.Errorf("device: unknown command %d", cmd.op)
}

// safe converts a driver panic into a fault of the controller
func (c *Controller) safe(op string, fn func() (any, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: panic: %v", ErrDriver, r)
			c.log.Error().Err(err).Str("op", op).Msg("[device] recovered")
			res = result{err: c.fault(op, err)}
		}
	}()

	v, err := fn()
	return result{value: v, err: err}
}

func (c *Controller) connect(ctx context.Context) error {
	switch c.state {
	case StateIdle:
	case StateFaulted:
		return c.faulted("connect")
	case StateReady, StateStreaming:
		return nil
	default:
		return c.wrap("connect", fmt.Errorf("%w: %s", ErrNotReady, c.state))
	}

	c.apply(EventConnect, nil)

	timeout := c.opts.ConnectTimeout

	list, err := bounded(ctx, timeout, c.drv.Enumerate, nil)
	if err != nil {
		return c.fault("enumerate", err)
	}

	desc, err := c.identity.Match(list)
	if err != nil {
		err = c.wrap("enumerate", err)
		c.apply(EventNotFound, err)
		return err
	}

	c.mu.Lock()
	c.desc = &desc
	c.mu.Unlock()
	c.apply(EventFound, nil)

	if c.claim != nil {
		if err = c.claim(c, desc); err != nil {
			return c.fault("open", err)
		}
	}

	c.log.Debug().Str("device", desc.Name()).Msg("[device] open")

	h, err := bounded(ctx, timeout, func(ctx context.Context) (Handle, error) {
		return c.drv.Open(ctx, desc)
	}, func(h Handle) {
		// open returned after we gave up on it
		_ = guard(func() error { return c.drv.Close(h) })
		_ = guard(func() error { return c.drv.Destroy(h) })
	})
	if err != nil {
		err = c.wrap("open", err)
		if errors.Is(err, ErrDeviceBusy) {
			c.apply(EventBusy, err)
		} else {
			c.apply(EventFault, err)
		}
		return err
	}

	c.setHandle(h)
	c.apply(EventOpened, nil)

	params := c.params
	configured := make(chan struct{})
	_, err = bounded(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		defer close(configured)
		return struct{}{}, c.drv.Configure(ctx, h, params)
	}, nil)
	// an abandoned configure may still use the handle
	c.configuring = configured
	if err != nil {
		if errors.Is(err, ErrConfigRejected) || errors.Is(err, ErrParam) {
			if !errors.Is(err, ErrConfigRejected) {
				err = fmt.Errorf("%w: %w", ErrConfigRejected, err)
			}
			err = c.wrap("configure", err)
			c.apply(EventRejected, err)
			return err
		}
		return c.fault("configure", err)
	}

	c.apply(EventConfigured, nil)

	c.log.Info().Str("device", desc.Name()).Msg("[device] connected")
	return nil
}

func (c *Controller) start() error {
	switch c.state {
	case StateReady:
	case StateStreaming:
		return c.wrap("start", ErrAlreadyStreaming)
	case StateFaulted:
		return c.faulted("start")
	default:
		return c.wrap("start", ErrNotReady)
	}

	if err := guard(func() error { return c.drv.Start(c.handle) }); err != nil {
		return c.fault("start", err)
	}

	c.running = true
	c.consecutive = 0

	c.mu.Lock()
	c.seq = 0
	c.since = time.Now()
	c.mu.Unlock()

	c.apply(EventStart, nil)
	return nil
}

func (c *Controller) stop() error {
	switch c.state {
	case StateStreaming:
	case StateFaulted:
		return c.faulted("stop")
	default:
		return nil
	}

	c.apply(EventStop, nil)

	err := guard(func() error { return c.drv.Stop(c.handle) })
	c.running = false
	if err != nil {
		return c.fault("stop", err)
	}

	c.apply(EventStopped, nil)
	return nil
}

// disconnect tears down from any state. Every step runs even if an earlier
// one failed; the errors are joined and the state always ends in Idle.
func (c *Controller) disconnect() error {
	if c.state == StateIdle {
		return nil
	}

	c.apply(EventDisconnect, nil)

	var errs []error

	if c.configuring != nil {
		select {
		case <-c.configuring:
		default:
			c.log.Warn().Msg("[device] wait for configure before close")
			<-c.configuring
		}
		c.configuring = nil
	}

	h := c.handle
	if c.running {
		if err := guard(func() error { return c.drv.Stop(h) }); err != nil {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
		c.running = false
	}

	if h != nil {
		if err := guard(func() error { return c.drv.Close(h) }); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		if err := guard(func() error { return c.drv.Destroy(h) }); err != nil {
			errs = append(errs, fmt.Errorf("destroy: %w", err))
		}
		c.setHandle(nil)
	}

	err := errors.Join(errs...)
	if err != nil {
		err = c.wrap("disconnect", err)
		c.log.Warn().Err(err).Msg("[device] teardown")
	}

	c.apply(EventClosed, err)

	c.log.Debug().Msg("[device] disconnected")
	return err
}

func (c *Controller) setParam(name string, value any) error {
	name, err := ParamName(name)
	if err != nil {
		return c.wrap("set", err)
	}

	switch c.state {
	case StateIdle, StateReady:
	case StateStreaming, StateStopping:
		return c.wrap("set "+name, ErrStreamingActive)
	case StateFaulted:
		return c.faulted("set " + name)
	default:
		return c.wrap("set "+name, ErrNotReady)
	}

	next := c.params
	if err = next.Set(name, value); err != nil {
		return c.wrap("set "+name, err)
	}

	if c.state == StateReady {
		v, _ := next.Get(name)

		if ranger, ok := c.drv.(Ranger); ok {
			if f, ok := v.(float64); ok {
				var r Range
				err = guard(func() (err error) {
					r, err = ranger.Range(c.handle, name)
					return
				})
				if err == nil && !r.Contains(f) {
					return c.wrap("set "+name, fmt.Errorf("%w: %v out of range %v-%v", ErrParam, f, r.Min, r.Max))
				}
			}
		}

		setter, ok := c.drv.(ParamSetter)
		if !ok {
			return c.wrap("set "+name, ErrUnsupported)
		}

		if err = guard(func() error { return setter.SetParam(c.handle, name, v) }); err != nil {
			if !errors.Is(err, ErrParam) {
				err = fmt.Errorf("%w: %w", ErrParam, err)
			}
			return c.wrap("set "+name, err)
		}
	}

	c.mu.Lock()
	c.params = next
	c.mu.Unlock()

	c.log.Debug().Str("name", name).Interface("value", value).Msg("[device] set parameter")
	return nil
}

func (c *Controller) getParam(name string) (any, error) {
	name, err := ParamName(name)
	if err != nil {
		return nil, c.wrap("get", err)
	}

	if c.state.Connected() {
		if getter, ok := c.drv.(ParamSetter); ok {
			var v any
			err = guard(func() (err error) {
				v, err = getter.Param(c.handle, name)
				return
			})
			if err == nil {
				return v, nil
			}
			if !errors.Is(err, ErrUnsupported) {
				return nil, c.wrap("get "+name, err)
			}
		}
	}

	return c.params.Get(name)
}

func (c *Controller) paramRange(name string) (any, error) {
	name, err := ParamName(name)
	if err != nil {
		return nil, c.wrap("range", err)
	}
	if !c.state.Connected() {
		return nil, c.wrap("range "+name, ErrNotReady)
	}
	ranger, ok := c.drv.(Ranger)
	if !ok {
		return nil, c.wrap("range "+name, ErrUnsupported)
	}

	var r Range
	if err = guard(func() (err error) {
		r, err = ranger.Range(c.handle, name)
		return
	}); err != nil {
		return nil, c.wrap("range "+name, err)
	}
	return r, nil
}

func (c *Controller) trigger() error {
	switch c.state {
	case StateStreaming:
	case StateFaulted:
		return c.faulted("trigger")
	default:
		return c.wrap("trigger", ErrNotStreaming)
	}

	if c.params.TriggerMode != TriggerSoftware {
		return c.wrap("trigger", fmt.Errorf("%w: trigger mode is %s", ErrParam, c.params.TriggerMode))
	}

	triggerer, ok := c.drv.(Triggerer)
	if !ok {
		return c.wrap("trigger", ErrUnsupported)
	}

	if err := guard(func() error { return triggerer.Trigger(c.handle) }); err != nil {
		return c.wrap("trigger", err)
	}
	return nil
}

// iterate is one step of the acquire loop
func (c *Controller) iterate() {
	frame, err := c.acquireFrame(c.opts.GrabTimeout)

	switch {
	case err == nil:
		c.consecutive = 0
		c.deliver(frame)

	case errors.Is(err, ErrFrameTimeout):
		c.consecutive++

		c.mu.Lock()
		c.timeouts++
		c.mu.Unlock()

		// triggered cameras are silent between triggers
		n := c.opts.FaultThreshold
		if n > 0 && c.params.TriggerMode == TriggerOff && c.consecutive >= n {
			err = fmt.Errorf("%w: %d consecutive timeouts", ErrDeviceUnresponsive, c.consecutive)
			_ = c.fault("grab", err)
			c.log.Error().Err(err).Msg("[device] acquire")
		}

	case errors.Is(err, ErrDecode):
		c.mu.Lock()
		c.decodes++
		c.mu.Unlock()

		c.log.Warn().Err(err).Msg("[device] acquire")

	default:
		c.log.Error().Err(err).Msg("[device] acquire")
		_ = c.fault("grab", err)
	}
}

// acquireFrame grabs one buffer, copies it into an owned frame and releases it.
func (c *Controller) acquireFrame(timeout time.Duration) (*Frame, error) {
	switch c.state {
	case StateStreaming:
	case StateFaulted:
		return nil, c.faulted("acquire")
	default:
		return nil, c.wrap("acquire", ErrNotStreaming)
	}

	var frame *Frame
	err := withBuffer(c.drv, c.handle, timeout, func(buf *Buffer) (err error) {
		frame, err = copyFrame(buf, c.seq+1)
		return
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.seq = frame.Sequence
	c.frames++
	c.mu.Unlock()

	return frame, nil
}

func (c *Controller) deliver(frame *Frame) {
	if c.sink == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("[device] sink")
		}
	}()

	c.sink.WriteFrame(frame)
}

// withBuffer passes one grabbed buffer to fn and releases it exactly once on
// every path. A buffer returned together with an error is released too.
func withBuffer(drv Driver, h Handle, timeout time.Duration, fn func(buf *Buffer) error) (err error) {
	buf, err := drv.Grab(h, timeout)
	if buf == nil {
		if err == nil {
			err = fmt.Errorf("%w: no buffer", ErrDriver)
		}
		return err
	}

	defer func() {
		if rerr := drv.Release(h, buf); rerr != nil {
			err = fmt.Errorf("release: %w", rerr)
		}
	}()

	if err != nil {
		return err
	}
	return fn(buf)
}

// bounded runs fn with a deadline. When the deadline passes first, fn keeps
// running and late receives its value if it succeeds eventually.
func bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error), late func(T)) (T, error) {
	if d <= 0 {
		var v T
		err := guard(func() (err error) {
			v, err = fn(ctx)
			return
		})
		return v, err
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type reply struct {
		v   T
		err error
	}

	ch := make(chan reply, 1)
	go func() {
		var r reply
		r.err = guard(func() (err error) {
			r.v, err = fn(ctx)
			return
		})
		ch <- r
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil && late != nil {
				late(r.v)
			}
		}()
		var zero T
		return zero, fmt.Errorf("%w: %s", ctx.Err(), d)
	}
}

// guard turns a panic in a driver call into ErrDriver
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrDriver, r)
		}
	}()
	return fn()
}

// state helpers, called from the worker only

func (c *Controller) apply(e Event, err error) {
	next, terr := Next(c.state, e)
	if terr != nil {
		c.log.Error().Err(terr).Msg("[device] transition")
		return
	}

	c.mu.Lock()
	prev := c.state
	c.state = next
	switch e {
	case EventConnect:
		c.lastErr = nil
	case EventNotFound, EventBusy, EventRejected, EventFault, EventClosed:
		c.lastErr = err
	}
	status := c.status()
	c.mu.Unlock()

	if prev != next {
		c.log.Trace().Stringer("from", prev).Stringer("to", next).Msg("[device] state")
		c.listeners.fire(status)
	}
}

func (c *Controller) fault(op string, err error) error {
	err = c.wrap(op, err)
	if c.state != StateFaulted {
		c.apply(EventFault, err)
	}
	return err
}

func (c *Controller) faulted(op string) error {
	c.mu.Lock()
	cause := c.lastErr
	c.mu.Unlock()
	if cause != nil {
		return c.wrap(op, fmt.Errorf("%w: %w", ErrFaulted, cause))
	}
	return c.wrap(op, ErrFaulted)
}

func (c *Controller) setHandle(h Handle) {
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
}

func (c *Controller) wrap(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Op: op, Identity: c.identity, Err: err}
}
