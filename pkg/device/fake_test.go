package device

import (
	"context"
	"sync"
	"time"
)

// fakeDriver records every call and checks buffer pairing.
type fakeDriver struct {
	family  Family
	devices []Descriptor

	mu          sync.Mutex
	calls       []string
	grabs       int
	releases    int
	outstanding int
	violations  int
	destroys    int
	inits       int
	cleanups    int
	aborted     chan struct{}
	params      map[string]any

	enumDelay    time.Duration
	openErr      error
	openDelay    time.Duration
	configErr    error
	configDelay  time.Duration
	configuring  int
	overlaps     int
	destroyBlock chan struct{}
	grab         func(n int, timeout time.Duration) (*Buffer, error)
}

func newFakeDriver(devices ...Descriptor) *fakeDriver {
	if len(devices) == 0 {
		devices = []Descriptor{{Family: FamilySim, Transport: TransportUSB, Serial: "SN0", Model: "Fake", UserName: "cam"}}
	}
	return &fakeDriver{
		family:  FamilySim,
		devices: devices,
		aborted: make(chan struct{}),
		params:  map[string]any{},
	}
}

func (d *fakeDriver) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *fakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) count(call string) (n int) {
	for _, c := range d.Calls() {
		if c == call {
			n++
		}
	}
	return
}

func (d *fakeDriver) Family() Family { return d.family }

func (d *fakeDriver) Init() error {
	d.mu.Lock()
	d.inits++
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Cleanup() error {
	d.mu.Lock()
	d.cleanups++
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Enumerate(ctx context.Context) ([]Descriptor, error) {
	d.record("enumerate")
	d.mu.Lock()
	delay := d.enumDelay
	d.mu.Unlock()
	time.Sleep(delay)
	return d.devices, nil
}

func (d *fakeDriver) Open(ctx context.Context, desc Descriptor) (Handle, error) {
	d.record("open")
	d.mu.Lock()
	err, delay := d.openErr, d.openDelay
	d.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return desc.Serial, nil
}

func (d *fakeDriver) Configure(ctx context.Context, h Handle, params Parameters) error {
	d.record("configure")
	d.mu.Lock()
	err, delay := d.configErr, d.configDelay
	d.configuring++
	d.mu.Unlock()

	// slow SDKs ignore ctx
	time.Sleep(delay)

	d.mu.Lock()
	d.configuring--
	d.mu.Unlock()
	return err
}

// teardown counts close and destroy calls made during a configure
func (d *fakeDriver) teardown() {
	d.mu.Lock()
	if d.configuring > 0 {
		d.overlaps++
	}
	d.mu.Unlock()
}

func (d *fakeDriver) Start(h Handle) error {
	d.record("start")
	return nil
}

func (d *fakeDriver) Grab(h Handle, timeout time.Duration) (*Buffer, error) {
	d.record("grab")

	d.mu.Lock()
	if d.outstanding > 0 {
		d.violations++
	}
	d.grabs++
	n := d.grabs
	grab := d.grab
	d.mu.Unlock()

	var buf *Buffer
	var err error
	if grab != nil {
		buf, err = grab(n, timeout)
	} else {
		time.Sleep(time.Millisecond)
		buf = &Buffer{Data: []byte{1, 2, 3, 4}, Width: 2, Height: 2, Format: PixelMono8}
	}

	if buf != nil {
		d.mu.Lock()
		d.outstanding++
		d.mu.Unlock()
	}
	return buf, err
}

func (d *fakeDriver) Release(h Handle, buf *Buffer) error {
	d.record("release")
	d.mu.Lock()
	d.outstanding--
	d.releases++
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Stop(h Handle) error {
	d.record("stop")
	return nil
}

func (d *fakeDriver) Close(h Handle) error {
	d.record("close")
	d.teardown()
	return nil
}

func (d *fakeDriver) Destroy(h Handle) error {
	d.record("destroy")
	d.teardown()
	if d.destroyBlock != nil {
		<-d.destroyBlock
	}
	d.mu.Lock()
	d.destroys++
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) SetParam(h Handle, name string, value any) error {
	d.record("set " + name)
	d.mu.Lock()
	d.params[name] = value
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Param(h Handle, name string) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.params[name]; ok {
		return v, nil
	}
	return nil, ErrUnsupported
}

func (d *fakeDriver) Range(h Handle, name string) (Range, error) {
	if name == ParamExposureTime {
		return Range{Min: 10, Max: 100000}, nil
	}
	return Range{}, ErrUnsupported
}

func (d *fakeDriver) Abort(h Handle) error {
	d.record("abort")
	select {
	case <-d.aborted:
	default:
		close(d.aborted)
	}
	return nil
}

func (d *fakeDriver) Trigger(h Handle) error {
	d.record("trigger")
	return nil
}

// noAbort hides the Aborter of a driver
type noAbort struct {
	Driver
}

func (d *fakeDriver) stats() (grabs, releases, violations, destroys int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grabs, d.releases, d.violations, d.destroys
}

// frames collects delivered frames.
type frames struct {
	mu   sync.Mutex
	list []*Frame
}

func (f *frames) WriteFrame(frame *Frame) {
	f.mu.Lock()
	f.list = append(f.list, frame)
	f.mu.Unlock()
}

func (f *frames) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.list)
}

func (f *frames) Sequences() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	seqs := make([]uint64, len(f.list))
	for i, frame := range f.list {
		seqs[i] = frame.Sequence
	}
	return seqs
}

func testOptions() Options {
	return Options{
		GrabTimeout:    10 * time.Millisecond,
		StopGrace:      200 * time.Millisecond,
		ConnectTimeout: time.Second,
		ReleaseTimeout: time.Second,
	}
}
