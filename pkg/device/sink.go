package device

import (
	"sync"
	"sync/atomic"
)

// Sink consumes delivered frames. WriteFrame is called from the device
// worker and must return quickly; slow consumers wrap themselves in QueueSink.
type Sink interface {
	WriteFrame(frame *Frame)
}

type SinkFunc func(frame *Frame)

func (f SinkFunc) WriteFrame(frame *Frame) {
	f(frame)
}

// QueueSink hands frames to its own goroutine through a bounded queue.
// When the queue is full the oldest frame is dropped, so the writer never blocks.
type QueueSink struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Frame
	size   int
	closed bool

	drops atomic.Uint64
	done  chan struct{}
}

func NewQueueSink(size int, handler func(frame *Frame)) *QueueSink {
	if size < 1 {
		size = 1
	}
	q := &QueueSink{size: size, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run(handler)
	return q
}

func (q *QueueSink) WriteFrame(frame *Frame) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.queue) == q.size {
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.drops.Add(1)
	}
	q.queue = append(q.queue, frame)
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *QueueSink) run(handler func(frame *Frame)) {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.queue = nil
			q.mu.Unlock()
			return
		}
		frame := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.mu.Unlock()

		handler(frame)
	}
}

// Drops returns how many frames were discarded because the consumer was slow.
func (q *QueueSink) Drops() uint64 {
	return q.drops.Load()
}

// Close stops the consumer goroutine and waits for the running handler.
func (q *QueueSink) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

// Fanout delivers each frame to all attached sinks in attach order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []fanoutItem
	next  uint64
}

type fanoutItem struct {
	id   uint64
	sink Sink
}

// Add attaches sink and returns a function that detaches it.
func (f *Fanout) Add(sink Sink) (remove func()) {
	f.mu.Lock()
	f.next++
	id := f.next
	f.sinks = append(f.sinks, fanoutItem{id: id, sink: sink})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		for i, item := range f.sinks {
			if item.id == id {
				f.sinks = append(f.sinks[:i:i], f.sinks[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
	}
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

func (f *Fanout) WriteFrame(frame *Frame) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, item := range f.sinks {
		item.sink.WriteFrame(frame)
	}
}
