package device

import (
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueSinkDropOldest(t *testing.T) {
	started := make(chan struct{})
	gate := make(chan struct{})

	var mu sync.Mutex
	var got []uint64

	q := NewQueueSink(2, func(frame *Frame) {
		if frame.Sequence == 1 {
			close(started)
			<-gate
		}
		mu.Lock()
		got = append(got, frame.Sequence)
		mu.Unlock()
	})

	q.WriteFrame(&Frame{Sequence: 1})
	<-started

	// consumer is busy, queue holds two
	for seq := uint64(2); seq <= 4; seq++ {
		q.WriteFrame(&Frame{Sequence: seq})
	}
	require.Equal(t, uint64(1), q.Drops())

	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, time.Millisecond)

	q.Close()
	q.WriteFrame(&Frame{Sequence: 5})

	mu.Lock()
	require.Equal(t, []uint64{1, 3, 4}, got)
	mu.Unlock()
}

func TestFanout(t *testing.T) {
	var a, b frames

	var f Fanout
	removeA := f.Add(&a)
	f.Add(&b)
	require.Equal(t, 2, f.Len())

	f.WriteFrame(&Frame{Sequence: 1})
	removeA()
	removeA()
	f.WriteFrame(&Frame{Sequence: 2})

	require.Equal(t, 1, f.Len())
	require.Equal(t, []uint64{1}, a.Sequences())
	require.Equal(t, []uint64{1, 2}, b.Sequences())
}

func TestCopyFrame(t *testing.T) {
	_, err := copyFrame(&Buffer{Data: []byte{1, 2}, Width: 2, Height: 2, Format: PixelMono8}, 1)
	require.ErrorIs(t, err, ErrDecode)

	_, err = copyFrame(&Buffer{}, 1)
	require.ErrorIs(t, err, ErrDecode)

	buf := &Buffer{Data: []byte{1, 2, 3, 4, 5, 6, 7}, Width: 1, Height: 2, Format: PixelBGR8}
	frame, err := copyFrame(buf, 7)
	require.Nil(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, frame.Pixels)
	require.Equal(t, uint64(7), frame.Sequence)
	require.False(t, frame.Timestamp.IsZero())

	img := frame.Image().(*image.RGBA)
	require.Equal(t, []byte{3, 2, 1, 0xFF, 6, 5, 4, 0xFF}, img.Pix)

	gray := (&Frame{Pixels: []byte{1, 2}, Width: 2, Height: 1, Format: PixelBayerRG8}).Image()
	require.IsType(t, &image.Gray{}, gray)
}
