//////////////////////////////////////////////////////////////////////////////
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lanikai/alohacast/internal/video"
)

type fakeBuffer struct {
	released int32
}

func (b *fakeBuffer) Fd() int                            { return -1 }
func (b *fakeBuffer) Size() int                          { return 0 }
func (b *fakeBuffer) Bytes() []byte                      { return nil }
func (b *fakeBuffer) Descriptor() video.FormatDescriptor { return video.FormatDescriptor{} }
func (b *fakeBuffer) Release() error                     { atomic.AddInt32(&b.released, 1); return nil }

func (b *fakeBuffer) releaseCount() int32 {
	return atomic.LoadInt32(&b.released)
}

func testFrame(seq uint64) (*Frame, *fakeBuffer) {
	buf := &fakeBuffer{}
	return &Frame{Buffer: buf, Seq: seq}, buf
}

func TestFrameQueueOrdering(t *testing.T) {
	q := newFrameQueue(4)
	defer q.Close()

	for i := uint64(1); i <= 3; i++ {
		f, _ := testFrame(i)
		assert.False(t, q.Push(f))
	}
	assert.Equal(t, 3, q.Len())

	for i := uint64(1); i <= 3; i++ {
		f, err := q.Pull(time.Second)
		assert.NoError(t, err)
		assert.Equal(t, i, f.Seq)
	}
}

func TestFrameQueueDropsOldest(t *testing.T) {
	q := newFrameQueue(2)
	defer q.Close()

	f1, b1 := testFrame(1)
	f2, _ := testFrame(2)
	f3, _ := testFrame(3)

	assert.False(t, q.Push(f1))
	assert.False(t, q.Push(f2))

	// Full: exactly one eviction, and it is the oldest frame.
	assert.True(t, q.Push(f3))
	assert.Equal(t, int32(1), b1.releaseCount())
	assert.Equal(t, uint64(1), q.Drops())
	assert.Equal(t, 2, q.Len())

	f, err := q.Pull(time.Second)
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), f.Seq)
}

func TestFrameQueuePullTimeout(t *testing.T) {
	q := newFrameQueue(1)
	defer q.Close()

	start := time.Now()
	_, err := q.Pull(20 * time.Millisecond)
	assert.Equal(t, ErrTimeout, err)
	assert.True(t, time.Since(start) >= 20*time.Millisecond)
}

func TestFrameQueueCloseUnblocksPull(t *testing.T) {
	q := newFrameQueue(1)

	errs := make(chan error, 1)
	go func() {
		_, err := q.Pull(0) // blocks until close
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errs:
		assert.Equal(t, io.EOF, err)
	case <-time.After(time.Second):
		t.Fatal("Pull did not unblock on Close")
	}
}

func TestFrameQueueCloseReleasesQueued(t *testing.T) {
	q := newFrameQueue(4)

	f1, b1 := testFrame(1)
	f2, b2 := testFrame(2)
	q.Push(f1)
	q.Push(f2)

	q.Close()
	assert.Equal(t, int32(1), b1.releaseCount())
	assert.Equal(t, int32(1), b2.releaseCount())

	_, err := q.Pull(time.Second)
	assert.Equal(t, io.EOF, err)
}

func TestFrameQueuePushAfterClose(t *testing.T) {
	q := newFrameQueue(1)
	q.Close()

	f, b := testFrame(1)
	assert.False(t, q.Push(f))
	assert.Equal(t, int32(1), b.releaseCount())
}

func TestFrameReleaseIdempotent(t *testing.T) {
	f, b := testFrame(1)
	f.Release()
	f.Release()
	assert.Equal(t, int32(1), b.releaseCount())
}
