//////////////////////////////////////////////////////////////////////////////
//
// Bounded frame queue between the dispatch goroutine and the consumer.
// Pushing never blocks: when the queue is full the oldest frame is evicted
// and its buffer returned, so a slow consumer can never stall compositor
// event handling.
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast

import (
	"io"
	"sync"
	"time"
)

type frameQueue struct {
	mu     sync.Mutex
	ch     chan *Frame
	closed bool
	drops  uint64
}

func newFrameQueue(depth int) *frameQueue {
	return &frameQueue{ch: make(chan *Frame, depth)}
}

// Push enqueues a frame, evicting and releasing the oldest one when the
// queue is full. Reports whether an eviction happened. Frames pushed after
// Close are released immediately.
func (q *frameQueue) Push(f *Frame) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		f.Release()
		return false
	}

	for {
		select {
		case q.ch <- f:
			return dropped
		default:
		}
		select {
		case old := <-q.ch:
			old.Release()
			q.drops++
			dropped = true
		default:
			// Consumer raced us to the slot; retry the send.
		}
	}
}

// Pull returns the next frame, waiting up to timeout. A non-positive timeout
// waits indefinitely. Returns io.EOF once the queue is closed and drained,
// ErrTimeout if the timeout elapses first.
func (q *frameQueue) Pull(timeout time.Duration) (*Frame, error) {
	if timeout <= 0 {
		f, ok := <-q.ch
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f, ok := <-q.ch:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-t.C:
		return nil, ErrTimeout
	}
}

// Close releases all queued frames and makes subsequent pulls return io.EOF.
func (q *frameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
	for f := range q.ch {
		f.Release()
	}
}

func (q *frameQueue) Len() int {
	return len(q.ch)
}

func (q *frameQueue) Drops() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}
