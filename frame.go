//////////////////////////////////////////////////////////////////////////////
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast

import (
	"sync"
	"time"

	"github.com/lanikai/alohacast/internal/alloc"
	"github.com/lanikai/alohacast/internal/video"
	"github.com/lanikai/alohacast/internal/wayland"
)

// A damaged region of a frame, in buffer coordinates.
type DamageRect struct {
	X, Y          uint32
	Width, Height uint32
}

// One completed capture. The frame owns its buffer until Release.
type Frame struct {
	// Backing memory; Bytes() is nil for GPU frames (use Buffer.Fd()).
	Buffer alloc.Buffer

	// Buffer parameters the frame was captured with.
	Descriptor video.FormatDescriptor

	// Pipeline pixel format corresponding to Descriptor.
	Format video.Format

	// Name of the output the frame came from.
	Output string

	// Monotonically increasing per output, never reused within a session.
	Seq uint64

	// Compositor presentation time.
	Timestamp time.Time

	// Regions changed since the previous frame of the same output. Nil when
	// damage tracking is off.
	Damage []DamageRect

	// The buffer contents are bottom-to-top.
	YInverted bool

	wlBuffer    *wayland.WlBuffer
	releaseOnce sync.Once
}

// Bytes returns the CPU-visible frame data, or nil for GPU frames.
func (f *Frame) Bytes() []byte {
	if f.Buffer == nil {
		return nil
	}
	return f.Buffer.Bytes()
}

// Release returns the frame's memory. Must be called exactly once per pulled
// frame; extra calls are no-ops.
func (f *Frame) Release() {
	f.releaseOnce.Do(func() {
		f.wlBuffer.Destroy()
		if f.Buffer != nil {
			f.Buffer.Release()
		}
	})
}
