//////////////////////////////////////////////////////////////////////////////
//
// zwlr_screencopy_v1: one protocol object per captured frame. The
// compositor advertises acceptable buffer parameters, the client supplies a
// matching buffer, the compositor fills it and signals ready or failed.
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package wayland

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/wire"
)

// zwlr_screencopy_manager_v1 requests.
const (
	screencopyCaptureOutput       = 0
	screencopyCaptureOutputRegion = 1
)

// zwlr_screencopy_frame_v1 requests/events.
const (
	frameCopy           = 0
	frameDestroy        = 1
	frameCopyWithDamage = 2

	frameEventBuffer      = 0
	frameEventFlags       = 1
	frameEventReady       = 2
	frameEventFailed      = 3
	frameEventDamage      = 4
	frameEventLinuxDmabuf = 5
	frameEventBufferDone  = 6
)

// Frame flag bits.
const (
	FrameFlagYInvert = 0x1
)

type screencopyManager struct {
	client  *Client
	id      uint32
	version uint32
}

func (m *screencopyManager) handle(opcode uint16, r *wire.Reader) error {
	return nil
}

// A sub-rectangle of an output, in output-logical coordinates.
type Region struct {
	X, Y          int32
	Width, Height int32
}

// FrameHandler receives the protocol events of one capture. All callbacks
// run in the dispatch context.
type FrameHandler interface {
	// The compositor advertised shm buffer parameters.
	ShmFormat(format, width, height, stride uint32)

	// The compositor advertised a dmabuf fourcc (no stride; the allocator
	// chooses the pitch).
	DmabufFormat(fourcc, width, height uint32)

	// All buffer parameter events for this frame have been sent; a buffer
	// may now be supplied.
	BufferDone()

	Flags(flags uint32)

	// Region changed since the previous frame of the same output. Only
	// delivered for copies requested with damage tracking.
	Damage(x, y, width, height uint32)

	// The capture completed; the buffer holds the frame.
	Ready(ts time.Time)

	// The capture cannot be completed. Terminal.
	Failed()
}

// A single in-flight capture.
type CaptureFrame struct {
	client    *Client
	id        uint32
	version   uint32
	handler   FrameHandler
	destroyed bool
}

// CaptureOutput starts a capture of the given output, optionally cropped to
// region. Events are delivered to h from the dispatch context.
func (c *Client) CaptureOutput(o *Output, overlayCursor bool, region *Region, h FrameHandler) (*CaptureFrame, error) {
	if c.screencopy == nil {
		return nil, errors.New("compositor does not support zwlr_screencopy_manager_v1")
	}
	if o.Gone {
		return nil, errors.Errorf("output %s is gone", o.Name)
	}

	f := &CaptureFrame{client: c, version: c.screencopy.version, handler: h}
	f.id = c.newID(f)

	var cursor int32
	if overlayCursor {
		cursor = 1
	}

	if region == nil {
		c.send(wire.NewMessage(c.screencopy.id, screencopyCaptureOutput).
			PutUint(f.id).
			PutInt(cursor).
			PutUint(o.id).
			Message())
	} else {
		c.send(wire.NewMessage(c.screencopy.id, screencopyCaptureOutputRegion).
			PutUint(f.id).
			PutInt(cursor).
			PutUint(o.id).
			PutInt(region.X).
			PutInt(region.Y).
			PutInt(region.Width).
			PutInt(region.Height).
			Message())
	}
	return f, nil
}

func (f *CaptureFrame) handle(opcode uint16, r *wire.Reader) error {
	if f.destroyed {
		return nil
	}
	switch opcode {
	case frameEventBuffer:
		format := r.Uint()
		width := r.Uint()
		height := r.Uint()
		stride := r.Uint()
		if r.Err() == nil {
			f.handler.ShmFormat(format, width, height, stride)
			if f.version < 3 {
				// buffer_done does not exist before version 3; the shm
				// advertisement is the only one.
				f.handler.BufferDone()
			}
		}
	case frameEventFlags:
		f.handler.Flags(r.Uint())
	case frameEventReady:
		hi := r.Uint()
		lo := r.Uint()
		nsec := r.Uint()
		if r.Err() == nil {
			f.handler.Ready(time.Unix(int64(hi)<<32|int64(lo), int64(nsec)))
		}
	case frameEventFailed:
		f.handler.Failed()
	case frameEventDamage:
		x := r.Uint()
		y := r.Uint()
		width := r.Uint()
		height := r.Uint()
		if r.Err() == nil {
			f.handler.Damage(x, y, width, height)
		}
	case frameEventLinuxDmabuf:
		fourcc := r.Uint()
		width := r.Uint()
		height := r.Uint()
		if r.Err() == nil {
			f.handler.DmabufFormat(fourcc, width, height)
		}
	case frameEventBufferDone:
		f.handler.BufferDone()
	}
	return r.Err()
}

// Copy asks the compositor to fill the supplied buffer. With withDamage the
// copy is delayed until the output actually changes and damage events
// accompany the result.
func (f *CaptureFrame) Copy(b *WlBuffer, withDamage bool) error {
	if f.destroyed {
		return errors.New("capture frame already destroyed")
	}
	opcode := uint16(frameCopy)
	if withDamage && f.version >= 2 {
		opcode = frameCopyWithDamage
	}
	f.client.send(wire.NewMessage(f.id, opcode).PutUint(b.id).Message())
	return nil
}

// Destroy retires the protocol object. No handler callbacks fire afterward.
func (f *CaptureFrame) Destroy() {
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.client.send(wire.NewMessage(f.id, frameDestroy).Message())
}
