//////////////////////////////////////////////////////////////////////////////
//
// captureRequest is the per-frame protocol state machine: issued, then
// advertised buffer parameters arrive, then a buffer is allocated and
// submitted, then the compositor reports ready or failed. Every method runs
// in the dispatch context.
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast

import (
	"sync/atomic"
	"time"

	"github.com/lanikai/alohacast/internal/alloc"
	"github.com/lanikai/alohacast/internal/video"
	"github.com/lanikai/alohacast/internal/wayland"
)

type requestState int

const (
	statePending requestState = iota
	stateAdvertised
	stateAllocated
	stateReady
	stateFailed
)

type captureRequest struct {
	src   *CaptureSource
	st    *outputState
	probe bool

	frame *wayland.CaptureFrame
	state requestState

	// Compositor-advertised buffer parameters, in arrival order.
	shmDescs    []video.FormatDescriptor
	dmabufDescs []video.FormatDescriptor

	buffer alloc.Buffer
	wlBuf  *wayland.WlBuffer

	flags  uint32
	damage []DamageRect
}

func newCaptureRequest(s *CaptureSource, st *outputState) *captureRequest {
	return &captureRequest{src: s, st: st}
}

// A probe collects the advertisement and stops without copying. Used for
// format negotiation.
func newProbeRequest(s *CaptureSource, st *outputState) *captureRequest {
	return &captureRequest{src: s, st: st, probe: true}
}

func (r *captureRequest) issue() error {
	var region *wayland.Region
	if r.src.cfg.cropped() {
		region = &wayland.Region{
			X:      r.src.cfg.CropX,
			Y:      r.src.cfg.CropY,
			Width:  r.src.cfg.CropWidth,
			Height: r.src.cfg.CropHeight,
		}
	}
	f, err := r.src.client.CaptureOutput(r.st.out, r.src.cfg.OverlayCursor, region, r)
	if err != nil {
		return err
	}
	r.frame = f
	return nil
}

// advertised returns the pipeline formats the compositor offered, shm first,
// deduplicated, in arrival order.
func (r *captureRequest) advertised() []video.Format {
	seen := make(map[video.Format]bool)
	var out []video.Format
	for _, d := range append(append([]video.FormatDescriptor{}, r.shmDescs...), r.dmabufDescs...) {
		if f, ok := d.VideoFormat(); ok && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// ShmFormat records a wl_shm buffer advertisement.
func (r *captureRequest) ShmFormat(format, width, height, stride uint32) {
	r.state = stateAdvertised
	r.shmDescs = append(r.shmDescs, video.FormatDescriptor{
		PixelFormat: format,
		Memory:      video.MemoryShm,
		Width:       width,
		Height:      height,
		Stride:      stride,
	})
}

// DmabufFormat records a dmabuf advertisement. The protocol carries no
// stride or modifier; the allocator chooses a linear pitch.
func (r *captureRequest) DmabufFormat(fourcc, width, height uint32) {
	r.state = stateAdvertised
	r.dmabufDescs = append(r.dmabufDescs, video.FormatDescriptor{
		PixelFormat: fourcc,
		Memory:      video.MemoryDmabuf,
		Modifier:    video.ModifierLinear,
		Width:       width,
		Height:      height,
	})
}

// BufferDone ends the advertisement. Probes stop here; captures allocate a
// buffer and submit the copy.
func (r *captureRequest) BufferDone() {
	if r.state != stateAdvertised {
		return
	}
	if r.probe {
		r.state = stateReady
		r.frame.Destroy()
		return
	}

	desc, ok := r.selectDescriptor()
	if !ok {
		log.Warn("%s advertised no usable format", r.st.out.Name)
		r.fail(ReasonUnknown)
		return
	}

	buf, err := r.src.alloc.Allocate(desc, r.gpuWanted(desc))
	if err != nil {
		log.Warn("allocating %dx%d buffer for %s: %v", desc.Width, desc.Height, r.st.out.Name, err)
		r.fail(ReasonUnknown)
		return
	}
	r.buffer = buf

	actual := buf.Descriptor()
	if actual.Memory == video.MemoryDmabuf {
		r.wlBuf, err = r.src.client.CreateDmabufBuffer(
			buf.Fd(), actual.Width, actual.Height,
			actual.PixelFormat, actual.Stride, actual.Modifier)
	} else {
		r.wlBuf, err = r.src.client.CreateShmBuffer(
			buf.Fd(), buf.Size(),
			int32(actual.Width), int32(actual.Height), int32(actual.Stride),
			actual.PixelFormat)
	}
	if err != nil {
		log.Warn("creating wl_buffer for %s: %v", r.st.out.Name, err)
		r.fail(ReasonUnknown)
		return
	}

	r.frame.Copy(r.wlBuf, r.src.cfg.WithDamage)
	r.state = stateAllocated
}

// selectDescriptor picks the advertised descriptor matching the negotiated
// format, preferring the dmabuf advertisement when the GPU path is usable.
func (r *captureRequest) selectDescriptor() (video.FormatDescriptor, bool) {
	want := r.src.format
	for _, d := range r.dmabufDescs {
		if f, ok := d.VideoFormat(); ok && f == want && r.gpuWanted(d) {
			return d, true
		}
	}
	for _, d := range r.shmDescs {
		if f, ok := d.VideoFormat(); ok && f == want {
			return d, true
		}
	}
	return video.FormatDescriptor{}, false
}

func (r *captureRequest) gpuWanted(desc video.FormatDescriptor) bool {
	return r.src.cfg.PreferGPU &&
		!r.st.gpuDisabled &&
		desc.Memory == video.MemoryDmabuf &&
		r.src.alloc.Importable(desc) &&
		r.src.client.DmabufSupports(desc.PixelFormat, desc.Modifier)
}

func (r *captureRequest) Flags(flags uint32) {
	r.flags = flags
}

func (r *captureRequest) Damage(x, y, width, height uint32) {
	r.damage = append(r.damage, DamageRect{X: x, Y: y, Width: width, Height: height})
}

// Ready completes the capture: the frame is queued and the next capture of
// the same output is issued.
func (r *captureRequest) Ready(ts time.Time) {
	if r.state != stateAllocated {
		return
	}
	r.state = stateReady
	r.frame.Destroy()

	desc := r.buffer.Descriptor()
	format, _ := desc.VideoFormat()

	r.st.seq++
	f := &Frame{
		Buffer:     r.buffer,
		Descriptor: desc,
		Format:     format,
		Output:     r.st.out.Name,
		Seq:        r.st.seq,
		Timestamp:  ts,
		Damage:     r.damage,
		YInverted:  r.flags&wayland.FrameFlagYInvert != 0,
		wlBuffer:   r.wlBuf,
	}
	r.buffer = nil
	r.wlBuf = nil

	if r.src.queue.Push(f) {
		log.Debug("queue full, dropped oldest frame of %s", r.st.out.Name)
	}
	atomic.AddUint64(&r.src.stats.captured, 1)
	r.st.retries = 0

	r.st.req = nil
	r.src.issueCapture(r.st)
}

// Failed handles the compositor's failure report. The wire event carries no
// reason; one is synthesized from the request's progress.
func (r *captureRequest) Failed() {
	if r.probe {
		r.state = stateFailed
		r.frame.Destroy()
		return
	}

	switch {
	case r.st.out.Gone:
		r.fail(ReasonOutputGone)
	case r.state == stateAllocated:
		r.retryOrFail()
	default:
		// Failed before a buffer was submitted. Reissue, but bound
		// consecutive failures so a persistently rejected output cannot
		// spin the dispatch loop.
		reason := ReasonUnknown
		if r.state == statePending {
			reason = ReasonInvalidOutput
		}
		r.cleanup()
		r.state = stateFailed
		r.st.req = nil
		r.st.retries++
		if r.st.retries > r.src.cfg.RetryLimit {
			atomic.AddUint64(&r.src.stats.failures, 1)
			r.st.stopped = true
			log.Error("capture of %s failed: %s", r.st.out.Name, reason)
			return
		}
		atomic.AddUint64(&r.src.stats.skipped, 1)
		r.src.issueCapture(r.st)
	}
}

// retryOrFail applies the rejection policy: retry the same allocation mode
// up to the configured bound, then once more with GPU allocation disabled,
// then give up on the output.
func (r *captureRequest) retryOrFail() {
	r.cleanup()
	r.state = stateFailed
	r.st.req = nil
	r.st.retries++

	if r.st.retries <= r.src.cfg.RetryLimit {
		atomic.AddUint64(&r.src.stats.skipped, 1)
		r.src.issueCapture(r.st)
		return
	}
	if !r.st.gpuDisabled && r.src.cfg.PreferGPU && r.src.alloc.HasGPU() {
		log.Warn("%s rejected GPU buffers, retrying with shared memory", r.st.out.Name)
		r.st.gpuDisabled = true
		r.st.retries = 0
		atomic.AddUint64(&r.src.stats.skipped, 1)
		r.src.issueCapture(r.st)
		return
	}
	atomic.AddUint64(&r.src.stats.failures, 1)
	r.st.stopped = true
	log.Error("capture of %s failed: %s", r.st.out.Name, ReasonBufferRejected)
}

// fail records a terminal failure for this output.
func (r *captureRequest) fail(reason FailReason) {
	r.cleanup()
	r.state = stateFailed
	r.st.stopped = true
	r.st.req = nil
	atomic.AddUint64(&r.src.stats.failures, 1)
	log.Warn("capture of %s failed: %s", r.st.out.Name, reason)
}

// abort tears down an in-flight request without failure accounting. Used on
// shutdown and output removal.
func (r *captureRequest) abort() {
	r.cleanup()
	r.state = stateFailed
}

func (r *captureRequest) cleanup() {
	if r.frame != nil {
		r.frame.Destroy()
	}
	if r.wlBuf != nil {
		r.wlBuf.Destroy()
		r.wlBuf = nil
	}
	if r.buffer != nil {
		r.buffer.Release()
		r.buffer = nil
	}
}
