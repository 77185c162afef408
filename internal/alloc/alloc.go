//////////////////////////////////////////////////////////////////////////////
//
// Buffer allocation for captures: GPU-importable DRM buffers when the
// compositor can import them, sealed shared memory otherwise. The fallback
// is transparent to the caller; both paths satisfy the same Buffer
// interface.
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

// +build linux

package alloc

import (
	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/logging"
	"github.com/lanikai/alohacast/internal/video"
)

var log = logging.DefaultLogger.WithTag("alloc")

// A destination buffer for one capture. Owned by a single capture request
// until completion, then by the emitted frame until released.
type Buffer interface {
	// File descriptor shareable with the compositor.
	Fd() int

	// Total size in bytes.
	Size() int

	// Mapped view of the buffer, or nil when the memory is not CPU-mapped
	// (GPU buffers).
	Bytes() []byte

	// The descriptor the buffer was allocated for. For GPU buffers the
	// stride reflects the actual pitch chosen by the device.
	Descriptor() video.FormatDescriptor

	// Release the underlying memory. Idempotent.
	Release() error
}

// Allocation strategy, resolved once per descriptor.
type strategy int

const (
	strategyShm strategy = iota
	strategyGpu
)

type Allocator struct {
	drm *drmDevice
}

// New returns an allocator. drmPath names the DRM node used for GPU
// allocation; if it cannot be opened, or does not support dumb buffers, the
// allocator serves shared memory only.
func New(drmPath string) *Allocator {
	a := &Allocator{}
	if drmPath == "" {
		return a
	}
	dev, err := openDRM(drmPath)
	if err != nil {
		log.Debug("GPU allocation unavailable: %v", err)
		return a
	}
	a.drm = dev
	return a
}

// HasGPU reports whether GPU buffer allocation is available at all.
func (a *Allocator) HasGPU() bool {
	return a.drm != nil
}

// Importable reports whether the allocator can produce a GPU buffer for the
// descriptor's format and modifier.
func (a *Allocator) Importable(desc video.FormatDescriptor) bool {
	if a.drm == nil || desc.Memory != video.MemoryDmabuf {
		return false
	}
	if desc.Modifier != video.ModifierLinear && desc.Modifier != video.ModifierInvalid {
		// Dumb buffers are always linear.
		return false
	}
	f, ok := video.FromFourcc(desc.PixelFormat)
	return ok && f.PlaneCount() == 1
}

func (a *Allocator) selectStrategy(desc video.FormatDescriptor, preferGPU bool) strategy {
	if preferGPU && a.Importable(desc) {
		return strategyGpu
	}
	return strategyShm
}

// Allocate produces a buffer matching the descriptor. With preferGPU set,
// GPU allocation is attempted first and any failure falls back to shared
// memory sized for the same plane layout.
func (a *Allocator) Allocate(desc video.FormatDescriptor, preferGPU bool) (Buffer, error) {
	if a.selectStrategy(desc, preferGPU) == strategyGpu {
		buf, err := a.drm.alloc(desc)
		if err == nil {
			return buf, nil
		}
		log.Warn("GPU allocation failed, falling back to shm: %v", err)
	}

	shmDesc := desc
	if shmDesc.Memory == video.MemoryDmabuf {
		// Equivalent shm descriptor for the fallback path.
		f, ok := video.FromFourcc(desc.PixelFormat)
		if !ok {
			return nil, errors.Errorf("unsupported pixel format %08x", desc.PixelFormat)
		}
		code, ok := video.ToShm(f)
		if !ok {
			return nil, errors.Errorf("format %v has no shm equivalent", f)
		}
		shmDesc.PixelFormat = code
		shmDesc.Memory = video.MemoryShm
		shmDesc.Modifier = 0
		if shmDesc.Stride == 0 {
			shmDesc.Stride = shmDesc.Width * 4
		}
	}
	return newShmBuffer(shmDesc)
}

func (a *Allocator) Close() error {
	if a.drm != nil {
		return a.drm.close()
	}
	return nil
}
