// +build linux

package alloc

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lanikai/alohacast/internal/video"
)

// DRM ioctls for dumb buffer allocation and PRIME fd export. Values from
// drm.h / drm_mode.h.
const (
	drmIoctlGetCap          = 0xC010640C
	drmIoctlModeCreateDumb  = 0xC02064B2
	drmIoctlModeDestroyDumb = 0xC00464B4
	drmIoctlPrimeHandleToFd = 0xC00C642D

	drmCapDumbBuffer = 0x1

	drmCloexec = 0x1
	drmRdwr    = 0x2
)

type drmModeCreateDumb struct {
	height uint32
	width  uint32
	bpp    uint32
	flags  uint32
	handle uint32
	pitch  uint32
	size   uint64
}

type drmModeDestroyDumb struct {
	handle uint32
}

type drmPrimeHandle struct {
	handle uint32
	flags  uint32
	fd     int32
}

type drmGetCap struct {
	capability uint64
	value      uint64
}

// A DRM device node used for dumb buffer allocation.
type drmDevice struct {
	path string
	fd   int
}

func openDRM(path string) (*drmDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	dev := &drmDevice{path: path, fd: fd}
	cap := drmGetCap{capability: drmCapDumbBuffer}
	if err := dev.ioctl(drmIoctlGetCap, unsafe.Pointer(&cap)); err != nil || cap.value == 0 {
		unix.Close(fd)
		return nil, errors.Errorf("%s does not support dumb buffers", path)
	}
	return dev, nil
}

func (dev *drmDevice) ioctl(request uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(dev.fd),
		uintptr(request),
		uintptr(arg),
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// Allocate a linear dumb buffer for the descriptor and export it as a PRIME
// file descriptor the compositor can import.
func (dev *drmDevice) alloc(desc video.FormatDescriptor) (*GpuBuffer, error) {
	creq := drmModeCreateDumb{
		height: desc.Height,
		width:  desc.Width,
		bpp:    32,
	}
	if err := dev.ioctl(drmIoctlModeCreateDumb, unsafe.Pointer(&creq)); err != nil {
		return nil, errors.Wrap(err, "create dumb buffer")
	}

	preq := drmPrimeHandle{handle: creq.handle, flags: drmCloexec | drmRdwr}
	if err := dev.ioctl(drmIoctlPrimeHandleToFd, unsafe.Pointer(&preq)); err != nil {
		dev.destroy(creq.handle)
		return nil, errors.Wrap(err, "export prime fd")
	}

	actual := desc
	actual.Stride = creq.pitch
	actual.Modifier = video.ModifierLinear

	return &GpuBuffer{
		dev:    dev,
		handle: creq.handle,
		fd:     int(preq.fd),
		size:   int(creq.size),
		desc:   actual,
	}, nil
}

func (dev *drmDevice) destroy(handle uint32) {
	dreq := drmModeDestroyDumb{handle: handle}
	if err := dev.ioctl(drmIoctlModeDestroyDumb, unsafe.Pointer(&dreq)); err != nil {
		log.Warn("destroy dumb buffer %d: %v", handle, err)
	}
}

func (dev *drmDevice) close() error {
	return unix.Close(dev.fd)
}

// A GPU-importable buffer: a DRM dumb buffer exported as a PRIME fd. The
// memory is never CPU-mapped here; consumers import the fd directly.
type GpuBuffer struct {
	dev    *drmDevice
	handle uint32
	fd     int
	size   int
	desc   video.FormatDescriptor
}

func (b *GpuBuffer) Fd() int {
	return b.fd
}

func (b *GpuBuffer) Size() int {
	return b.size
}

func (b *GpuBuffer) Bytes() []byte {
	return nil
}

func (b *GpuBuffer) Descriptor() video.FormatDescriptor {
	return b.desc
}

func (b *GpuBuffer) Release() error {
	if b.fd >= 0 {
		unix.Close(b.fd)
		b.fd = -1
	}
	if b.handle != 0 {
		b.dev.destroy(b.handle)
		b.handle = 0
	}
	return nil
}
