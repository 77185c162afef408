// +build linux

package alloc

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lanikai/alohacast/internal/video"
)

// A shared memory buffer backed by an anonymous memfd. The region is sealed
// against shrinking after allocation so neither side can invalidate the
// other's mapping, then mapped read/write into this process.
type ShmBuffer struct {
	fd   int
	data []byte
	desc video.FormatDescriptor
}

func newShmBuffer(desc video.FormatDescriptor) (*ShmBuffer, error) {
	size := desc.Size()
	if size <= 0 {
		return nil, errors.Errorf("cannot size buffer for descriptor %+v", desc)
	}

	fd, err := unix.MemfdCreate("alohacast-shm", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, errors.Wrap(err, "memfd_create")
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "ftruncate")
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS,
		unix.F_SEAL_SHRINK|unix.F_SEAL_SEAL); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "seal memfd")
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "mmap")
	}

	return &ShmBuffer{fd: fd, data: data, desc: desc}, nil
}

func (b *ShmBuffer) Fd() int {
	return b.fd
}

func (b *ShmBuffer) Size() int {
	return len(b.data)
}

func (b *ShmBuffer) Bytes() []byte {
	return b.data
}

func (b *ShmBuffer) Descriptor() video.FormatDescriptor {
	return b.desc
}

func (b *ShmBuffer) Release() error {
	if b.data != nil {
		if err := unix.Munmap(b.data); err != nil {
			return err
		}
		b.data = nil
	}
	if b.fd >= 0 {
		if err := unix.Close(b.fd); err != nil {
			return err
		}
		b.fd = -1
	}
	return nil
}
