// +build !linux

package alloc

import (
	"github.com/lanikai/alohacast/internal/video"
)

type Buffer interface {
	Fd() int
	Size() int
	Bytes() []byte
	Descriptor() video.FormatDescriptor
	Release() error
}

type Allocator struct{}

func New(drmPath string) *Allocator {
	panic("buffer allocation requires linux")
}

func (a *Allocator) HasGPU() bool { return false }

func (a *Allocator) Importable(desc video.FormatDescriptor) bool { return false }

func (a *Allocator) Allocate(desc video.FormatDescriptor, preferGPU bool) (Buffer, error) {
	panic("buffer allocation requires linux")
}

func (a *Allocator) Close() error { return nil }
