// +build linux

package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"github.com/lanikai/alohacast/internal/video"
)

func testDescriptor(w, h uint32) video.FormatDescriptor {
	return video.FormatDescriptor{
		PixelFormat: video.ShmFormatARGB8888,
		Memory:      video.MemoryShm,
		Width:       w,
		Height:      h,
		Stride:      w * 4,
	}
}

func TestShmBufferAllocation(t *testing.T) {
	buf, err := newShmBuffer(testDescriptor(640, 480))
	assert.NoError(t, err)
	defer buf.Release()

	assert.Equal(t, 640*4*480, buf.Size())
	assert.Equal(t, 640*4*480, len(buf.Bytes()))
	assert.True(t, buf.Fd() >= 0)
	assert.Equal(t, uint32(640*4), buf.Descriptor().Stride)
}

func TestShmBufferSealed(t *testing.T) {
	buf, err := newShmBuffer(testDescriptor(64, 64))
	assert.NoError(t, err)
	defer buf.Release()

	seals, err := unix.FcntlInt(uintptr(buf.Fd()), unix.F_GET_SEALS, 0)
	assert.NoError(t, err)
	assert.NotZero(t, seals&unix.F_SEAL_SHRINK)
	assert.NotZero(t, seals&unix.F_SEAL_SEAL)

	// Sealed against shrinking: truncation below the current size must fail.
	assert.Error(t, unix.Ftruncate(buf.Fd(), 16))
}

func TestShmBufferWritable(t *testing.T) {
	buf, err := newShmBuffer(testDescriptor(16, 16))
	assert.NoError(t, err)
	defer buf.Release()

	data := buf.Bytes()
	data[0] = 0xaa
	data[len(data)-1] = 0x55
	assert.Equal(t, byte(0xaa), data[0])
	assert.Equal(t, byte(0x55), data[len(data)-1])
}

func TestShmBufferReleaseIdempotent(t *testing.T) {
	buf, err := newShmBuffer(testDescriptor(16, 16))
	assert.NoError(t, err)

	assert.NoError(t, buf.Release())
	assert.NoError(t, buf.Release())
	assert.Nil(t, buf.Bytes())
}

func TestAllocateInvalidDescriptor(t *testing.T) {
	a := New("")
	defer a.Close()

	_, err := a.Allocate(video.FormatDescriptor{}, false)
	assert.Error(t, err)
}

func TestAllocateDmabufFallsBackToShm(t *testing.T) {
	// No DRM device: a dmabuf descriptor must come back as equivalent
	// sealed shared memory.
	a := New("")
	defer a.Close()
	assert.False(t, a.HasGPU())

	desc := video.FormatDescriptor{
		PixelFormat: video.FourccARGB8888,
		Memory:      video.MemoryDmabuf,
		Modifier:    video.ModifierLinear,
		Width:       320,
		Height:      240,
	}
	buf, err := a.Allocate(desc, true)
	assert.NoError(t, err)
	defer buf.Release()

	actual := buf.Descriptor()
	assert.Equal(t, video.MemoryShm, actual.Memory)
	assert.Equal(t, uint32(video.ShmFormatBGRA8888), actual.PixelFormat)
	assert.Equal(t, uint32(320*4), actual.Stride)
	assert.NotNil(t, buf.Bytes())
}

func TestImportable(t *testing.T) {
	a := New("")
	defer a.Close()

	// Without a DRM device nothing is importable.
	assert.False(t, a.Importable(video.FormatDescriptor{
		PixelFormat: video.FourccARGB8888,
		Memory:      video.MemoryDmabuf,
		Modifier:    video.ModifierLinear,
	}))
}
