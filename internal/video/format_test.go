package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFourccConstants(t *testing.T) {
	// The constants must spell their fourcc codes.
	assert.Equal(t, fourcc('A', 'R', '2', '4'), uint32(FourccARGB8888))
	assert.Equal(t, fourcc('X', 'R', '2', '4'), uint32(FourccXRGB8888))
	assert.Equal(t, fourcc('N', 'V', '1', '2'), uint32(FourccNV12))
	assert.Equal(t, fourcc('Y', 'U', '1', '2'), uint32(FourccYUV420))
}

func TestShmByteOrderFlip(t *testing.T) {
	// wl_shm names little-endian packed words, so ARGB8888 holds BGRA bytes.
	f, ok := FromShm(ShmFormatARGB8888)
	assert.True(t, ok)
	assert.Equal(t, FormatBGRA, f)

	f, ok = FromShm(ShmFormatXRGB8888)
	assert.True(t, ok)
	assert.Equal(t, FormatBGRx, f)

	// The fourcc table maps by name, no flip.
	f, ok = FromFourcc(FourccARGB8888)
	assert.True(t, ok)
	assert.Equal(t, FormatARGB, f)
}

func TestFormatRoundTrips(t *testing.T) {
	formats := []Format{
		FormatARGB, FormatXRGB, FormatABGR, FormatXBGR,
		FormatRGBA, FormatRGBx, FormatBGRA, FormatBGRx,
		FormatNV12, FormatI420,
	}
	for _, f := range formats {
		code, ok := ToShm(f)
		assert.True(t, ok, f.String())
		back, ok := FromShm(code)
		assert.True(t, ok, f.String())
		assert.Equal(t, f, back)

		code, ok = ToFourcc(f)
		assert.True(t, ok, f.String())
		back, ok = FromFourcc(code)
		assert.True(t, ok, f.String())
		assert.Equal(t, f, back)
	}
}

func TestUnknownCodes(t *testing.T) {
	_, ok := FromShm(0xdeadbeef)
	assert.False(t, ok)
	_, ok = FromFourcc(0xdeadbeef)
	assert.False(t, ok)
	_, ok = ToShm(FormatUnknown)
	assert.False(t, ok)
}

func TestDescriptorSizePacked(t *testing.T) {
	d := FormatDescriptor{
		PixelFormat: ShmFormatARGB8888,
		Memory:      MemoryShm,
		Width:       1920,
		Height:      1080,
		Stride:      1920 * 4,
	}
	assert.Equal(t, 1920*4*1080, d.Size())

	layout := d.PlaneLayout()
	assert.Equal(t, 1, len(layout))
	assert.Equal(t, uint32(0), layout[0].Offset)
	assert.Equal(t, uint32(1920*4), layout[0].Stride)
}

func TestDescriptorAdvertisedStrideWins(t *testing.T) {
	// Compositors may pad rows; the advertised stride is authoritative.
	d := FormatDescriptor{
		PixelFormat: ShmFormatARGB8888,
		Memory:      MemoryShm,
		Width:       1366,
		Height:      768,
		Stride:      5504, // 1366*4 = 5464, padded to 64 bytes
	}
	assert.Equal(t, 5504*768, d.Size())
}

func TestPlanarLayouts(t *testing.T) {
	nv12 := planes(FormatNV12, 640, 480, 640)
	assert.Equal(t, 2, len(nv12))
	assert.Equal(t, uint32(640*480), nv12[0].Size)
	assert.Equal(t, uint32(640*480), nv12[1].Offset)
	assert.Equal(t, uint32(640*240), nv12[1].Size)

	i420 := planes(FormatI420, 640, 480, 640)
	assert.Equal(t, 3, len(i420))
	assert.Equal(t, uint32(640*480), i420[0].Size)
	assert.Equal(t, uint32(320), i420[1].Stride)
	assert.Equal(t, uint32(320*240), i420[1].Size)
	assert.Equal(t, i420[1].Offset+i420[1].Size, i420[2].Offset)
}

func TestPlanarOddDimensions(t *testing.T) {
	// Chroma planes round up on odd heights/strides.
	nv12 := planes(FormatNV12, 7, 5, 7)
	assert.Equal(t, uint32(7*3), nv12[1].Size)

	i420 := planes(FormatI420, 7, 5, 7)
	assert.Equal(t, uint32(4), i420[1].Stride)
	assert.Equal(t, uint32(4*3), i420[1].Size)
}

func TestModifierOpacity(t *testing.T) {
	// Modifiers pass through descriptors untouched.
	d := FormatDescriptor{
		PixelFormat: FourccARGB8888,
		Memory:      MemoryDmabuf,
		Modifier:    0x0100000000000002,
		Width:       64,
		Height:      64,
	}
	assert.Equal(t, uint64(0x0100000000000002), d.Modifier)

	f, ok := d.VideoFormat()
	assert.True(t, ok)
	assert.Equal(t, FormatARGB, f)
}
