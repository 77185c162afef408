//////////////////////////////////////////////////////////////////////////////
//
// Pixel format vocabulary shared between the compositor protocol and the
// downstream media pipeline. Compositors speak DRM fourcc codes (dmabuf
// path) or wl_shm codes (system memory path); the pipeline speaks packed
// RGB / planar YUV format names.
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package video

// A negotiable pipeline video format.
type Format int

const (
	FormatUnknown Format = iota

	// Packed 32-bit RGB variants, named by byte order in memory.
	FormatARGB
	FormatXRGB
	FormatABGR
	FormatXBGR
	FormatRGBA
	FormatRGBx
	FormatBGRA
	FormatBGRx

	// Planar YUV, for the system memory path.
	FormatNV12
	FormatI420
)

func (f Format) String() string {
	switch f {
	case FormatARGB:
		return "ARGB"
	case FormatXRGB:
		return "xRGB"
	case FormatABGR:
		return "ABGR"
	case FormatXBGR:
		return "xBGR"
	case FormatRGBA:
		return "RGBA"
	case FormatRGBx:
		return "RGBx"
	case FormatBGRA:
		return "BGRA"
	case FormatBGRx:
		return "BGRx"
	case FormatNV12:
		return "NV12"
	case FormatI420:
		return "I420"
	}
	return "unknown"
}

// PlaneCount returns the number of memory planes for the format.
func (f Format) PlaneCount() int {
	switch f {
	case FormatNV12:
		return 2
	case FormatI420:
		return 3
	case FormatUnknown:
		return 0
	}
	return 1
}

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// DRM fourcc codes, as used by the dmabuf protocol.
const (
	FourccARGB8888 = 0x34325241 // 'AR24'
	FourccXRGB8888 = 0x34325258 // 'XR24'
	FourccABGR8888 = 0x34324241 // 'AB24'
	FourccXBGR8888 = 0x34324258 // 'XB24'
	FourccRGBA8888 = 0x34324152 // 'RA24'
	FourccRGBX8888 = 0x34325852 // 'RX24'
	FourccBGRA8888 = 0x34324142 // 'BA24'
	FourccBGRX8888 = 0x34325842 // 'BX24'
	FourccNV12     = 0x3231564e // 'NV12'
	FourccYUV420   = 0x32315559 // 'YU12'
)

// wl_shm format codes. ARGB8888 and XRGB8888 are special-cased to 0 and 1;
// every other code equals the DRM fourcc.
const (
	ShmFormatARGB8888 = 0
	ShmFormatXRGB8888 = 1
	ShmFormatABGR8888 = FourccABGR8888
	ShmFormatXBGR8888 = FourccXBGR8888
	ShmFormatRGBA8888 = FourccRGBA8888
	ShmFormatRGBX8888 = FourccRGBX8888
	ShmFormatBGRA8888 = FourccBGRA8888
	ShmFormatBGRX8888 = FourccBGRX8888
	ShmFormatNV12     = FourccNV12
	ShmFormatYUV420   = FourccYUV420
)

// Format modifiers are opaque 64-bit qualifiers attached to a fourcc. They
// must round-trip unmodified; only these two values have meaning here.
const (
	ModifierLinear  uint64 = 0
	ModifierInvalid uint64 = 0x00ffffffffffffff
)

// FromFourcc maps a DRM fourcc to the pipeline format. The dmabuf caps
// convention names formats after the fourcc directly.
func FromFourcc(code uint32) (Format, bool) {
	switch code {
	case FourccARGB8888:
		return FormatARGB, true
	case FourccXRGB8888:
		return FormatXRGB, true
	case FourccABGR8888:
		return FormatABGR, true
	case FourccXBGR8888:
		return FormatXBGR, true
	case FourccRGBA8888:
		return FormatRGBA, true
	case FourccRGBX8888:
		return FormatRGBx, true
	case FourccBGRA8888:
		return FormatBGRA, true
	case FourccBGRX8888:
		return FormatBGRx, true
	case FourccNV12:
		return FormatNV12, true
	case FourccYUV420:
		return FormatI420, true
	}
	return FormatUnknown, false
}

func ToFourcc(f Format) (uint32, bool) {
	switch f {
	case FormatARGB:
		return FourccARGB8888, true
	case FormatXRGB:
		return FourccXRGB8888, true
	case FormatABGR:
		return FourccABGR8888, true
	case FormatXBGR:
		return FourccXBGR8888, true
	case FormatRGBA:
		return FourccRGBA8888, true
	case FormatRGBx:
		return FourccRGBX8888, true
	case FormatBGRA:
		return FourccBGRA8888, true
	case FormatBGRx:
		return FourccBGRX8888, true
	case FormatNV12:
		return FourccNV12, true
	case FormatI420:
		return FourccYUV420, true
	}
	return 0, false
}

// FromShm maps a wl_shm code to the pipeline format. wl_shm names describe
// little-endian packed words, so the RGB byte order flips relative to the
// fourcc table.
func FromShm(code uint32) (Format, bool) {
	switch code {
	case ShmFormatARGB8888:
		return FormatBGRA, true
	case ShmFormatXRGB8888:
		return FormatBGRx, true
	case ShmFormatABGR8888:
		return FormatRGBA, true
	case ShmFormatXBGR8888:
		return FormatRGBx, true
	case ShmFormatRGBA8888:
		return FormatABGR, true
	case ShmFormatRGBX8888:
		return FormatXBGR, true
	case ShmFormatBGRA8888:
		return FormatARGB, true
	case ShmFormatBGRX8888:
		return FormatXRGB, true
	case ShmFormatNV12:
		return FormatNV12, true
	case ShmFormatYUV420:
		return FormatI420, true
	}
	return FormatUnknown, false
}

func ToShm(f Format) (uint32, bool) {
	switch f {
	case FormatBGRA:
		return ShmFormatARGB8888, true
	case FormatBGRx:
		return ShmFormatXRGB8888, true
	case FormatRGBA:
		return ShmFormatABGR8888, true
	case FormatRGBx:
		return ShmFormatXBGR8888, true
	case FormatABGR:
		return ShmFormatRGBA8888, true
	case FormatXBGR:
		return ShmFormatRGBX8888, true
	case FormatARGB:
		return ShmFormatBGRA8888, true
	case FormatXRGB:
		return ShmFormatBGRX8888, true
	case FormatNV12:
		return ShmFormatNV12, true
	case FormatI420:
		return ShmFormatYUV420, true
	}
	return 0, false
}
