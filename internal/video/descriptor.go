package video

// MemoryModel selects which format table a descriptor's PixelFormat code
// belongs to.
type MemoryModel int

const (
	MemoryShm MemoryModel = iota
	MemoryDmabuf
)

func (m MemoryModel) String() string {
	if m == MemoryDmabuf {
		return "dmabuf"
	}
	return "shm"
}

// One memory plane of a frame buffer.
type Plane struct {
	Offset uint32
	Stride uint32
	Size   uint32
}

// FormatDescriptor captures the buffer parameters advertised by the
// compositor for one capture. Immutable once constructed.
type FormatDescriptor struct {
	// Wire-level pixel format code. Interpreted per Memory: a wl_shm code
	// for MemoryShm, a DRM fourcc for MemoryDmabuf.
	PixelFormat uint32

	Memory MemoryModel

	// Opaque tiling/compression qualifier; dmabuf only. Never reinterpreted.
	Modifier uint64

	Width  uint32
	Height uint32

	// Advertised stride of the first plane, in bytes.
	Stride uint32
}

// VideoFormat translates the descriptor into the pipeline vocabulary.
// Returns false when no lossless 1:1 mapping exists.
func (d FormatDescriptor) VideoFormat() (Format, bool) {
	if d.Memory == MemoryDmabuf {
		return FromFourcc(d.PixelFormat)
	}
	return FromShm(d.PixelFormat)
}

// PlaneLayout computes the per-plane offsets and strides for the advertised
// parameters. The compositor-advertised stride wins over any computed value.
func (d FormatDescriptor) PlaneLayout() []Plane {
	f, ok := d.VideoFormat()
	if !ok {
		return nil
	}
	return planes(f, d.Width, d.Height, d.Stride)
}

// Size returns the total buffer size in bytes required for the descriptor.
func (d FormatDescriptor) Size() int {
	var total uint32
	for _, p := range d.PlaneLayout() {
		total += p.Size
	}
	return int(total)
}

// PlaneLayout computes a default plane layout for a format and frame size,
// with tightly packed strides. Used when no advertisement exists, e.g. for
// caps proposals.
func PlaneLayout(f Format, width, height uint32) []Plane {
	var stride uint32
	switch f {
	case FormatNV12, FormatI420:
		stride = width
	default:
		stride = width * 4
	}
	return planes(f, width, height, stride)
}

func planes(f Format, width, height, stride uint32) []Plane {
	switch f {
	case FormatNV12:
		luma := stride * height
		return []Plane{
			{Offset: 0, Stride: stride, Size: luma},
			// Interleaved CbCr at half vertical resolution.
			{Offset: luma, Stride: stride, Size: stride * ((height + 1) / 2)},
		}
	case FormatI420:
		luma := stride * height
		half := (stride + 1) / 2
		chroma := half * ((height + 1) / 2)
		return []Plane{
			{Offset: 0, Stride: stride, Size: luma},
			{Offset: luma, Stride: half, Size: chroma},
			{Offset: luma + chroma, Stride: half, Size: chroma},
		}
	case FormatUnknown:
		return nil
	default:
		return []Plane{{Offset: 0, Stride: stride, Size: stride * height}}
	}
}
