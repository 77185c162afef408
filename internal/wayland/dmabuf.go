package wayland

import (
	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/video"
	"github.com/lanikai/alohacast/internal/wire"
)

// zwp_linux_dmabuf_v1 requests/events (version 3).
const (
	dmabufCreateParams = 1

	dmabufEventFormat   = 0
	dmabufEventModifier = 1

	paramsDestroy     = 0
	paramsAdd         = 1
	paramsCreateImmed = 3
)

// The zwp_linux_dmabuf_v1 global. Tracks which fourcc/modifier pairs the
// compositor can import.
type dmabuf struct {
	client  *Client
	id      uint32
	formats map[uint32][]uint64
}

func (d *dmabuf) handle(opcode uint16, r *wire.Reader) error {
	switch opcode {
	case dmabufEventFormat:
		// Pre-modifier advertisement; implicit modifier only.
		fourcc := r.Uint()
		d.formats[fourcc] = append(d.formats[fourcc], video.ModifierInvalid)
	case dmabufEventModifier:
		fourcc := r.Uint()
		hi := r.Uint()
		lo := r.Uint()
		d.formats[fourcc] = append(d.formats[fourcc], uint64(hi)<<32|uint64(lo))
	}
	return nil
}

// HasDmabuf reports whether the compositor supports dmabuf import at all.
func (c *Client) HasDmabuf() bool {
	return c.dmabuf != nil
}

// DmabufSupports reports whether the compositor advertised the fourcc as
// importable with the given modifier. The implicit modifier matches any.
func (c *Client) DmabufSupports(fourcc uint32, modifier uint64) bool {
	if c.dmabuf == nil {
		return false
	}
	for _, m := range c.dmabuf.formats[fourcc] {
		if m == modifier || m == video.ModifierInvalid {
			return true
		}
	}
	return false
}

// CreateDmabufBuffer imports a single-plane dmabuf into the compositor and
// returns the resulting wl_buffer.
func (c *Client) CreateDmabufBuffer(fd int, width, height, fourcc, stride uint32, modifier uint64) (*WlBuffer, error) {
	if c.dmabuf == nil {
		return nil, errors.New("compositor does not support zwp_linux_dmabuf_v1")
	}

	params := c.newID(nopProxy{})
	c.send(wire.NewMessage(c.dmabuf.id, dmabufCreateParams).PutUint(params).Message())
	c.send(wire.NewMessage(params, paramsAdd).
		PutFd(fd).
		PutUint(0). // plane index
		PutUint(0). // offset
		PutUint(stride).
		PutUint(uint32(modifier >> 32)).
		PutUint(uint32(modifier)).
		Message())

	b := &WlBuffer{client: c}
	b.id = c.newID(b)
	c.send(wire.NewMessage(params, paramsCreateImmed).
		PutUint(b.id).
		PutInt(int32(width)).
		PutInt(int32(height)).
		PutUint(fourcc).
		PutUint(0).
		Message())
	c.send(wire.NewMessage(params, paramsDestroy).Message())

	return b, nil
}
