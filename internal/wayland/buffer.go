package wayland

import (
	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/wire"
)

// wl_shm and wl_shm_pool requests/events.
const (
	shmCreatePool = 0

	shmEventFormat = 0

	shmPoolCreateBuffer = 0
	shmPoolDestroy      = 1
)

// wl_buffer requests/events.
const (
	bufferDestroy = 0

	bufferEventRelease = 0
)

// The wl_shm global. Tracks the compositor's advertised shm formats.
type shm struct {
	client  *Client
	id      uint32
	formats map[uint32]bool
}

func (s *shm) handle(opcode uint16, r *wire.Reader) error {
	if opcode == shmEventFormat {
		s.formats[r.Uint()] = true
	}
	return nil
}

// ShmSupports reports whether the compositor accepts shm buffers with the
// given wl_shm format code.
func (c *Client) ShmSupports(format uint32) bool {
	return c.shm != nil && c.shm.formats[format]
}

// A wl_buffer owned by this client. Destroy once; release events after
// destruction are ignored.
type WlBuffer struct {
	client    *Client
	id        uint32
	destroyed bool

	// Invoked from the dispatch context when the compositor is done
	// reading/writing the buffer.
	OnRelease func()
}

func (b *WlBuffer) handle(opcode uint16, r *wire.Reader) error {
	if opcode == bufferEventRelease && !b.destroyed && b.OnRelease != nil {
		b.OnRelease()
	}
	return nil
}

// Destroy the wl_buffer protocol object. Safe from any goroutine, safe to
// call more than once.
func (b *WlBuffer) Destroy() {
	if b == nil || b.destroyed {
		return
	}
	b.destroyed = true
	b.client.send(wire.NewMessage(b.id, bufferDestroy).Message())
}

// CreateShmBuffer wraps an fd-backed memory region in a single-buffer shm
// pool and returns the resulting wl_buffer. The pool is destroyed
// immediately; the buffer keeps the region alive on the compositor side.
func (c *Client) CreateShmBuffer(fd, size int, width, height, stride int32, format uint32) (*WlBuffer, error) {
	if c.shm == nil {
		return nil, errors.New("compositor does not support wl_shm")
	}

	pool := c.newID(nopProxy{})
	c.send(wire.NewMessage(c.shm.id, shmCreatePool).
		PutUint(pool).
		PutFd(fd).
		PutInt(int32(size)).
		Message())

	b := &WlBuffer{client: c}
	b.id = c.newID(b)
	c.send(wire.NewMessage(pool, shmPoolCreateBuffer).
		PutUint(b.id).
		PutInt(0).
		PutInt(width).
		PutInt(height).
		PutInt(stride).
		PutUint(format).
		Message())
	c.send(wire.NewMessage(pool, shmPoolDestroy).Message())

	return b, nil
}

// Objects with no events of interest.
type nopProxy struct{}

func (nopProxy) handle(opcode uint16, r *wire.Reader) error {
	return nil
}
