//////////////////////////////////////////////////////////////////////////////
//
// Package wltest runs a minimal in-process Wayland compositor on a unix
// socket for tests: registry discovery, output bursts, shm pools and a
// scriptable screencopy implementation. Just enough protocol to exercise a
// real client connection end to end.
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package wltest

import (
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lanikai/alohacast/internal/wire"
)

// One advertised output.
type Output struct {
	Name          string
	Width, Height int32

	global uint32

	// Client-side object ids bound to this output.
	ids []uint32
}

// Compositor is a scripted fake compositor. Configure before the client
// connects; mutate during the test through the provided methods only.
type Compositor struct {
	path string
	lfd  int

	mu   sync.Mutex
	cfd  int
	rbuf []byte
	fds  []int

	outputs    []*Output
	registry   uint32
	manager    uint32
	shm        uint32
	dmabuf     uint32
	frames     map[uint32]*frameState
	kinds      map[uint32]string // pool, params, buffer
	nextGlobal uint32
	serial     uint32

	// wl_shm formats advertised on bind.
	ShmFormats []uint32

	// fourcc → modifiers advertised by zwp_linux_dmabuf_v1. Nil omits the
	// global entirely.
	DmabufFormats map[uint32][]uint64

	// Buffer parameters advertised per capture.
	BufferFormat uint32

	// Complete each copy immediately. When false the test drives completion
	// itself (or never).
	AutoReady bool

	// Send a damage event before ready.
	WithDamage bool

	failEarly int32 // captures to fail before advertising
	failCopy  int32 // captures to fail after the copy request

	captures uint64
	copies   uint64

	quit chan struct{}
	done chan struct{}
}

type frameState struct {
	output *Output
	copied bool
}

// New starts a compositor on a socket under t.TempDir() and tears it down
// with the test. The returned path is accepted by the client's display
// argument.
func New(t *testing.T, outputs ...*Output) *Compositor {
	t.Helper()

	c := &Compositor{
		path:         filepath.Join(t.TempDir(), "wltest-0"),
		cfd:          -1,
		outputs:      outputs,
		frames:       make(map[uint32]*frameState),
		kinds:        make(map[uint32]string),
		nextGlobal:   1,
		ShmFormats:   []uint32{0, 1}, // argb8888, xrgb8888
		BufferFormat: 0,
		AutoReady:    true,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, o := range c.outputs {
		o.global = c.nextGlobal
		c.nextGlobal++
	}

	lfd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := unix.Bind(lfd, &unix.SockaddrUnix{Name: c.path}); err != nil {
		t.Fatal(err)
	}
	if err := unix.Listen(lfd, 1); err != nil {
		t.Fatal(err)
	}
	c.lfd = lfd

	go c.serve()
	t.Cleanup(c.Close)
	return c
}

// Path returns the socket path, suitable as a display name.
func (c *Compositor) Path() string {
	return c.path
}

// Captures returns the number of capture requests received.
func (c *Compositor) Captures() uint64 {
	return atomic.LoadUint64(&c.captures)
}

// Copies returns the number of copy requests received.
func (c *Compositor) Copies() uint64 {
	return atomic.LoadUint64(&c.copies)
}

// FailNextEarly makes the next n captures fail before any buffer is
// advertised.
func (c *Compositor) FailNextEarly(n int) {
	atomic.StoreInt32(&c.failEarly, int32(n))
}

// FailNextCopy makes the next n captures fail after the client submits its
// buffer.
func (c *Compositor) FailNextCopy(n int) {
	atomic.StoreInt32(&c.failCopy, int32(n))
}

// InjectError sends a wl_display.error event, killing the session.
func (c *Compositor) InjectError(object, code uint32, msg string) {
	c.send(wire.NewMessage(1, 0).
		PutUint(object).PutUint(code).PutString(msg).Message())
}

// RemoveOutput withdraws the named output and fails any capture in flight
// against it.
func (c *Compositor) RemoveOutput(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.outputs {
		if o.Name != name {
			continue
		}
		c.outputs = append(c.outputs[:i], c.outputs[i+1:]...)
		for id, f := range c.frames {
			if f.output == o {
				c.sendLocked(wire.NewMessage(id, 3).Message()) // failed
				delete(c.frames, id)
			}
		}
		c.sendLocked(wire.NewMessage(c.registry, 1).PutUint(o.global).Message())
		return
	}
}

func (c *Compositor) Close() {
	select {
	case <-c.quit:
		return
	default:
	}
	close(c.quit)
	unix.Close(c.lfd)
	c.mu.Lock()
	if c.cfd >= 0 {
		unix.Shutdown(c.cfd, unix.SHUT_RDWR)
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Compositor) serve() {
	defer close(c.done)

	cfd, _, err := unix.Accept(c.lfd)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.cfd = cfd
	c.mu.Unlock()
	defer unix.Close(cfd)

	for {
		select {
		case <-c.quit:
			return
		default:
		}
		if err := c.read(); err != nil {
			return
		}
		for {
			m := c.nextMessage()
			if m == nil {
				break
			}
			c.handle(m)
		}
	}
}

func (c *Compositor) read() error {
	pfd := []unix.PollFd{{Fd: int32(c.cfd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, 100)
	if err == unix.EINTR || n == 0 {
		return nil
	}
	if err != nil {
		return err
	}

	buf := make([]byte, 4096)
	oob := make([]byte, 256)
	bn, oobn, _, _, err := unix.Recvmsg(c.cfd, buf, oob, unix.MSG_CMSG_CLOEXEC)
	if err != nil {
		return err
	}
	if bn == 0 {
		return io.EOF
	}
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil {
			for _, cmsg := range cmsgs {
				if fds, err := unix.ParseUnixRights(&cmsg); err == nil {
					c.fds = append(c.fds, fds...)
				}
			}
		}
	}
	c.rbuf = append(c.rbuf, buf[:bn]...)
	return nil
}

func (c *Compositor) nextMessage() *wire.Message {
	if len(c.rbuf) < wire.HeaderSize {
		return nil
	}
	object, opcode, size := wire.ParseHeader(c.rbuf)
	if size < wire.HeaderSize || len(c.rbuf) < size {
		return nil
	}
	data := make([]byte, size-wire.HeaderSize)
	copy(data, c.rbuf[wire.HeaderSize:size])
	c.rbuf = c.rbuf[size:]
	return &wire.Message{Object: object, Opcode: opcode, Data: data}
}

func (c *Compositor) takeFd() (int, error) {
	if len(c.fds) == 0 {
		return -1, io.ErrUnexpectedEOF
	}
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, nil
}

func (c *Compositor) send(m *wire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(m)
}

func (c *Compositor) sendLocked(m *wire.Message) {
	if c.cfd < 0 {
		return
	}
	buf := m.Marshal()
	for len(buf) > 0 {
		n, err := unix.Write(c.cfd, buf)
		if err != nil {
			return
		}
		buf = buf[n:]
	}
}

// deleteID acknowledges a destroyed object so the client forgets it.
func (c *Compositor) deleteID(id uint32) {
	c.send(wire.NewMessage(1, 1).PutUint(id).Message())
}

func (c *Compositor) handle(m *wire.Message) {
	r := wire.NewReader(m.Data, c.takeFd)

	switch {
	case m.Object == 1 && m.Opcode == 0: // wl_display.sync
		cb := r.Uint()
		c.serial++
		c.send(wire.NewMessage(cb, 0).PutUint(c.serial).Message())
		c.deleteID(cb)

	case m.Object == 1 && m.Opcode == 1: // wl_display.get_registry
		c.mu.Lock()
		c.registry = r.Uint()
		reg := c.registry
		outputs := append([]*Output{}, c.outputs...)
		c.mu.Unlock()

		for _, o := range outputs {
			c.send(wire.NewMessage(reg, 0).
				PutUint(o.global).PutString("wl_output").PutUint(4).Message())
		}
		c.send(wire.NewMessage(reg, 0).
			PutUint(c.global("wl_shm")).PutString("wl_shm").PutUint(1).Message())
		if c.DmabufFormats != nil {
			c.send(wire.NewMessage(reg, 0).
				PutUint(c.global("dmabuf")).PutString("zwp_linux_dmabuf_v1").PutUint(3).Message())
		}
		c.send(wire.NewMessage(reg, 0).
			PutUint(c.global("screencopy")).PutString("zwlr_screencopy_manager_v1").PutUint(3).Message())

	case m.Object == c.registry && m.Opcode == 0: // wl_registry.bind
		name := r.Uint()
		iface := r.String()
		r.Uint() // version
		id := r.Uint()
		c.bound(name, iface, id)

	case m.Object == c.manager && m.Opcode <= 1: // capture_output[_region]
		frame := r.Uint()
		r.Int() // overlay_cursor
		outputID := r.Uint()
		c.capture(frame, outputID)

	case m.Object == c.shm && m.Opcode == 0: // wl_shm.create_pool
		pool := r.Uint()
		fd := r.Fd()
		r.Int() // size
		if fd >= 0 {
			unix.Close(fd)
		}
		c.setKind(pool, "pool")

	case m.Object == c.dmabuf && m.Opcode == 1: // create_params
		c.setKind(r.Uint(), "params")

	default:
		c.object(m, r)
	}
}

// Singleton globals keep fixed names well above the output range.
func (c *Compositor) global(label string) uint32 {
	switch label {
	case "wl_shm":
		return 1000
	case "dmabuf":
		return 1001
	default:
		return 1002
	}
}

func (c *Compositor) setKind(id uint32, kind string) {
	c.mu.Lock()
	c.kinds[id] = kind
	c.mu.Unlock()
}

func (c *Compositor) bound(name uint32, iface string, id uint32) {
	switch iface {
	case "wl_output":
		c.mu.Lock()
		var out *Output
		for _, o := range c.outputs {
			if o.global == name {
				out = o
				break
			}
		}
		if out != nil {
			out.ids = append(out.ids, id)
		}
		c.mu.Unlock()
		if out == nil {
			return
		}
		// Initial burst: geometry, mode, scale, name, done.
		c.send(wire.NewMessage(id, 0).
			PutInt(0).PutInt(0).PutInt(600).PutInt(340).PutInt(0).
			PutString("wltest").PutString("fake").PutInt(0).Message())
		c.send(wire.NewMessage(id, 1).
			PutUint(0x1).PutInt(out.Width).PutInt(out.Height).PutInt(60000).Message())
		c.send(wire.NewMessage(id, 3).PutInt(1).Message())
		c.send(wire.NewMessage(id, 4).PutString(out.Name).Message())
		c.send(wire.NewMessage(id, 2).Message())

	case "wl_shm":
		c.mu.Lock()
		c.shm = id
		c.mu.Unlock()
		for _, f := range c.ShmFormats {
			c.send(wire.NewMessage(id, 0).PutUint(f).Message())
		}

	case "zwp_linux_dmabuf_v1":
		c.mu.Lock()
		c.dmabuf = id
		c.mu.Unlock()
		for fourcc, mods := range c.DmabufFormats {
			for _, mod := range mods {
				c.send(wire.NewMessage(id, 1).
					PutUint(fourcc).
					PutUint(uint32(mod >> 32)).
					PutUint(uint32(mod)).Message())
			}
		}

	case "zwlr_screencopy_manager_v1":
		c.mu.Lock()
		c.manager = id
		c.mu.Unlock()
	}
}

func (c *Compositor) capture(frame, outputID uint32) {
	atomic.AddUint64(&c.captures, 1)

	if atomic.AddInt32(&c.failEarly, -1) >= 0 {
		c.send(wire.NewMessage(frame, 3).Message())
		return
	}
	atomic.AddInt32(&c.failEarly, 1)

	c.mu.Lock()
	var out *Output
	for _, o := range c.outputs {
		for _, id := range o.ids {
			if id == outputID {
				out = o
				break
			}
		}
	}
	if out == nil {
		c.sendLocked(wire.NewMessage(frame, 3).Message())
		c.mu.Unlock()
		return
	}
	c.frames[frame] = &frameState{output: out}
	c.mu.Unlock()

	w := uint32(out.Width)
	h := uint32(out.Height)
	c.send(wire.NewMessage(frame, 0).
		PutUint(c.BufferFormat).PutUint(w).PutUint(h).PutUint(w * 4).Message())
	for fourcc := range c.DmabufFormats {
		c.send(wire.NewMessage(frame, 5).
			PutUint(fourcc).PutUint(w).PutUint(h).Message())
	}
	c.send(wire.NewMessage(frame, 6).Message())
}

// object handles requests on bound non-singleton objects: screencopy
// frames, shm pools, dmabuf params and buffers.
func (c *Compositor) object(m *wire.Message, r *wire.Reader) {
	c.mu.Lock()
	f, isFrame := c.frames[m.Object]
	kind := c.kinds[m.Object]
	c.mu.Unlock()

	if isFrame {
		switch m.Opcode {
		case 0, 2: // copy, copy_with_damage
			r.Uint() // buffer
			atomic.AddUint64(&c.copies, 1)
			f.copied = true

			if atomic.AddInt32(&c.failCopy, -1) >= 0 {
				c.send(wire.NewMessage(m.Object, 3).Message())
				c.forget(m.Object)
				return
			}
			atomic.AddInt32(&c.failCopy, 1)

			if c.AutoReady {
				c.complete(m.Object, f)
			}
		case 1: // destroy
			c.forget(m.Object)
			c.deleteID(m.Object)
		}
		return
	}

	switch kind {
	case "pool":
		switch m.Opcode {
		case 0: // create_buffer
			c.setKind(r.Uint(), "buffer")
		case 1: // destroy
			c.deleteID(m.Object)
		}
	case "params":
		switch m.Opcode {
		case 0: // destroy
			c.deleteID(m.Object)
		case 1: // add
			if fd := r.Fd(); fd >= 0 {
				unix.Close(fd)
			}
		case 3: // create_immed
			c.setKind(r.Uint(), "buffer")
		}
	case "buffer":
		if m.Opcode == 0 { // destroy
			c.deleteID(m.Object)
		}
	}
}

// complete finishes a copied capture: flags, optional damage, ready.
func (c *Compositor) complete(frame uint32, f *frameState) {
	c.send(wire.NewMessage(frame, 1).PutUint(0).Message())
	if c.WithDamage {
		c.send(wire.NewMessage(frame, 4).
			PutUint(0).PutUint(0).
			PutUint(uint32(f.output.Width)).PutUint(uint32(f.output.Height)).Message())
	}
	now := time.Now()
	sec := now.Unix()
	c.send(wire.NewMessage(frame, 2).
		PutUint(uint32(sec >> 32)).
		PutUint(uint32(sec)).
		PutUint(uint32(now.Nanosecond())).Message())
	c.forget(frame)
}

func (c *Compositor) forget(frame uint32) {
	c.mu.Lock()
	delete(c.frames, frame)
	c.mu.Unlock()
}
