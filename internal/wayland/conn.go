//////////////////////////////////////////////////////////////////////////////
//
// Compositor socket transport. Requests may be sent from any goroutine (the
// write side is mutex-guarded); events must be read from a single dispatch
// context to preserve protocol ordering.
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package wayland

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lanikai/alohacast/internal/wire"
)

type conn struct {
	fd int

	// Serializes outgoing requests.
	wmu sync.Mutex

	// Unparsed bytes received from the socket.
	rbuf []byte

	// Received file descriptors, in arrival order. Consumed by fd-typed
	// event arguments.
	fds []int
}

// Resolve the display name to a socket path. A name containing a slash is
// used as-is; otherwise it is joined with XDG_RUNTIME_DIR. An empty name
// falls back to $WAYLAND_DISPLAY, then "wayland-0".
func socketPath(display string) (string, error) {
	if display == "" {
		display = os.Getenv("WAYLAND_DISPLAY")
	}
	if display == "" {
		display = "wayland-0"
	}
	if filepath.IsAbs(display) {
		return display, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, display), nil
}

func dial(display string) (*conn, error) {
	path, err := socketPath(display)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "connect %s", path)
	}
	return &conn{fd: fd}, nil
}

func (c *conn) write(m *wire.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	buf := m.Marshal()
	if len(m.FDs) > 0 {
		rights := unix.UnixRights(m.FDs...)
		return unix.Sendmsg(c.fd, buf, rights, nil, 0)
	}
	for len(buf) > 0 {
		n, err := unix.Write(c.fd, buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// read waits up to timeout for the socket to become readable and appends
// whatever arrives to the receive buffer. Returns false when the timeout
// elapsed without data. A negative timeout blocks indefinitely.
func (c *conn) read(timeout time.Duration) (bool, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	pfd := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, ms)
	if err == unix.EINTR {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "poll")
	}
	if n == 0 {
		return false, nil
	}

	buf := make([]byte, 4096)
	oob := make([]byte, 256)
	bn, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, unix.MSG_CMSG_CLOEXEC)
	if err != nil {
		return false, errors.Wrap(err, "recvmsg")
	}
	if bn == 0 {
		return false, io.EOF
	}

	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return false, errors.Wrap(err, "parse control message")
		}
		for _, cmsg := range cmsgs {
			fds, err := unix.ParseUnixRights(&cmsg)
			if err != nil {
				continue
			}
			c.fds = append(c.fds, fds...)
		}
	}

	c.rbuf = append(c.rbuf, buf[:bn]...)
	return true, nil
}

// next pops one complete message from the receive buffer, or nil.
func (c *conn) next() *wire.Message {
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

func (c *conn) takeFd() (int, error) {
	if len(c.fds) == 0 {
		return -1, errors.New("no pending file descriptor")
	}
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, nil
}

func (c *conn) close() error {
	for _, fd := range c.fds {
		unix.Close(fd)
	}
	c.fds = nil
	return unix.Close(c.fd)
}
