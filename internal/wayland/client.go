//////////////////////////////////////////////////////////////////////////////
//
// Client is the session with the compositor: it owns the connection,
// discovers outputs and buffer formats through the registry, and routes
// incoming events to the objects that own them.
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package wayland

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/logging"
	"github.com/lanikai/alohacast/internal/wire"
)

var log = logging.DefaultLogger.WithTag("wayland")

const (
	displayID  = 1
	registryID = 2
)

// wl_display requests and events.
const (
	displaySync        = 0
	displayGetRegistry = 1

	displayEventError    = 0
	displayEventDeleteID = 1
)

// wl_registry requests and events.
const (
	registryBind = 0

	registryEventGlobal       = 0
	registryEventGlobalRemove = 1
)

// A protocol object that receives events.
type proxy interface {
	handle(opcode uint16, r *wire.Reader) error
}

// The compositor reported a fatal protocol error. The session is dead.
type ProtocolError struct {
	Object  uint32
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on object %d (code %d): %s", e.Object, e.Code, e.Message)
}

type Client struct {
	conn *conn

	// Guards objects, nextID and the outputs list. Requests that allocate
	// object ids may originate from any goroutine; event routing happens
	// only in the dispatch context.
	mu      sync.Mutex
	objects map[uint32]proxy
	nextID  uint32
	outputs []*Output

	shm        *shm
	dmabuf     *dmabuf
	screencopy *screencopyManager

	// Invoked from the dispatch context.
	OnOutputAdded   func(*Output)
	OnOutputRemoved func(*Output)

	fatal error
}

// Connect establishes a session with the compositor on the named display
// ("" uses $WAYLAND_DISPLAY) and performs initial discovery: registry
// globals, output metadata and advertised buffer formats.
func Connect(display string) (*Client, error) {
	conn, err := dial(display)
	if err != nil {
		return nil, err
	}
	return newClient(conn)
}

func newClient(conn *conn) (*Client, error) {
	c := &Client{
		conn:    conn,
		objects: make(map[uint32]proxy),
		nextID:  registryID + 1,
	}
	c.objects[displayID] = (*display)(c)
	c.objects[registryID] = (*registry)(c)

	c.send(wire.NewMessage(displayID, displayGetRegistry).PutUint(registryID).Message())

	// First round trip collects the globals (binding as they arrive), the
	// second lets the bound globals deliver their initial event bursts:
	// output geometry and names, shm and dmabuf format advertisements.
	if err := c.RoundTrip(); err != nil {
		conn.close()
		return nil, err
	}
	if err := c.RoundTrip(); err != nil {
		conn.close()
		return nil, err
	}

	if c.screencopy == nil {
		conn.close()
		return nil, errors.New("compositor does not support zwlr_screencopy_manager_v1")
	}
	return c, nil
}

// Dispatch reads and processes pending events, waiting up to timeout for
// the connection to become readable. Returns the number of events handled.
// Must only ever be called from one goroutine at a time.
func (c *Client) Dispatch(timeout time.Duration) (int, error) {
	if c.fatal != nil {
		return 0, c.fatal
	}
	if n := c.drain(); n > 0 {
		return n, c.fatal
	}
	ok, err := c.conn.read(timeout)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return c.drain(), c.fatal
}

func (c *Client) drain() int {
	count := 0
	for c.fatal == nil {
		m := c.conn.next()
		if m == nil {
			break
		}
		c.route(m)
		count++
	}
	return count
}

func (c *Client) route(m *wire.Message) {
	c.mu.Lock()
	p := c.objects[m.Object]
	c.mu.Unlock()

	if p == nil {
		// Events may still be in flight for objects we already destroyed.
		log.Debug("event %d for unknown object %d", m.Opcode, m.Object)
		return
	}

	r := wire.NewReader(m.Data, c.conn.takeFd)
	err := p.handle(m.Opcode, r)
	if err == nil {
		err = r.Err()
	}
	if err != nil {
		c.fatal = errors.Wrapf(err, "object %d event %d", m.Object, m.Opcode)
	}
}

// RoundTrip flushes the connection: it issues a sync and dispatches until
// the compositor confirms all prior requests have been processed.
func (c *Client) RoundTrip() error {
	cb := &callback{}
	id := c.newID(cb)
	c.send(wire.NewMessage(displayID, displaySync).PutUint(id).Message())

	deadline := time.Now().Add(5 * time.Second)
	for !cb.done {
		if _, err := c.Dispatch(100 * time.Millisecond); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return errors.New("compositor round trip timed out")
		}
	}
	return nil
}

// Err returns the sticky fatal error, if any.
func (c *Client) Err() error {
	return c.fatal
}

// Outputs returns a snapshot of the currently known outputs.
func (c *Client) Outputs() []*Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Output, len(c.outputs))
	copy(out, c.outputs)
	return out
}

func (c *Client) Close() error {
	return c.conn.close()
}

func (c *Client) newID(p proxy) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.objects[id] = p
	return id
}

func (c *Client) forget(id uint32) {
	c.mu.Lock()
	delete(c.objects, id)
	c.mu.Unlock()
}

func (c *Client) send(m *wire.Message) {
	if err := c.conn.write(m); err != nil {
		// Writes fail once the session is torn down; outstanding frame
		// releases still come through here. Not fatal on its own.
		log.Debug("send to object %d failed: %v", m.Object, err)
	}
}

// wl_display events, handled by the client itself.
type display Client

func (d *display) handle(opcode uint16, r *wire.Reader) error {
	c := (*Client)(d)
	switch opcode {
	case displayEventError:
		perr := &ProtocolError{Object: r.Uint(), Code: r.Uint(), Message: r.String()}
		if r.Err() != nil {
			return r.Err()
		}
		c.fatal = perr
	case displayEventDeleteID:
		c.forget(r.Uint())
	}
	return nil
}

// wl_registry events, handled by the client itself.
type registry Client

func (g *registry) handle(opcode uint16, r *wire.Reader) error {
	c := (*Client)(g)
	switch opcode {
	case registryEventGlobal:
		c.global(r.Uint(), r.String(), r.Uint())
	case registryEventGlobalRemove:
		c.globalRemove(r.Uint())
	}
	return nil
}

func (c *Client) global(name uint32, iface string, version uint32) {
	switch iface {
	case "wl_output":
		o := &Output{client: c, global: name, version: minVersion(version, 4)}
		o.id = c.bind(name, iface, o.version, o)
		o.Name = fmt.Sprintf("output-%d", name)
		c.mu.Lock()
		c.outputs = append(c.outputs, o)
		c.mu.Unlock()
	case "wl_shm":
		if c.shm == nil {
			s := &shm{client: c, formats: make(map[uint32]bool)}
			s.id = c.bind(name, iface, 1, s)
			c.shm = s
		}
	case "zwp_linux_dmabuf_v1":
		if c.dmabuf == nil && version >= 3 {
			d := &dmabuf{client: c, formats: make(map[uint32][]uint64)}
			d.id = c.bind(name, iface, 3, d)
			c.dmabuf = d
		}
	case "zwlr_screencopy_manager_v1":
		if c.screencopy == nil {
			m := &screencopyManager{client: c, version: minVersion(version, 3)}
			m.id = c.bind(name, iface, m.version, m)
			c.screencopy = m
		}
	}
}

func (c *Client) globalRemove(name uint32) {
	c.mu.Lock()
	var gone *Output
	for i, o := range c.outputs {
		if o.global == name {
			gone = o
			c.outputs = append(c.outputs[:i], c.outputs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if gone != nil {
		gone.Gone = true
		log.Info("output %s removed by compositor", gone.Name)
		if c.OnOutputRemoved != nil {
			c.OnOutputRemoved(gone)
		}
	}
}

func (c *Client) bind(name uint32, iface string, version uint32, p proxy) uint32 {
	id := c.newID(p)
	c.send(wire.NewMessage(registryID, registryBind).
		PutUint(name).
		PutString(iface).
		PutUint(version).
		PutUint(id).
		Message())
	return id
}

// wl_callback, used for round trips.
type callback struct {
	done bool
}

func (cb *callback) handle(opcode uint16, r *wire.Reader) error {
	if opcode == 0 {
		r.Uint() // serial, unused
		cb.done = true
	}
	return nil
}

func minVersion(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
