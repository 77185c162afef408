package wayland

import (
	"github.com/lanikai/alohacast/internal/wire"
)

// wl_output events.
const (
	outputEventGeometry    = 0
	outputEventMode        = 1
	outputEventDone        = 2
	outputEventScale       = 3
	outputEventName        = 4
	outputEventDescription = 5

	outputModeCurrent = 0x1
)

// One display surface the compositor can capture from. Created on registry
// discovery, updated on compositor reconfiguration, invalidated on removal.
// All mutation happens in the dispatch context.
type Output struct {
	client  *Client
	id      uint32
	global  uint32
	version uint32

	// Compositor-assigned name, e.g. "HDMI-1". Synthesized from the global
	// name when the compositor predates wl_output v4.
	Name string

	X, Y      int32
	Width     int32
	Height    int32
	Transform int32
	Scale     int32

	// Initial burst of properties finished.
	Done bool

	// The compositor removed this output. In-flight captures against it
	// will fail.
	Gone bool
}

func (o *Output) handle(opcode uint16, r *wire.Reader) error {
	switch opcode {
	case outputEventGeometry:
		o.X = r.Int()
		o.Y = r.Int()
		r.Int() // physical width, mm
		r.Int() // physical height, mm
		r.Int() // subpixel
		_ = r.String() // make
		_ = r.String() // model
		o.Transform = r.Int()
	case outputEventMode:
		flags := r.Uint()
		w := r.Int()
		h := r.Int()
		r.Int() // refresh
		if flags&outputModeCurrent != 0 {
			o.Width = w
			o.Height = h
		}
	case outputEventDone:
		first := !o.Done
		o.Done = true
		if first && o.client.OnOutputAdded != nil {
			o.client.OnOutputAdded(o)
		}
	case outputEventScale:
		o.Scale = r.Int()
	case outputEventName:
		o.Name = r.String()
	case outputEventDescription:
		_ = r.String()
	}
	return nil
}
