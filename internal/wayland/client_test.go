package wayland_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lanikai/alohacast/internal/video"
	"github.com/lanikai/alohacast/internal/wayland"
	"github.com/lanikai/alohacast/internal/wayland/wltest"
)

func dispatchUntil(t *testing.T, c *wayland.Client, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if _, err := c.Dispatch(50 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
	}
}

func TestConnectDiscoversOutputs(t *testing.T) {
	comp := wltest.New(t,
		&wltest.Output{Name: "HDMI-1", Width: 1920, Height: 1080},
		&wltest.Output{Name: "DP-2", Width: 2560, Height: 1440},
	)

	c, err := wayland.Connect(comp.Path())
	assert.NoError(t, err)
	defer c.Close()

	outputs := c.Outputs()
	assert.Equal(t, 2, len(outputs))

	byName := map[string]*wayland.Output{}
	for _, o := range outputs {
		assert.True(t, o.Done)
		byName[o.Name] = o
	}
	assert.Equal(t, int32(1920), byName["HDMI-1"].Width)
	assert.Equal(t, int32(1080), byName["HDMI-1"].Height)
	assert.Equal(t, int32(2560), byName["DP-2"].Width)
}

func TestShmFormatAdvertisement(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 640, Height: 480})

	c, err := wayland.Connect(comp.Path())
	assert.NoError(t, err)
	defer c.Close()

	assert.True(t, c.ShmSupports(video.ShmFormatARGB8888))
	assert.True(t, c.ShmSupports(video.ShmFormatXRGB8888))
	assert.False(t, c.ShmSupports(video.ShmFormatNV12))
	assert.False(t, c.HasDmabuf())
}

func TestDmabufFormatAdvertisement(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 640, Height: 480})
	comp.DmabufFormats = map[uint32][]uint64{
		video.FourccARGB8888: {video.ModifierLinear},
		video.FourccNV12:     {video.ModifierInvalid},
	}

	c, err := wayland.Connect(comp.Path())
	assert.NoError(t, err)
	defer c.Close()

	assert.True(t, c.HasDmabuf())
	assert.True(t, c.DmabufSupports(video.FourccARGB8888, video.ModifierLinear))
	assert.False(t, c.DmabufSupports(video.FourccARGB8888, 0x42))

	// The implicit modifier matches any request.
	assert.True(t, c.DmabufSupports(video.FourccNV12, 0x42))
	assert.False(t, c.DmabufSupports(video.FourccXRGB8888, video.ModifierLinear))
}

func TestProtocolErrorIsFatal(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 640, Height: 480})

	c, err := wayland.Connect(comp.Path())
	assert.NoError(t, err)
	defer c.Close()

	comp.InjectError(1, 2, "request malformed")

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err = c.Dispatch(50 * time.Millisecond)
		if err != nil || time.Now().After(deadline) {
			break
		}
	}
	perr, ok := err.(*wayland.ProtocolError)
	if assert.True(t, ok, "expected ProtocolError, got %v", err) {
		assert.Equal(t, uint32(1), perr.Object)
		assert.Equal(t, uint32(2), perr.Code)
		assert.Equal(t, "request malformed", perr.Message)
	}
	assert.Error(t, c.Err())
}

func TestOutputRemoval(t *testing.T) {
	comp := wltest.New(t,
		&wltest.Output{Name: "HDMI-1", Width: 640, Height: 480},
		&wltest.Output{Name: "DP-2", Width: 800, Height: 600},
	)

	c, err := wayland.Connect(comp.Path())
	assert.NoError(t, err)
	defer c.Close()

	var removed *wayland.Output
	c.OnOutputRemoved = func(o *wayland.Output) { removed = o }

	comp.RemoveOutput("DP-2")
	dispatchUntil(t, c, func() bool { return removed != nil })

	assert.Equal(t, "DP-2", removed.Name)
	assert.True(t, removed.Gone)
	assert.Equal(t, 1, len(c.Outputs()))
}

// frameEvents records everything the screencopy frame delivers.
type frameEvents struct {
	shm    []video.FormatDescriptor
	dmabuf []video.FormatDescriptor
	done   bool
	flags  uint32
	ready  bool
	ts     time.Time
	failed bool
}

func (e *frameEvents) ShmFormat(format, width, height, stride uint32) {
	e.shm = append(e.shm, video.FormatDescriptor{
		PixelFormat: format, Memory: video.MemoryShm,
		Width: width, Height: height, Stride: stride,
	})
}

func (e *frameEvents) DmabufFormat(fourcc, width, height uint32) {
	e.dmabuf = append(e.dmabuf, video.FormatDescriptor{
		PixelFormat: fourcc, Memory: video.MemoryDmabuf,
		Width: width, Height: height,
	})
}

func (e *frameEvents) BufferDone()              { e.done = true }
func (e *frameEvents) Flags(flags uint32)       { e.flags = flags }
func (e *frameEvents) Damage(x, y, w, h uint32) {}
func (e *frameEvents) Ready(ts time.Time)       { e.ready, e.ts = true, ts }
func (e *frameEvents) Failed()                  { e.failed = true }

func TestCaptureRoundTrip(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 64, Height: 32})

	c, err := wayland.Connect(comp.Path())
	assert.NoError(t, err)
	defer c.Close()

	events := &frameEvents{}
	frame, err := c.CaptureOutput(c.Outputs()[0], false, nil, events)
	assert.NoError(t, err)

	dispatchUntil(t, c, func() bool { return events.done })
	if assert.Equal(t, 1, len(events.shm)) {
		d := events.shm[0]
		assert.Equal(t, uint32(video.ShmFormatARGB8888), d.PixelFormat)
		assert.Equal(t, uint32(64), d.Width)
		assert.Equal(t, uint32(32), d.Height)
		assert.Equal(t, uint32(64*4), d.Stride)
	}

	// Back the buffer with a plain file; the fake compositor only checks
	// plumbing, not contents.
	f, err := os.CreateTemp(t.TempDir(), "buf")
	assert.NoError(t, err)
	defer f.Close()
	size := 64 * 4 * 32
	assert.NoError(t, f.Truncate(int64(size)))

	buf, err := c.CreateShmBuffer(int(f.Fd()), size, 64, 32, 64*4, video.ShmFormatARGB8888)
	assert.NoError(t, err)
	defer buf.Destroy()

	assert.NoError(t, frame.Copy(buf, false))
	dispatchUntil(t, c, func() bool { return events.ready })

	assert.False(t, events.failed)
	assert.False(t, events.ts.IsZero())
	assert.Equal(t, uint64(1), comp.Copies())
	frame.Destroy()
}

func TestCaptureFailure(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 64, Height: 32})
	comp.FailNextEarly(1)

	c, err := wayland.Connect(comp.Path())
	assert.NoError(t, err)
	defer c.Close()

	events := &frameEvents{}
	frame, err := c.CaptureOutput(c.Outputs()[0], false, nil, events)
	assert.NoError(t, err)
	defer frame.Destroy()

	dispatchUntil(t, c, func() bool { return events.failed })
	assert.False(t, events.ready)
	assert.Empty(t, events.shm)
}
