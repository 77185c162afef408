//////////////////////////////////////////////////////////////////////////////
//
// CaptureSource drives the whole capture loop: it negotiates a pixel format
// with the compositor, keeps exactly one capture request in flight per
// output, and feeds completed frames into the queue. All protocol events are
// handled in a single dispatch context; before Start that context is the
// caller's goroutine, afterward it is the internal loop.
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/alloc"
	"github.com/lanikai/alohacast/internal/logging"
	"github.com/lanikai/alohacast/internal/video"
	"github.com/lanikai/alohacast/internal/wayland"
)

var log = logging.DefaultLogger.WithTag("capture")

const dispatchSlice = 50 * time.Millisecond

// Per-output capture bookkeeping. Touched only in the dispatch context.
type outputState struct {
	out *wayland.Output

	// In-flight request, nil between captures.
	req *captureRequest

	seq     uint64
	retries int

	// GPU allocation abandoned for this output after repeated rejection.
	gpuDisabled bool

	// No further captures will be issued.
	stopped bool
}

type CaptureSource struct {
	cfg    Config
	client *wayland.Client
	alloc  *alloc.Allocator
	queue  *frameQueue
	stats  counters

	// Keyed by output name. Only the dispatch context mutates the map and
	// the states it holds; the mutex covers cross-context reads (Outputs).
	omu     sync.Mutex
	outputs map[string]*outputState

	format     video.Format
	negotiated bool

	started  bool
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New connects to the compositor and discovers the requested outputs. The
// source is idle until Start.
func New(cfg Config) (*CaptureSource, error) {
	cfg.setDefaults()

	client, err := wayland.Connect(cfg.Display)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to compositor")
	}

	drmPath := ""
	if cfg.PreferGPU {
		drmPath = cfg.DRMDevice
	}

	s := &CaptureSource{
		cfg:     cfg,
		client:  client,
		alloc:   alloc.New(drmPath),
		queue:   newFrameQueue(cfg.QueueDepth),
		outputs: make(map[string]*outputState),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	for _, o := range client.Outputs() {
		if cfg.Output == "" || o.Name == cfg.Output {
			s.outputs[o.Name] = &outputState{out: o}
		}
	}
	if len(s.outputs) == 0 {
		client.Close()
		if cfg.Output != "" {
			return nil, &CaptureError{Output: cfg.Output, Reason: ReasonInvalidOutput}
		}
		return nil, errors.New("compositor exposes no outputs")
	}

	client.OnOutputAdded = s.outputAdded
	client.OnOutputRemoved = s.outputRemoved
	return s, nil
}

// Outputs returns the names of the outputs being captured.
func (s *CaptureSource) Outputs() []string {
	s.omu.Lock()
	defer s.omu.Unlock()
	names := make([]string, 0, len(s.outputs))
	for name := range s.outputs {
		names = append(names, name)
	}
	return names
}

// Format returns the negotiated pixel format. Valid after Negotiate.
func (s *CaptureSource) Format() video.Format {
	return s.format
}

// Negotiate probes each captured output for its advertised buffer formats
// and fixes the session pixel format: the first entry of cfg.Formats that
// every output supports, or the first common advertisement when no
// preference was given. Must be called before Start; Start negotiates
// implicitly when the caller does not.
func (s *CaptureSource) Negotiate() error {
	if s.started {
		return errors.New("cannot negotiate after start")
	}
	if s.negotiated {
		return nil
	}

	probes := make([]*captureRequest, 0, len(s.outputs))
	for _, st := range s.outputs {
		req := newProbeRequest(s, st)
		if err := req.issue(); err != nil {
			return err
		}
		probes = append(probes, req)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !probesSettled(probes) {
		if _, err := s.client.Dispatch(100 * time.Millisecond); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return errors.New("format probe timed out")
		}
	}

	common := probes[0].advertised()
	for _, p := range probes[1:] {
		common = intersect(common, p.advertised())
	}
	if len(common) == 0 {
		return ErrNoCommonFormat
	}

	if len(s.cfg.Formats) > 0 {
		for _, want := range s.cfg.Formats {
			for _, f := range common {
				if f == want {
					s.format = want
					s.negotiated = true
					log.Info("negotiated format %v", want)
					return nil
				}
			}
		}
		return ErrNoCommonFormat
	}

	s.format = common[0]
	s.negotiated = true
	log.Info("negotiated format %v", s.format)
	return nil
}

func probesSettled(probes []*captureRequest) bool {
	for _, p := range probes {
		if p.state != stateReady && p.state != stateFailed {
			return false
		}
	}
	return true
}

func intersect(a, b []video.Format) []video.Format {
	var out []video.Format
	for _, f := range a {
		for _, g := range b {
			if f == g {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// Start begins capturing. The dispatch loop runs until Stop.
func (s *CaptureSource) Start() error {
	if s.started {
		return errors.New("already started")
	}
	if err := s.Negotiate(); err != nil {
		return err
	}
	s.started = true

	go s.loop()
	return nil
}

func (s *CaptureSource) loop() {
	defer close(s.done)

	for _, st := range s.outputs {
		s.issueCapture(st)
	}

	for {
		select {
		case <-s.quit:
			s.teardown()
			return
		default:
		}

		if _, err := s.client.Dispatch(dispatchSlice); err != nil {
			log.Error("dispatch: %v", err)
			s.teardown()
			return
		}
	}
}

func (s *CaptureSource) teardown() {
	for _, st := range s.outputs {
		if st.req != nil {
			st.req.abort()
			st.req = nil
		}
		st.stopped = true
	}
	s.queue.Close()
	s.client.Close()
	s.alloc.Close()
}

// issueCapture starts the next capture for an output. Dispatch context only.
func (s *CaptureSource) issueCapture(st *outputState) {
	if st.stopped || st.req != nil || st.out.Gone {
		return
	}
	req := newCaptureRequest(s, st)
	if err := req.issue(); err != nil {
		log.Warn("capture of %s: %v", st.out.Name, err)
		st.stopped = true
		return
	}
	st.req = req
}

// PullFrame returns the next captured frame, waiting up to timeout (a
// non-positive timeout waits indefinitely). Returns io.EOF once the source
// has stopped. The caller owns the frame and must Release it.
func (s *CaptureSource) PullFrame(timeout time.Duration) (*Frame, error) {
	f, err := s.queue.Pull(timeout)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Stop halts capturing, releases all buffers and closes the compositor
// session. Pending and future PullFrame calls return io.EOF.
func (s *CaptureSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.started {
			<-s.done
		} else {
			s.queue.Close()
			s.client.Close()
			s.alloc.Close()
		}
	})
}

// Stats returns a snapshot of the session counters.
func (s *CaptureSource) Stats() Stats {
	st := s.stats.snapshot()
	st.Dropped = s.queue.Drops()
	return st
}

// Dispatch context callbacks registered with the session.

func (s *CaptureSource) outputAdded(o *wayland.Output) {
	if s.cfg.Output != "" && o.Name != s.cfg.Output {
		return
	}
	if _, ok := s.outputs[o.Name]; ok {
		return
	}
	log.Info("output %s appeared (%dx%d)", o.Name, o.Width, o.Height)
	st := &outputState{out: o}
	s.omu.Lock()
	s.outputs[o.Name] = st
	s.omu.Unlock()
	if s.started {
		s.issueCapture(st)
	}
}

func (s *CaptureSource) outputRemoved(o *wayland.Output) {
	st := s.outputs[o.Name]
	if st == nil {
		return
	}
	st.stopped = true
	if st.req != nil {
		// The compositor may never deliver failed for the orphaned
		// request; reclaim its buffer now.
		st.req.abort()
		st.req = nil
		atomic.AddUint64(&s.stats.failures, 1)
		log.Warn("capture of %s failed: %s", o.Name, ReasonOutputGone)
	}
	s.omu.Lock()
	delete(s.outputs, o.Name)
	s.omu.Unlock()
}
