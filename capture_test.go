//////////////////////////////////////////////////////////////////////////////
//
// Integration tests against an in-process fake compositor. These run the
// full loop: connect, negotiate, capture, allocate, copy, pull.
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

// +build linux

package alohacast

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lanikai/alohacast/internal/video"
	"github.com/lanikai/alohacast/internal/wayland/wltest"
)

func TestNewUnknownOutput(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 64, Height: 32})

	_, err := New(Config{Display: comp.Path(), Output: "DP-9"})
	cerr, ok := err.(*CaptureError)
	if assert.True(t, ok, "expected CaptureError, got %v", err) {
		assert.Equal(t, "DP-9", cerr.Output)
		assert.Equal(t, ReasonInvalidOutput, cerr.Reason)
	}
}

func TestNegotiateDefaultFormat(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 64, Height: 32})

	src, err := New(Config{Display: comp.Path()})
	assert.NoError(t, err)
	defer src.Stop()

	assert.NoError(t, src.Negotiate())

	// wl_shm ARGB8888 holds BGRA bytes.
	assert.Equal(t, video.FormatBGRA, src.Format())
}

func TestNegotiatePreference(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 64, Height: 32})
	comp.BufferFormat = video.ShmFormatXRGB8888

	src, err := New(Config{
		Display: comp.Path(),
		Formats: []video.Format{video.FormatBGRx, video.FormatBGRA},
	})
	assert.NoError(t, err)
	defer src.Stop()

	assert.NoError(t, src.Negotiate())
	assert.Equal(t, video.FormatBGRx, src.Format())
}

func TestNegotiateNoCommonFormat(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 64, Height: 32})

	src, err := New(Config{
		Display: comp.Path(),
		Formats: []video.Format{video.FormatNV12},
	})
	assert.NoError(t, err)
	defer src.Stop()

	assert.Equal(t, ErrNoCommonFormat, src.Negotiate())
}

func TestCaptureFrames(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 64, Height: 32})

	src, err := New(Config{Display: comp.Path(), QueueDepth: 4})
	assert.NoError(t, err)
	defer src.Stop()

	assert.NoError(t, src.Start())

	var lastSeq uint64
	for i := 0; i < 5; i++ {
		frame, err := src.PullFrame(5 * time.Second)
		if !assert.NoError(t, err) {
			break
		}

		assert.Equal(t, "HDMI-1", frame.Output)
		assert.Equal(t, video.FormatBGRA, frame.Format)
		assert.Equal(t, uint32(64), frame.Descriptor.Width)
		assert.Equal(t, uint32(32), frame.Descriptor.Height)
		assert.Equal(t, 64*4*32, len(frame.Bytes()))
		assert.False(t, frame.Timestamp.IsZero())
		assert.True(t, frame.Seq > lastSeq, "sequence must increase")
		lastSeq = frame.Seq

		frame.Release()
	}

	stats := src.Stats()
	assert.True(t, stats.Captured >= 5)
	assert.Zero(t, stats.Failures)
}

func TestCaptureMultipleOutputs(t *testing.T) {
	comp := wltest.New(t,
		&wltest.Output{Name: "HDMI-1", Width: 64, Height: 32},
		&wltest.Output{Name: "DP-2", Width: 32, Height: 16},
	)

	src, err := New(Config{Display: comp.Path(), QueueDepth: 8})
	assert.NoError(t, err)
	defer src.Stop()

	assert.NoError(t, src.Start())

	seen := map[string]uint64{}
	deadline := time.Now().Add(5 * time.Second)
	for len(seen) < 2 && time.Now().Before(deadline) {
		frame, err := src.PullFrame(time.Second)
		if err == ErrTimeout {
			continue
		}
		if !assert.NoError(t, err) {
			break
		}

		// Per-output sequences increase independently.
		assert.True(t, frame.Seq > seen[frame.Output])
		seen[frame.Output] = frame.Seq
		frame.Release()
	}
	assert.Equal(t, 2, len(seen))
}

func TestOutputGoneStopsCapture(t *testing.T) {
	comp := wltest.New(t,
		&wltest.Output{Name: "HDMI-1", Width: 64, Height: 32},
		&wltest.Output{Name: "DP-2", Width: 32, Height: 16},
	)

	src, err := New(Config{Display: comp.Path(), QueueDepth: 8})
	assert.NoError(t, err)
	defer src.Stop()

	assert.NoError(t, src.Start())

	// Wait until both outputs produce.
	seen := map[string]bool{}
	deadline := time.Now().Add(5 * time.Second)
	for len(seen) < 2 && time.Now().Before(deadline) {
		frame, err := src.PullFrame(time.Second)
		if err == ErrTimeout {
			continue
		}
		if !assert.NoError(t, err) {
			return
		}
		seen[frame.Output] = true
		frame.Release()
	}
	assert.Equal(t, 2, len(seen))

	comp.RemoveOutput("DP-2")

	// Give the removal time to propagate, drain the queue backlog, then
	// verify only the surviving output keeps producing.
	time.Sleep(200 * time.Millisecond)
	for {
		frame, err := src.PullFrame(10 * time.Millisecond)
		if err != nil {
			break
		}
		frame.Release()
	}
	for i := 0; i < 3; i++ {
		frame, err := src.PullFrame(5 * time.Second)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, "HDMI-1", frame.Output)
		frame.Release()
	}
}

func TestEarlyFailureReissues(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 64, Height: 32})

	src, err := New(Config{Display: comp.Path()})
	assert.NoError(t, err)
	defer src.Stop()

	assert.NoError(t, src.Negotiate())

	// A failure before any buffer advertisement is reissued; the next
	// attempt succeeds and frames keep flowing.
	comp.FailNextEarly(1)
	assert.NoError(t, src.Start())

	frame, err := src.PullFrame(5 * time.Second)
	assert.NoError(t, err)
	frame.Release()

	stats := src.Stats()
	assert.Equal(t, uint64(1), stats.Skipped)
	assert.Zero(t, stats.Failures)
}

func TestPersistentEarlyFailureStopsOutput(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 64, Height: 32})

	src, err := New(Config{Display: comp.Path(), RetryLimit: 1})
	assert.NoError(t, err)
	defer src.Stop()

	assert.NoError(t, src.Negotiate())

	// Every reissue fails too; the output stops after the retry bound.
	comp.FailNextEarly(10)
	assert.NoError(t, src.Start())

	_, err = src.PullFrame(500 * time.Millisecond)
	assert.Equal(t, ErrTimeout, err)
	assert.Equal(t, uint64(1), src.Stats().Failures)

	// One probe, the initial capture, one reissue. No further attempts.
	assert.Equal(t, uint64(3), comp.Captures())
}

func TestRejectedBufferRetries(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 64, Height: 32})

	src, err := New(Config{Display: comp.Path(), RetryLimit: 2})
	assert.NoError(t, err)
	defer src.Stop()

	assert.NoError(t, src.Negotiate())

	comp.FailNextCopy(2)
	assert.NoError(t, src.Start())

	frame, err := src.PullFrame(5 * time.Second)
	assert.NoError(t, err)
	frame.Release()

	stats := src.Stats()
	assert.Equal(t, uint64(2), stats.Skipped)
	assert.Zero(t, stats.Failures)
}

func TestStopUnblocksPull(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 64, Height: 32})
	comp.AutoReady = false // captures never complete

	src, err := New(Config{Display: comp.Path()})
	assert.NoError(t, err)
	assert.NoError(t, src.Start())

	errs := make(chan error, 1)
	go func() {
		_, err := src.PullFrame(0) // blocks until stop
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	src.Stop()

	select {
	case err := <-errs:
		assert.Equal(t, io.EOF, err)
	case <-time.After(2 * time.Second):
		t.Fatal("PullFrame did not unblock on Stop")
	}

	// Stop is idempotent and subsequent pulls fail fast.
	src.Stop()
	_, err = src.PullFrame(time.Second)
	assert.Equal(t, io.EOF, err)
}

func TestStopBeforeStart(t *testing.T) {
	comp := wltest.New(t, &wltest.Output{Name: "HDMI-1", Width: 64, Height: 32})

	src, err := New(Config{Display: comp.Path()})
	assert.NoError(t, err)

	src.Stop()
	_, err = src.PullFrame(time.Second)
	assert.Equal(t, io.EOF, err)
}
