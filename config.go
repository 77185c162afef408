//////////////////////////////////////////////////////////////////////////////
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast

import (
	"github.com/lanikai/alohacast/internal/video"
)

const (
	defaultQueueDepth = 2
	defaultRetryLimit = 1
	defaultDRMDevice  = "/dev/dri/card0"
)

// Config selects what to capture and how. The zero value captures every
// output of the default display into a depth-2 queue, preferring GPU
// buffers.
type Config struct {
	// Wayland display name, e.g. "wayland-1". Empty uses $WAYLAND_DISPLAY.
	Display string

	// Capture only the output with this name, e.g. "HDMI-1". Empty captures
	// all outputs.
	Output string

	// Crop rectangle in output-logical coordinates. A zero-sized rectangle
	// captures the whole output.
	CropX, CropY          int32
	CropWidth, CropHeight int32

	// Pixel formats acceptable to the consumer, in preference order. Empty
	// accepts any format the compositor advertises.
	Formats []video.Format

	// Completed frames held for the consumer before the oldest is dropped.
	QueueDepth int

	// Attempt GPU (dmabuf) buffer allocation before shared memory.
	PreferGPU bool

	// DRM node for GPU allocation.
	DRMDevice string

	// Ask the compositor to composite the cursor into captured frames.
	OverlayCursor bool

	// Delay each copy until the output changes and report damage rectangles
	// on the emitted frames.
	WithDamage bool

	// Same-strategy reallocation attempts after the compositor rejects a
	// buffer, before GPU allocation is abandoned for that output.
	RetryLimit int
}

func (c *Config) setDefaults() {
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = defaultRetryLimit
	}
	if c.DRMDevice == "" {
		c.DRMDevice = defaultDRMDevice
	}
}

func (c *Config) cropped() bool {
	return c.CropWidth > 0 && c.CropHeight > 0
}
