//////////////////////////////////////////////////////////////////////////////
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast

import "sync/atomic"

// Session counters. Read with Stats(), updated internally.
type Stats struct {
	// Frames completed by the compositor.
	Captured uint64

	// Frames evicted from the queue before the consumer pulled them.
	Dropped uint64

	// Capture attempts abandoned and reissued after a transient failure.
	Skipped uint64

	// Terminal capture failures.
	Failures uint64
}

type counters struct {
	captured uint64
	dropped  uint64
	skipped  uint64
	failures uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Captured: atomic.LoadUint64(&c.captured),
		Dropped:  atomic.LoadUint64(&c.dropped),
		Skipped:  atomic.LoadUint64(&c.skipped),
		Failures: atomic.LoadUint64(&c.failures),
	}
}
