//////////////////////////////////////////////////////////////////////////////
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// PullFrame waited longer than the requested timeout.
	ErrTimeout = errors.New("timed out waiting for frame")

	// The compositor advertised no pixel format the caller asked for.
	ErrNoCommonFormat = errors.New("no common pixel format with compositor")
)

// Why a capture against an output could not be completed.
type FailReason int

const (
	// The compositor reported failure without further detail.
	ReasonUnknown FailReason = iota

	// The requested output was never valid for capture.
	ReasonInvalidOutput

	// The compositor refused the buffer we supplied.
	ReasonBufferRejected

	// The output disappeared while a capture was in flight.
	ReasonOutputGone
)

func (r FailReason) String() string {
	switch r {
	case ReasonInvalidOutput:
		return "invalid output"
	case ReasonBufferRejected:
		return "buffer rejected"
	case ReasonOutputGone:
		return "output gone"
	default:
		return "unknown"
	}
}

// CaptureError records a failed capture attempt on a specific output.
type CaptureError struct {
	Output string
	Reason FailReason
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture of %s failed: %s", e.Output, e.Reason)
}
