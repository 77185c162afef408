//////////////////////////////////////////////////////////////////////////////
//
// Package alohacast captures frames from a Wayland compositor via the
// wlr-screencopy protocol. A CaptureSource negotiates a pixel format with
// the compositor, keeps one capture in flight per output, and hands
// completed frames to the caller through a bounded queue that never stalls
// the compositor connection.
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast
