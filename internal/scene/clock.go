// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package scene

import "time"

var epoch = time.Now()

// Nanotime returns a monotonic timestamp in nanoseconds. Only differences
// between two values are meaningful.
func Nanotime() int64 {
	return int64(time.Since(epoch))
}

// FrameClock converts frame timestamps to seconds since its creation.
type FrameClock struct {
	origin int64
}

// NewFrameClock captures the current Nanotime as origin.
func NewFrameClock() FrameClock {
	return FrameClock{origin: Nanotime()}
}

// FrameClockAt uses a fixed origin, for replaying recorded timestamps.
func FrameClockAt(origin int64) FrameClock {
	return FrameClock{origin: origin}
}

// Origin returns the timestamp the clock counts from.
func (c FrameClock) Origin() int64 { return c.origin }

// Elapsed returns (ts - origin) in seconds.
func (c FrameClock) Elapsed(ts int64) float64 {
	return float64(ts-c.origin) / float64(time.Second)
}
