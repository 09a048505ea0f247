// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display shows the viewer in a desktop window. The window is both
// the frame.Choreographer (frames follow the window's update loop) and the
// viewer.Surface.
package display

import (
	"errors"
	"image"

	"github.com/relabs-tech/heading_viewer/internal/frame"
	"github.com/relabs-tech/heading_viewer/internal/render"
	"github.com/relabs-tech/heading_viewer/internal/viewer"
)

// ErrUnavailable is returned by Run on builds without window support.
var ErrUnavailable = errors.New("window mode requires cgo (build/run with CGO_ENABLED=1)")

// Window is a desktop viewer window.
type Window struct {
	Title     string
	RefreshHz int

	queue  frame.CallbackQueue
	raster *render.RasterSurface
	size   image.Point
}

// NewWindow creates a window of w×h logical pixels ticking at refreshHz.
func NewWindow(title string, w, h, refreshHz int) *Window {
	if refreshHz <= 0 {
		refreshHz = 60
	}
	return &Window{
		Title:     title,
		RefreshHz: refreshHz,
		raster:    render.NewRasterSurface(w, h),
		size:      image.Pt(w, h),
	}
}

func (w *Window) PostFrameCallback(cb frame.FrameCallback) { w.queue.Post(cb) }

func (w *Window) RemoveFrameCallback(cb frame.FrameCallback) { w.queue.Remove(cb) }

// Present draws f into the window's back buffer; it shows on the next draw.
func (w *Window) Present(f viewer.Frame) error { return w.raster.Present(f) }

// tick dispatches pending frame callbacks.
func (w *Window) tick(frameTimeNanos int64) int { return w.queue.Dispatch(frameTimeNanos) }
