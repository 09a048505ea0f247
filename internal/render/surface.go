// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package render

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/viewer"
)

// LogSurface is the headless surface: it keeps the last frame and logs one
// summary line every Every frames.
type LogSurface struct {
	Every uint64

	log   zerolog.Logger
	mu    sync.Mutex
	count uint64
	last  viewer.Frame
}

// NewLogSurface logs every n-th frame; n of 0 disables logging.
func NewLogSurface(n uint64) *LogSurface {
	return &LogSurface{
		Every: n,
		log:   log.With().Str("component", "surface").Logger(),
	}
}

func (s *LogSurface) Present(f viewer.Frame) error {
	s.mu.Lock()
	s.count++
	s.last = f
	n := s.count
	s.mu.Unlock()

	if s.Every == 0 || n%s.Every != 0 {
		return nil
	}
	ev := s.log.Info().
		Uint64("frame", n).
		Str("scene", f.Scene).
		Float64("root_yaw", RootYaw(f))
	if f.HaveHeading {
		ev = ev.Float64("heading", f.Heading)
	}
	ev.Msg("surface: frame")
	return nil
}

// Last returns the last presented frame and the number of frames presented.
func (s *LogSurface) Last() (viewer.Frame, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.count
}

// RasterSurface draws each frame into an in-memory RGBA image.
type RasterSurface struct {
	mu        sync.Mutex
	img       *image.RGBA
	projector Projector
	ink       color.Color
}

// NewRasterSurface creates a w×h surface.
func NewRasterSurface(w, h int) *RasterSurface {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	return &RasterSurface{
		img:       img,
		projector: NewProjector(img.Bounds()),
		ink:       color.RGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff},
	}
}

func (s *RasterSurface) Present(f viewer.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	Fill(s.img, SkyRGBA(f.SkyColor()))
	DrawWireframe(s.img, s.projector, f, s.ink)
	DrawLabel(s.img, image.Pt(4, s.img.Bounds().Dy()-4), HeadingLabel(f), s.ink)
	return nil
}

// Snapshot returns a copy of the last drawn image.
func (s *RasterSurface) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}

// RootYaw extracts the rotation about Z of the frame's root transform, in
// degrees [0, 360). The unit-cube base only scales and translates, so this is
// the policy's applied angle modulo 360.
func RootYaw(f viewer.Frame) float64 {
	deg := mgl64.RadToDeg(math.Atan2(f.Root.At(1, 0), f.Root.At(0, 0)))
	for deg < 0 {
		deg += 360
	}
	for deg >= 360 {
		deg -= 360
	}
	return deg
}

// Multi presents a frame on several surfaces and returns the first error.
type Multi []viewer.Surface

func (m Multi) Present(f viewer.Frame) error {
	var first error
	for _, s := range m {
		if err := s.Present(f); err != nil && first == nil {
			first = err
		}
	}
	return first
}
