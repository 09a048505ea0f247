// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package render holds the viewer surfaces and the wireframe rasteriser they
// share. The asset is drawn as its transformed bounding box plus a nose line
// pointing along the model's +Y axis, seen from above.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/relabs-tech/heading_viewer/internal/scene"
	"github.com/relabs-tech/heading_viewer/internal/viewer"
)

// boxEdges index pairs of corners as returned by corners.
var boxEdges = [12][2]int{
	{0, 1}, {1, 3}, {3, 2}, {2, 0}, // bottom
	{4, 5}, {5, 7}, {7, 6}, {6, 4}, // top
	{0, 4}, {1, 5}, {2, 6}, {3, 7}, // sides
}

// Projector maps scene coordinates onto an image, orthographic, looking down
// the Z axis with north (+Y) up. Tilt leans the camera towards the viewer so
// height shows as vertical offset.
type Projector struct {
	Bounds image.Rectangle
	Tilt   float64 // radians
	Scale  float64 // pixels per scene unit
}

// NewProjector fits the unit cube into bounds.
func NewProjector(bounds image.Rectangle) Projector {
	size := math.Min(float64(bounds.Dx()), float64(bounds.Dy()))
	return Projector{
		Bounds: bounds,
		Tilt:   mgl64.DegToRad(25),
		Scale:  0.55 * size,
	}
}

// Project transforms v by root and returns the pixel it lands on.
func (p Projector) Project(root mgl64.Mat4, v mgl64.Vec3) image.Point {
	world := root.Mul4x1(v.Vec4(1)).Vec3()
	view := mgl64.Rotate3DX(-p.Tilt).Mul3x1(world)
	c := p.Bounds.Min.Add(image.Pt(p.Bounds.Dx()/2, p.Bounds.Dy()/2))
	return image.Pt(
		c.X+int(math.Round(view.X()*p.Scale)),
		c.Y-int(math.Round(view.Y()*p.Scale)),
	)
}

func corners(b scene.Box) [8]mgl64.Vec3 {
	var out [8]mgl64.Vec3
	for i := range out {
		x, y, z := b.Min.X(), b.Min.Y(), b.Min.Z()
		if i&1 != 0 {
			x = b.Max.X()
		}
		if i&2 != 0 {
			y = b.Max.Y()
		}
		if i&4 != 0 {
			z = b.Max.Z()
		}
		out[i] = mgl64.Vec3{x, y, z}
	}
	return out
}

// ProjectFrame returns the projected box corners and the nose line of f.
func (p Projector) ProjectFrame(f viewer.Frame) (pts [8]image.Point, nose [2]image.Point) {
	for i, c := range corners(f.Bounds) {
		pts[i] = p.Project(f.Root, c)
	}
	center := f.Bounds.Center()
	front := mgl64.Vec3{center.X(), f.Bounds.Max.Y() + 0.25*(f.Bounds.Max.Y()-f.Bounds.Min.Y()), center.Z()}
	nose[0] = p.Project(f.Root, center)
	nose[1] = p.Project(f.Root, front)
	return pts, nose
}

// DrawWireframe draws the frame's box and nose onto dst with c.
func DrawWireframe(dst draw.Image, p Projector, f viewer.Frame, c color.Color) {
	pts, nose := p.ProjectFrame(f)
	for _, e := range boxEdges {
		DrawLine(dst, pts[e[0]], pts[e[1]], c)
	}
	DrawLine(dst, nose[0], nose[1], c)
}

// DrawLine rasterises a line with Bresenham's algorithm. Pixels outside dst
// are skipped.
func DrawLine(dst draw.Image, a, b image.Point, c color.Color) {
	bounds := dst.Bounds()
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		if (image.Point{x, y}).In(bounds) {
			dst.Set(x, y, c)
		}
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Fill paints the whole of dst with c.
func Fill(dst draw.Image, c color.Color) {
	draw.Draw(dst, dst.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
}

// DrawLabel writes text with its baseline at pt.
func DrawLabel(dst draw.Image, pt image.Point, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  &image.Uniform{c},
		Face: basicfont.Face7x13,
		Dot:  fixed.P(pt.X, pt.Y),
	}
	d.DrawString(text)
}

// HeadingLabel formats the heading line shown on surfaces.
func HeadingLabel(f viewer.Frame) string {
	if !f.HaveHeading {
		return "HDG ---.--"
	}
	return fmt.Sprintf("HDG %6.2f", f.Heading)
}

// SkyRGBA converts a linear [0,1] colour to 8-bit RGBA.
func SkyRGBA(c [4]float32) color.RGBA {
	ch := func(v float32) uint8 {
		return uint8(math.Round(mgl64.Clamp(float64(v), 0, 1) * 255))
	}
	return color.RGBA{R: ch(c[0]), G: ch(c[1]), B: ch(c[2]), A: ch(c[3])}
}
