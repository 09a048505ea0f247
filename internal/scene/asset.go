// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package scene

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrAssetNotFound is returned by an AssetLibrary for unknown objects.
var ErrAssetNotFound = errors.New("asset not found")

// Node identifies an entity inside a loaded asset.
type Node int

// Box is an axis-aligned bounding box.
type Box struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

// Center of the box.
func (b Box) Center() mgl64.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// HalfExtent is half the size of the box along each axis.
func (b Box) HalfExtent() mgl64.Vec3 {
	return b.Max.Sub(b.Min).Mul(0.5)
}

// UnitCubeTransform maps b into a 1×1×1 cube centred on the origin,
// preserving proportions. An empty box maps with unit scale.
func UnitCubeTransform(b Box) mgl64.Mat4 {
	half := b.HalfExtent()
	maxExtent := 2 * max(half.X(), half.Y(), half.Z())
	scale := 1.0
	if maxExtent > 0 {
		scale = 1 / maxExtent
	}
	c := b.Center()
	return mgl64.Scale3D(scale, scale, scale).Mul4(mgl64.Translate3D(-c.X(), -c.Y(), -c.Z()))
}

// Asset is a loaded scene handle. Parsing and geometry live behind it.
type Asset interface {
	Root() Node
	BoundingBox() Box
	// TransformToUnitCube resets the root transform to UnitCubeTransform of
	// the bounding box.
	TransformToUnitCube()
	Transform(n Node) mgl64.Mat4
	SetTransform(n Node, m mgl64.Mat4)
	// Animator returns nil for assets without animation data.
	Animator() Animator
}

// Animator evaluates the animation clips embedded in an asset.
type Animator interface {
	AnimationCount() int
	BoneCount() int
	// ApplyAnimation evaluates clip index at t seconds. Looping or clamping
	// past the clip duration is up to the animator.
	ApplyAnimation(index int, t float64)
	UpdateBoneMatrices()
}

// AssetLibrary loads the asset named by a scene descriptor.
type AssetLibrary interface {
	Load(object string, format Format) (Asset, error)
}
