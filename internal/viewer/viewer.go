// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package viewer owns the displayed asset and hands one Frame per render to
// a Surface.
package viewer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/frame"
	"github.com/relabs-tech/heading_viewer/internal/scene"
)

// ErrNotLoaded is returned by Render before a scene is loaded.
var ErrNotLoaded = errors.New("viewer: no scene loaded")

// DefaultSkyColor is used when a scene has neither a skybox colour nor an
// environment.
var DefaultSkyColor = [4]float32{0, 0, 0, 1}

// Frame is everything a Surface needs to draw one image.
type Frame struct {
	Timestamp   int64
	Scene       string
	Object      string
	Root        mgl64.Mat4
	Bounds      scene.Box
	Skybox      scene.Skybox
	Environment string
	Heading     float64
	HaveHeading bool
}

// SkyColor resolves the background colour of the frame.
func (f Frame) SkyColor() [4]float32 {
	if f.Skybox.Color != nil {
		return *f.Skybox.Color
	}
	return DefaultSkyColor
}

// Surface is a render target.
type Surface interface {
	Present(f Frame) error
}

type nodeHider interface {
	HideNode(name string) bool
}

type emissiveDisabler interface {
	DisableEmissive()
}

// Viewer is a frame.Renderer presenting the loaded asset on a Surface.
type Viewer struct {
	surface Surface
	heading frame.HeadingSource

	mu     sync.RWMutex
	desc   scene.Descriptor
	asset  scene.Asset
	frames uint64
}

// New creates a viewer. heading may be nil.
func New(surface Surface, heading frame.HeadingSource) *Viewer {
	return &Viewer{surface: surface, heading: heading}
}

// Load fetches the asset for desc from lib and prepares it: unit-cube base
// transform, hidden nodes and emissive override.
func (v *Viewer) Load(desc scene.Descriptor, lib scene.AssetLibrary) (scene.Asset, error) {
	asset, err := lib.Load(desc.Object, desc.Format)
	if err != nil {
		return nil, fmt.Errorf("load scene %s: %w", desc.Name, err)
	}
	asset.TransformToUnitCube()

	if len(desc.HiddenNodes) > 0 {
		h, ok := asset.(nodeHider)
		for _, name := range desc.HiddenNodes {
			if !ok || !h.HideNode(name) {
				log.Warn().Str("scene", desc.Name).Str("node", name).Msg("viewer: node to hide not found")
			}
		}
	}
	if desc.DisableEmissive {
		if d, ok := asset.(emissiveDisabler); ok {
			d.DisableEmissive()
		}
	}

	v.mu.Lock()
	v.desc = desc
	v.asset = asset
	v.mu.Unlock()

	log.Info().
		Str("scene", desc.Name).
		Str("object", desc.Object).
		Str("format", string(desc.Format)).
		Str("policy", string(desc.Policy)).
		Msg("viewer: scene loaded")
	return asset, nil
}

// Descriptor returns the active scene, false before Load.
func (v *Viewer) Descriptor() (scene.Descriptor, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.desc, v.asset != nil
}

// Asset returns the loaded asset or nil.
func (v *Viewer) Asset() scene.Asset {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.asset
}

// Frames returns the number of frames presented.
func (v *Viewer) Frames() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.frames
}

// Render implements frame.Renderer.
func (v *Viewer) Render(frameTimeNanos int64) error {
	f, err := v.Snapshot(frameTimeNanos)
	if err != nil {
		return err
	}
	if err := v.surface.Present(f); err != nil {
		return fmt.Errorf("present frame: %w", err)
	}
	v.mu.Lock()
	v.frames++
	v.mu.Unlock()
	return nil
}

// Snapshot builds the frame for the given timestamp without presenting it.
func (v *Viewer) Snapshot(frameTimeNanos int64) (Frame, error) {
	v.mu.RLock()
	desc, asset := v.desc, v.asset
	v.mu.RUnlock()
	if asset == nil {
		return Frame{}, ErrNotLoaded
	}

	f := Frame{
		Timestamp:   frameTimeNanos,
		Scene:       desc.Name,
		Object:      desc.Object,
		Root:        asset.Transform(asset.Root()),
		Bounds:      asset.BoundingBox(),
		Skybox:      desc.Skybox,
		Environment: desc.Environment,
	}
	if v.heading != nil {
		f.Heading, f.HaveHeading = v.heading.CurrentHeading()
	}
	return f, nil
}
