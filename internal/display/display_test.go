// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/heading_viewer/internal/frame"
	"github.com/relabs-tech/heading_viewer/internal/scene"
	"github.com/relabs-tech/heading_viewer/internal/viewer"
)

func TestWindowDrivesScheduler(t *testing.T) {
	w := NewWindow("test", 64, 48, 0)
	assert.Equal(t, 60, w.RefreshHz)

	v := viewer.New(w, nil)
	asset, err := v.Load(mustLookup(t, scene.SceneDrone), scene.BuiltinLibrary())
	require.NoError(t, err)
	policy, err := scene.NewPolicy(scene.PolicyContinuousSpin, asset)
	require.NoError(t, err)

	s := frame.NewScheduler(frame.Config{Choreographer: w, Policy: policy, Renderer: v})
	s.Start()
	assert.Equal(t, 1, w.tick(scene.Nanotime()))
	assert.Equal(t, 1, w.tick(scene.Nanotime()), "scheduler re-posts itself")
	s.Stop()
	assert.Equal(t, 0, w.tick(scene.Nanotime()))

	assert.Equal(t, uint64(2), v.Frames())
	snap := w.raster.Snapshot()
	assert.Equal(t, 64, snap.Bounds().Dx())
	assert.Equal(t, 48, snap.Bounds().Dy())
}

func mustLookup(t *testing.T, name string) scene.Descriptor {
	t.Helper()
	d, err := scene.DefaultCatalog().Lookup(name)
	require.NoError(t, err)
	return d
}
