// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package scene

import (
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

type modelNode struct {
	name      string
	transform mgl64.Mat4
	visible   bool
	emissive  bool
}

// Model is an in-memory Asset: a node table with a bounding box and an
// optional skeleton. Node 0 is the root.
type Model struct {
	name     string
	bounds   Box
	nodes    []modelNode
	animator *ClipAnimator
}

// NewModel creates a model whose root has the identity transform. Extra
// node names become children of the root.
func NewModel(name string, bounds Box, children ...string) *Model {
	m := &Model{name: name, bounds: bounds}
	m.nodes = append(m.nodes, modelNode{name: name, transform: mgl64.Ident4(), visible: true})
	for _, c := range children {
		m.nodes = append(m.nodes, modelNode{name: c, transform: mgl64.Ident4(), visible: true, emissive: true})
	}
	return m
}

// WithAnimator attaches a skeleton.
func (m *Model) WithAnimator(a *ClipAnimator) *Model {
	m.animator = a
	return m
}

func (m *Model) Name() string { return m.name }

func (m *Model) Root() Node { return 0 }

func (m *Model) BoundingBox() Box { return m.bounds }

func (m *Model) NodeCount() int { return len(m.nodes) }

func (m *Model) TransformToUnitCube() {
	m.nodes[0].transform = UnitCubeTransform(m.bounds)
}

func (m *Model) Transform(n Node) mgl64.Mat4 {
	if int(n) < 0 || int(n) >= len(m.nodes) {
		return mgl64.Ident4()
	}
	return m.nodes[n].transform
}

func (m *Model) SetTransform(n Node, t mgl64.Mat4) {
	if int(n) < 0 || int(n) >= len(m.nodes) {
		return
	}
	m.nodes[n].transform = t
}

func (m *Model) Animator() Animator {
	if m.animator == nil {
		return nil
	}
	return m.animator
}

// HideNode makes the named node invisible. It reports whether the node exists.
func (m *Model) HideNode(name string) bool {
	for i := range m.nodes {
		if m.nodes[i].name == name {
			m.nodes[i].visible = false
			return true
		}
	}
	return false
}

// Visible reports the visibility of node n.
func (m *Model) Visible(n Node) bool {
	if int(n) < 0 || int(n) >= len(m.nodes) {
		return false
	}
	return m.nodes[n].visible
}

// DisableEmissive zeroes the emissive factor of every node.
func (m *Model) DisableEmissive() {
	for i := range m.nodes {
		m.nodes[i].emissive = false
	}
}

// Emissive reports whether any node still emits light.
func (m *Model) Emissive() bool {
	for _, n := range m.nodes {
		if n.emissive {
			return true
		}
	}
	return false
}

// Clip is a simple skeletal animation: every bone swings about its local Z
// axis by Swing[i]·sin(2πt/Duration) degrees.
type Clip struct {
	Name     string
	Duration float64
	Loop     bool
	Swing    []float64
}

// ClipAnimator is the Animator used by Model. Bones form a chain: bone i is
// parented to bone i-1.
type ClipAnimator struct {
	clips []Clip

	mu    sync.Mutex
	local []mgl64.Mat4
	world []mgl64.Mat4
}

// NewClipAnimator creates a chain of bones at rest.
func NewClipAnimator(bones int, clips ...Clip) *ClipAnimator {
	a := &ClipAnimator{
		clips: clips,
		local: make([]mgl64.Mat4, bones),
		world: make([]mgl64.Mat4, bones),
	}
	for i := range a.local {
		a.local[i] = mgl64.Ident4()
		a.world[i] = mgl64.Ident4()
	}
	return a
}

func (a *ClipAnimator) AnimationCount() int { return len(a.clips) }

func (a *ClipAnimator) BoneCount() int { return len(a.local) }

// ApplyAnimation evaluates clip index at t. Looping clips wrap, others clamp
// to their last frame.
func (a *ClipAnimator) ApplyAnimation(index int, t float64) {
	if index < 0 || index >= len(a.clips) {
		return
	}
	c := a.clips[index]
	local := ClipTime(c, t)

	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.local {
		swing := 0.0
		if i < len(c.Swing) {
			swing = c.Swing[i]
		}
		phase := 0.0
		if c.Duration > 0 {
			phase = 2 * math.Pi * local / c.Duration
		}
		a.local[i] = mgl64.HomogRotate3DZ(mgl64.DegToRad(swing * math.Sin(phase)))
	}
}

// ClipTime maps an elapsed time onto the clip timeline.
func ClipTime(c Clip, t float64) float64 {
	if c.Duration <= 0 || t <= 0 {
		return 0
	}
	if c.Loop {
		return math.Mod(t, c.Duration)
	}
	return math.Min(t, c.Duration)
}

func (a *ClipAnimator) UpdateBoneMatrices() {
	a.mu.Lock()
	defer a.mu.Unlock()
	parent := mgl64.Ident4()
	for i := range a.local {
		a.world[i] = parent.Mul4(a.local[i])
		parent = a.world[i]
	}
}

// BonePose returns a copy of the bone matrices from the last update.
func (a *ClipAnimator) BonePose() []mgl64.Mat4 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]mgl64.Mat4(nil), a.world...)
}

// Library is an AssetLibrary of in-memory models. Each Load returns a fresh
// model.
type Library struct {
	factories map[string]func() *Model
}

// BuiltinLibrary provides placeholder models for the objects of the default
// catalog.
func BuiltinLibrary() *Library {
	return &Library{factories: map[string]func() *Model{
		VehicleObject: func() *Model {
			return NewModel(VehicleObject, Box{Min: mgl64.Vec3{-2.2, -1, 0}, Max: mgl64.Vec3{2.2, 1, 1.5}}, "body", "wheels")
		},
		HelmetObject: func() *Model {
			return NewModel(HelmetObject, Box{Min: mgl64.Vec3{-0.95, -0.9, -1}, Max: mgl64.Vec3{0.95, 0.9, 1}}, "shell", "visor").
				WithAnimator(NewClipAnimator(3, Clip{Name: "nod", Duration: 4, Loop: true, Swing: []float64{0, 8, 12}}))
		},
		DroneObject: func() *Model {
			return NewModel(DroneObject, Box{Min: mgl64.Vec3{-1.5, -1.5, -0.4}, Max: mgl64.Vec3{1.5, 1.5, 0.6}}, "frame", DroneFloorNode).
				WithAnimator(NewClipAnimator(4, Clip{Name: "rotors", Duration: 0.5, Loop: true, Swing: []float64{180, 180, 180, 180}}))
		},
	}}
}

// Register adds or replaces an object.
func (l *Library) Register(object string, factory func() *Model) {
	l.factories[object] = factory
}

// Load returns a new model for object. The format is accepted as-is since
// the models are not read from files.
func (l *Library) Load(object string, format Format) (Asset, error) {
	f, ok := l.factories[object]
	if !ok {
		return nil, fmt.Errorf("%s (%s): %w", object, format, ErrAssetNotFound)
	}
	return f(), nil
}
