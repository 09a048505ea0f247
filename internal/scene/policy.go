// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package scene

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

// SpinDegreesPerSecond is the ContinuousSpin rate.
const SpinDegreesPerSecond = 20.0

// PolicyKind names a SceneUpdatePolicy variant.
type PolicyKind string

const (
	PolicyStatic         PolicyKind = "static"
	PolicyBoneAnimation  PolicyKind = "bone_animation"
	PolicyContinuousSpin PolicyKind = "continuous_spin"
	PolicySensorHeading  PolicyKind = "sensor_heading"
)

// ParsePolicyKind accepts the snake_case names, case-insensitive.
func ParsePolicyKind(s string) (PolicyKind, error) {
	k := PolicyKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case PolicyStatic, PolicyBoneAnimation, PolicyContinuousSpin, PolicySensorHeading:
		return k, nil
	}
	return "", fmt.Errorf("unknown update policy %q", s)
}

// UnmarshalYAML validates the policy name.
func (k *PolicyKind) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParsePolicyKind(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*k = parsed
	return nil
}

// ResultKind says what a policy changed on the last update.
type ResultKind int

const (
	ResultNone ResultKind = iota
	ResultRoot
	ResultPose
)

// Result describes the scene change of one update.
type Result struct {
	Kind ResultKind
	// Degrees is the rotation applied about Z for ResultRoot. Zero when only
	// the unit-cube base was restored.
	Degrees float64
	// Root is the transform written to the asset root for ResultRoot.
	Root mgl64.Mat4
}

// Policy advances scene state once per frame. elapsed is seconds since the
// frame clock origin; heading is only meaningful when haveHeading is true.
type Policy interface {
	Kind() PolicyKind
	Update(elapsed float64, heading float64, haveHeading bool) Result
}

// RotateFromUnitCube resets asset to its unit-cube base, then applies a
// rotation of degrees about Z on top of it. The base is re-derived on each
// call, so repeated calls never accumulate.
func RotateFromUnitCube(asset Asset, degrees float64) mgl64.Mat4 {
	asset.TransformToUnitCube()
	root := asset.Root()
	m := asset.Transform(root).Mul4(mgl64.HomogRotate3DZ(mgl64.DegToRad(degrees)))
	asset.SetTransform(root, m)
	return m
}

// Static leaves the scene alone.
type Static struct{}

func (Static) Kind() PolicyKind { return PolicyStatic }

func (Static) Update(float64, float64, bool) Result { return Result{Kind: ResultNone} }

// BoneAnimation plays the first animation clip of the asset.
type BoneAnimation struct {
	asset Asset
}

func (p *BoneAnimation) Kind() PolicyKind { return PolicyBoneAnimation }

func (p *BoneAnimation) Update(elapsed float64, _ float64, _ bool) Result {
	a := p.asset.Animator()
	if a == nil {
		return Result{Kind: ResultNone}
	}
	if a.AnimationCount() > 0 {
		a.ApplyAnimation(0, elapsed)
	}
	a.UpdateBoneMatrices()
	return Result{Kind: ResultPose}
}

// ContinuousSpin turns the asset about Z at SpinDegreesPerSecond. The angle
// is not wrapped.
type ContinuousSpin struct {
	asset Asset
}

func (p *ContinuousSpin) Kind() PolicyKind { return PolicyContinuousSpin }

func (p *ContinuousSpin) Update(elapsed float64, _ float64, _ bool) Result {
	deg := SpinDegreesPerSecond * elapsed
	return Result{Kind: ResultRoot, Degrees: deg, Root: RotateFromUnitCube(p.asset, deg)}
}

// SensorHeading orients the asset to the latest compass heading. Without a
// heading the asset sits at its unit-cube base.
type SensorHeading struct {
	asset Asset
}

func (p *SensorHeading) Kind() PolicyKind { return PolicySensorHeading }

func (p *SensorHeading) Update(_ float64, heading float64, haveHeading bool) Result {
	if !haveHeading {
		p.asset.TransformToUnitCube()
		return Result{Kind: ResultRoot, Root: p.asset.Transform(p.asset.Root())}
	}
	return Result{Kind: ResultRoot, Degrees: heading, Root: RotateFromUnitCube(p.asset, heading)}
}

// NewPolicy builds the variant for kind operating on asset.
func NewPolicy(kind PolicyKind, asset Asset) (Policy, error) {
	if kind != PolicyStatic && kind != "" && asset == nil {
		return nil, fmt.Errorf("policy %s: nil asset", kind)
	}
	switch kind {
	case PolicyStatic, "":
		return Static{}, nil
	case PolicyBoneAnimation:
		return &BoneAnimation{asset: asset}, nil
	case PolicyContinuousSpin:
		return &ContinuousSpin{asset: asset}, nil
	case PolicySensorHeading:
		return &SensorHeading{asset: asset}, nil
	}
	return nil, fmt.Errorf("unknown update policy %q", string(kind))
}
