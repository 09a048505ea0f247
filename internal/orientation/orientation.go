// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package orientation turns accelerometer and magnetometer samples into a
// device rotation matrix, orientation angles and a compass heading.
package orientation

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// freeFallGravitySquared is the squared acceleration below which the device
// is considered in free fall and gravity cannot be trusted.
const freeFallGravitySquared = 0.01 * 9.81 * 9.81

// minFieldNorm is the smallest |E × A| accepted. Below it the device is close
// to magnetic north/south pole or the field is unusable.
const minFieldNorm = 0.1

// Pose is the canonical representation of orientation for the JSON and MQTT
// surfaces, in degrees. Yaw is the heading.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Angles are the orientation angles in radians.
//
//	Azimuth: rotation about -z, 0 when the device y axis points to magnetic north
//	Pitch:   rotation about x
//	Roll:    rotation about y
type Angles struct {
	Azimuth float64 `json:"azimuth"`
	Pitch   float64 `json:"pitch"`
	Roll    float64 `json:"roll"`
}

// State is one orientation computation.
type State struct {
	Rotation mgl64.Mat3 `json:"-"`
	Angles   Angles     `json:"angles"`
	Heading  float64    `json:"heading"`
}

// Pose converts the state to degrees.
func (s State) Pose() Pose {
	return Pose{
		Roll:  mgl64.RadToDeg(s.Angles.Roll),
		Pitch: mgl64.RadToDeg(s.Angles.Pitch),
		Yaw:   s.Heading,
	}
}

// RotationFunc computes the device-to-world rotation from a gravity and a
// geomagnetic vector. ok is false when the inputs are unusable.
type RotationFunc func(gravity, geomagnetic mgl64.Vec3) (r mgl64.Mat3, ok bool)

// RotationMatrix aligns the device with the world frame (x east, y north,
// z up) using gravity for "up" and the magnetic field for "north":
//
//	H = E × A (east), M = A × H (north), rows of R = H, M, A
//
// Both vectors are in device coordinates; units only matter for the free-fall
// check (gravity in m/s²).
func RotationMatrix(gravity, geomagnetic mgl64.Vec3) (mgl64.Mat3, bool) {
	normSqA := gravity.Dot(gravity)
	if normSqA < freeFallGravitySquared {
		return mgl64.Mat3{}, false
	}
	h := geomagnetic.Cross(gravity)
	normH := h.Len()
	if normH < minFieldNorm {
		return mgl64.Mat3{}, false
	}
	h = h.Mul(1 / normH)
	a := gravity.Mul(1 / math.Sqrt(normSqA))
	m := a.Cross(h)
	return mgl64.Mat3FromRows(h, m, a), true
}

// OrientationAngles extracts azimuth, pitch and roll from a rotation matrix
// produced by RotationMatrix.
func OrientationAngles(r mgl64.Mat3) Angles {
	return Angles{
		Azimuth: math.Atan2(r.At(0, 1), r.At(1, 1)),
		Pitch:   math.Asin(-r.At(2, 1)),
		Roll:    math.Atan2(-r.At(2, 0), r.At(2, 2)),
	}
}

// HeadingDegrees converts an azimuth in radians to a heading in [0, 360)
// rounded to two decimals, ties to even.
func HeadingDegrees(azimuth float64) float64 {
	deg := math.Mod(mgl64.RadToDeg(azimuth)+360, 360)
	rounded := math.RoundToEven(deg*100) / 100
	if rounded >= 360 {
		return 0
	}
	return rounded
}
