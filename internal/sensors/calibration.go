// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// MagCalibration corrects raw magnetometer samples: hard-iron offset first,
// then a per-axis soft-iron scale.
type MagCalibration struct {
	Offset mgl64.Vec3 `json:"offset"`
	Scale  mgl64.Vec3 `json:"scale"`
}

// IdentityMagCalibration leaves samples unchanged.
func IdentityMagCalibration() MagCalibration {
	return MagCalibration{Scale: mgl64.Vec3{1, 1, 1}}
}

// IsIdentity reports whether Apply is a no-op.
func (c MagCalibration) IsIdentity() bool {
	return c.Offset == (mgl64.Vec3{}) && c.Scale == (mgl64.Vec3{1, 1, 1})
}

// Apply returns the corrected sample.
func (c MagCalibration) Apply(v mgl64.Vec3) mgl64.Vec3 {
	d := v.Sub(c.Offset)
	return mgl64.Vec3{d.X() * c.Scale.X(), d.Y() * c.Scale.Y(), d.Z() * c.Scale.Z()}
}

// MagCollector is a Listener accumulating the per-axis extent of
// magnetometer samples while the device is turned through all orientations.
type MagCollector struct {
	mu       sync.Mutex
	min, max mgl64.Vec3
	samples  int
}

// MagCollectorResult is the calibration estimated so far.
type MagCollectorResult struct {
	Calibration MagCalibration `json:"calibration"`
	Range       mgl64.Vec3     `json:"range"`
	Samples     int            `json:"samples"`
	// Confidence is the smallest axis range over the largest, in percent.
	Confidence float64 `json:"confidence"`
}

func (c *MagCollector) OnSensorChanged(ev Event) {
	if ev.Kind != Magnetometer {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.samples == 0 {
		c.min, c.max = ev.Values, ev.Values
	}
	for i := 0; i < 3; i++ {
		c.min[i] = math.Min(c.min[i], ev.Values[i])
		c.max[i] = math.Max(c.max[i], ev.Values[i])
	}
	c.samples++
}

// Reset discards all samples.
func (c *MagCollector) Reset() {
	c.mu.Lock()
	c.samples = 0
	c.min, c.max = mgl64.Vec3{}, mgl64.Vec3{}
	c.mu.Unlock()
}

// Result computes offsets as the centre of the sampled box and scales that
// equalise each axis range to the mean range. Axes without spread keep a
// scale of 1.
func (c *MagCollector) Result() MagCollectorResult {
	c.mu.Lock()
	minV, maxV, n := c.min, c.max, c.samples
	c.mu.Unlock()

	res := MagCollectorResult{Calibration: IdentityMagCalibration(), Samples: n}
	if n == 0 {
		return res
	}
	res.Range = maxV.Sub(minV)
	res.Calibration.Offset = maxV.Add(minV).Mul(0.5)

	avg := (res.Range.X() + res.Range.Y() + res.Range.Z()) / 3
	for i := 0; i < 3; i++ {
		if res.Range[i] > 0 {
			res.Calibration.Scale[i] = avg / res.Range[i]
		}
	}
	lo := math.Min(res.Range.X(), math.Min(res.Range.Y(), res.Range.Z()))
	hi := math.Max(res.Range.X(), math.Max(res.Range.Y(), res.Range.Z()))
	if hi > 0 {
		res.Confidence = lo / hi * 100
	}
	return res
}

// CalibratedManager wraps a Manager and corrects magnetometer events before
// they reach listeners.
type CalibratedManager struct {
	Manager
	cal MagCalibration

	mu       sync.Mutex
	wrappers map[Listener]*calibratedListener
}

type calibratedListener struct {
	l   Listener
	cal MagCalibration
}

func (w *calibratedListener) OnSensorChanged(ev Event) {
	if ev.Kind == Magnetometer {
		ev.Values = w.cal.Apply(ev.Values)
	}
	w.l.OnSensorChanged(ev)
}

// WithMagCalibration returns m unchanged for the identity calibration.
func WithMagCalibration(m Manager, cal MagCalibration) Manager {
	if cal.IsIdentity() {
		return m
	}
	return &CalibratedManager{
		Manager:  m,
		cal:      cal,
		wrappers: make(map[Listener]*calibratedListener),
	}
}

func (m *CalibratedManager) RegisterListener(l Listener, kind Kind) bool {
	m.mu.Lock()
	w, ok := m.wrappers[l]
	if !ok {
		w = &calibratedListener{l: l, cal: m.cal}
		m.wrappers[l] = w
	}
	m.mu.Unlock()
	return m.Manager.RegisterListener(w, kind)
}

func (m *CalibratedManager) UnregisterListener(l Listener) {
	m.mu.Lock()
	w, ok := m.wrappers[l]
	delete(m.wrappers, l)
	m.mu.Unlock()
	if ok {
		m.Manager.UnregisterListener(w)
	}
}
