// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/sensors"
)

// Options tune an Estimator.
type Options struct {
	// Rotation replaces RotationMatrix, mainly for tests.
	Rotation RotationFunc
}

// Estimator keeps the latest accelerometer and magnetometer sample and
// recomputes the orientation on every new sample of either kind.
//
// Samples may arrive on any goroutine. The computed State is published
// through an atomic pointer, so readers never see a partial update.
type Estimator struct {
	rotation RotationFunc

	mu        sync.Mutex
	accel     mgl64.Vec3
	mag       mgl64.Vec3
	haveAccel bool
	haveMag   bool
	// lastRotation is kept when RotationFunc rejects a pair.
	lastRotation mgl64.Mat3

	state atomic.Pointer[State]

	subsMu  sync.Mutex
	subs    map[int]chan float64
	nextSub int

	mgrMu   sync.Mutex
	manager sensors.Manager
}

// NewEstimator returns an estimator with no samples.
func NewEstimator(opts Options) *Estimator {
	rot := opts.Rotation
	if rot == nil {
		rot = RotationMatrix
	}
	return &Estimator{
		rotation: rot,
		subs:     make(map[int]chan float64),
	}
}

// OnAccelerometerSample stores v as the latest gravity sample.
func (e *Estimator) OnAccelerometerSample(v mgl64.Vec3) {
	e.mu.Lock()
	e.accel = v
	e.haveAccel = true
	st, ok := e.recomputeLocked()
	if ok {
		e.state.Store(&st)
	}
	e.mu.Unlock()
	if ok {
		e.notify(st.Heading)
	}
}

// OnMagnetometerSample stores v as the latest geomagnetic sample.
func (e *Estimator) OnMagnetometerSample(v mgl64.Vec3) {
	e.mu.Lock()
	e.mag = v
	e.haveMag = true
	st, ok := e.recomputeLocked()
	if ok {
		e.state.Store(&st)
	}
	e.mu.Unlock()
	if ok {
		e.notify(st.Heading)
	}
}

// OnSensorChanged implements sensors.Listener.
func (e *Estimator) OnSensorChanged(ev sensors.Event) {
	switch ev.Kind {
	case sensors.Accelerometer:
		e.OnAccelerometerSample(ev.Values)
	case sensors.Magnetometer:
		e.OnMagnetometerSample(ev.Values)
	}
}

// recomputeLocked runs the fusion. It does nothing until both kinds have
// been sampled at least once. The pair is used as-is even when one side is
// much older than the other.
func (e *Estimator) recomputeLocked() (State, bool) {
	if !e.haveAccel || !e.haveMag {
		return State{}, false
	}
	if r, ok := e.rotation(e.accel, e.mag); ok {
		e.lastRotation = r
	}
	angles := OrientationAngles(e.lastRotation)
	return State{
		Rotation: e.lastRotation,
		Angles:   angles,
		Heading:  HeadingDegrees(angles.Azimuth),
	}, true
}

// notify fans heading out to subscribers. The state itself is stored under
// mu so the latest sample always wins.
func (e *Estimator) notify(heading float64) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- heading:
		default:
		}
	}
}

// CurrentHeading returns the last computed heading in degrees, or false if
// no heading has been computed yet.
func (e *Estimator) CurrentHeading() (float64, bool) {
	st := e.state.Load()
	if st == nil {
		return 0, false
	}
	return st.Heading, true
}

// State returns the last computed orientation.
func (e *Estimator) State() (State, bool) {
	st := e.state.Load()
	if st == nil {
		return State{}, false
	}
	return *st, true
}

// Subscribe returns a channel receiving each emitted heading. Slow readers
// miss values rather than blocking sensor delivery. Call cancel to release it.
func (e *Estimator) Subscribe(buffer int) (<-chan float64, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan float64, buffer)

	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			delete(e.subs, id)
			e.subsMu.Unlock()
		})
	}
}

// RegisterListener asks m for both sensor kinds. A missing kind is logged
// and skipped; the estimator then simply never emits a heading.
func (e *Estimator) RegisterListener(m sensors.Manager) {
	e.mgrMu.Lock()
	defer e.mgrMu.Unlock()
	if e.manager != nil && e.manager != m {
		e.manager.UnregisterListener(e)
	}
	e.manager = m

	for _, kind := range []sensors.Kind{sensors.Accelerometer, sensors.Magnetometer} {
		if !m.DefaultSensor(kind) {
			log.Warn().Stringer("kind", kind).Msg("orientation: sensor not present, heading disabled")
			continue
		}
		if !m.RegisterListener(e, kind) {
			log.Warn().Stringer("kind", kind).Msg("orientation: sensor registration refused, heading disabled")
		}
	}
}

// UnregisterListener stops sensor delivery. Safe to call at any time,
// including before RegisterListener.
func (e *Estimator) UnregisterListener() {
	e.mgrMu.Lock()
	defer e.mgrMu.Unlock()
	if e.manager == nil {
		return
	}
	e.manager.UnregisterListener(e)
}
