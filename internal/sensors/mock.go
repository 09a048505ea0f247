// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Earth field used by the mock, in µT, world frame x=east y=north z=up.
var mockWorldField = mgl64.Vec3{0, 22, -42}

// MockManager simulates a device turning slowly on a table. Both kinds are
// always available.
type MockManager struct {
	// Interval between samples of each kind.
	Interval time.Duration
	// YawRate in degrees per second, clockwise seen from above.
	YawRate float64
	// Wobble adds a small roll/pitch oscillation.
	Wobble bool

	listeners *listenerSet
	start     time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewMockManager creates a mock sensor manager producing smoothly changing
// samples.
func NewMockManager(interval time.Duration) *MockManager {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &MockManager{
		Interval:  interval,
		YawRate:   30,
		listeners: newListenerSet(),
		start:     time.Now(),
	}
}

func (m *MockManager) DefaultSensor(kind Kind) bool {
	return kind == Accelerometer || kind == Magnetometer
}

func (m *MockManager) RegisterListener(l Listener, kind Kind) bool {
	if !m.DefaultSensor(kind) {
		return false
	}
	m.listeners.add(l, kind)
	m.ensureRunning()
	return true
}

func (m *MockManager) UnregisterListener(l Listener) {
	m.listeners.remove(l)
	if m.listeners.count() == 0 {
		m.halt()
	}
}

// Sample returns the accelerometer and magnetometer readings, in device
// coordinates, at elapsed seconds since the mock started.
func (m *MockManager) Sample(elapsed float64) (accel, mag mgl64.Vec3) {
	yaw := mgl64.DegToRad(math.Mod(elapsed*m.YawRate, 360))
	var roll, pitch float64
	if m.Wobble {
		roll = mgl64.DegToRad(5 * math.Sin(elapsed))
		pitch = mgl64.DegToRad(4 * math.Cos(elapsed*0.7))
	}
	// Device to world: yaw clockwise about up, then pitch about x, roll about y.
	devToWorld := mgl64.Rotate3DZ(-yaw).Mul3(mgl64.Rotate3DX(pitch)).Mul3(mgl64.Rotate3DY(roll))
	worldToDev := devToWorld.Transpose()
	accel = worldToDev.Mul3x1(mgl64.Vec3{0, 0, StandardGravity})
	mag = worldToDev.Mul3x1(mockWorldField)
	return accel, mag
}

func (m *MockManager) ensureRunning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stop, m.done)
}

func (m *MockManager) halt() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *MockManager) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			accel, mag := m.Sample(t.Sub(m.start).Seconds())
			m.listeners.dispatch(Event{Kind: Accelerometer, Values: accel, Timestamp: t})
			m.listeners.dispatch(Event{Kind: Magnetometer, Values: mag, Timestamp: t})
		}
	}
}
