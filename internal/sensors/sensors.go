// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors delivers raw accelerometer and magnetometer samples to
// registered listeners. Each back-end (mock, MQTT, serial, SPI IMU) is a
// Manager; samples arrive on the back-end's own goroutine.
package sensors

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// StandardGravity in m/s².
const StandardGravity = 9.80665

// Kind identifies a sensor type.
type Kind int

const (
	Accelerometer Kind = iota + 1
	Magnetometer
)

func (k Kind) String() string {
	switch k {
	case Accelerometer:
		return "accelerometer"
	case Magnetometer:
		return "magnetometer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps the wire name of a kind back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "accelerometer", "accel", "acc":
		return Accelerometer, nil
	case "magnetometer", "mag":
		return Magnetometer, nil
	}
	return 0, fmt.Errorf("unknown sensor kind %q", s)
}

// Event is one reading of one sensor.
type Event struct {
	Kind      Kind
	Values    mgl64.Vec3
	Timestamp time.Time
}

// Listener receives sensor events. Implementations must be safe to call from
// a goroutine other than the one that registered them.
type Listener interface {
	OnSensorChanged(ev Event)
}

// Manager is a source of sensor events.
type Manager interface {
	// DefaultSensor reports whether the back-end can deliver this kind.
	DefaultSensor(kind Kind) bool
	// RegisterListener starts delivering events of kind to l. It returns
	// false when the kind is not available.
	RegisterListener(l Listener, kind Kind) bool
	// UnregisterListener stops all deliveries to l. Unknown listeners are ignored.
	UnregisterListener(l Listener)
}

// listenerSet is the registration bookkeeping shared by all managers.
type listenerSet struct {
	mu    sync.RWMutex
	byKnd map[Kind][]Listener
}

func newListenerSet() *listenerSet {
	return &listenerSet{byKnd: make(map[Kind][]Listener)}
}

// add registers l for kind and returns the number of listeners of that kind
// before the call.
func (s *listenerSet) add(l Listener, kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := len(s.byKnd[kind])
	for _, existing := range s.byKnd[kind] {
		if existing == l {
			return prev
		}
	}
	s.byKnd[kind] = append(s.byKnd[kind], l)
	return prev
}

// remove drops l from every kind and returns the kinds left without listeners.
func (s *listenerSet) remove(l Listener) []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var emptied []Kind
	for kind, ls := range s.byKnd {
		kept := ls[:0]
		removed := false
		for _, existing := range ls {
			if existing == l {
				removed = true
				continue
			}
			kept = append(kept, existing)
		}
		if len(kept) == 0 {
			delete(s.byKnd, kind)
			if removed {
				emptied = append(emptied, kind)
			}
			continue
		}
		s.byKnd[kind] = kept
	}
	return emptied
}

// removeKind drops l from kind only.
func (s *listenerSet) removeKind(l Listener, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.byKnd[kind]
	kept := ls[:0]
	for _, existing := range ls {
		if existing != l {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(s.byKnd, kind)
		return
	}
	s.byKnd[kind] = kept
}

func (s *listenerSet) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ls := range s.byKnd {
		n += len(ls)
	}
	return n
}

func (s *listenerSet) has(kind Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKnd[kind]) > 0
}

// dispatch delivers ev to the listeners of its kind outside the lock.
func (s *listenerSet) dispatch(ev Event) {
	s.mu.RLock()
	ls := append([]Listener(nil), s.byKnd[ev.Kind]...)
	s.mu.RUnlock()
	for _, l := range ls {
		l.OnSensorChanged(ev)
	}
}
