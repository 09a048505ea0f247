// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/imu"
)

// MQTTManager receives samples published by a remote producer. Each kind is
// subscribed while it has at least one listener.
type MQTTManager struct {
	client mqtt.Client
	topics map[Kind]string

	listeners *listenerSet

	mu         sync.Mutex
	subscribed map[Kind]bool
}

// NewMQTTManager uses an already connected client. A kind whose topic is
// empty is reported as unavailable.
func NewMQTTManager(client mqtt.Client, accelTopic, magTopic string) *MQTTManager {
	topics := make(map[Kind]string)
	if accelTopic != "" {
		topics[Accelerometer] = accelTopic
	}
	if magTopic != "" {
		topics[Magnetometer] = magTopic
	}
	return &MQTTManager{
		client:     client,
		topics:     topics,
		listeners:  newListenerSet(),
		subscribed: make(map[Kind]bool),
	}
}

func (m *MQTTManager) DefaultSensor(kind Kind) bool {
	_, ok := m.topics[kind]
	return ok
}

func (m *MQTTManager) RegisterListener(l Listener, kind Kind) bool {
	topic, ok := m.topics[kind]
	if !ok {
		return false
	}
	m.listeners.add(l, kind)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribed[kind] {
		return true
	}
	token := m.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		ev, err := decodeReading(msg.Payload(), kind)
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("mqtt sensors: payload dropped")
			return
		}
		m.listeners.dispatch(ev)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("mqtt sensors: subscribe failed")
		m.listeners.removeKind(l, kind)
		return false
	}
	m.subscribed[kind] = true
	log.Info().Str("topic", topic).Stringer("kind", kind).Msg("mqtt sensors: subscribed")
	return true
}

func (m *MQTTManager) UnregisterListener(l Listener) {
	emptied := m.listeners.remove(l)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kind := range emptied {
		if !m.subscribed[kind] {
			continue
		}
		topic := m.topics[kind]
		token := m.client.Unsubscribe(topic)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("mqtt sensors: unsubscribe failed")
		}
		delete(m.subscribed, kind)
	}
}

// decodeReading parses a JSON imu.Reading. The topic decides the kind; a
// payload naming a different kind is rejected.
func decodeReading(payload []byte, kind Kind) (Event, error) {
	var r imu.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return Event{}, fmt.Errorf("unmarshal reading: %w", err)
	}
	if r.Kind != "" {
		k, err := ParseKind(r.Kind)
		if err != nil {
			return Event{}, err
		}
		if k != kind {
			return Event{}, fmt.Errorf("reading kind %s on %s topic", k, kind)
		}
	}
	ts := time.Now()
	if r.TimeNS != 0 {
		ts = time.Unix(0, r.TimeNS)
	}
	return Event{Kind: kind, Values: mgl64.Vec3{r.X, r.Y, r.Z}, Timestamp: ts}, nil
}

// ReadingFromEvent converts an event to its MQTT payload form.
func ReadingFromEvent(source string, ev Event) imu.Reading {
	return imu.Reading{
		Source: source,
		Kind:   ev.Kind.String(),
		X:      ev.Values.X(),
		Y:      ev.Values.Y(),
		Z:      ev.Values.Z(),
		TimeNS: ev.Timestamp.UnixNano(),
	}
}
