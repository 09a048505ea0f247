// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

// Reading is a single raw sensor sample as published over MQTT.
// Accelerometer values are in m/s², magnetometer values in µT.
type Reading struct {
	Source string `json:"source"` // producer name, e.g. "mock", "serial", "mpu9250"
	Kind   string `json:"kind"`   // "accelerometer" or "magnetometer"

	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`

	TimeNS int64 `json:"time_ns"` // unix nanoseconds at capture
}
