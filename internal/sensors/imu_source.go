// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

// accelCountsPerG is the MPU9250 sensitivity at the ±2g power-on range.
const accelCountsPerG = 16384.0

// accelReader is the part of the MPU9250 driver the manager polls.
type accelReader interface {
	GetAccelerationX() (int16, error)
	GetAccelerationY() (int16, error)
	GetAccelerationZ() (int16, error)
}

// IMUManager polls an MPU9250 over SPI. Only the accelerometer is exposed;
// the magnetometer is reported missing so heading emission never starts.
type IMUManager struct {
	SPIDevice string
	CSPin     string
	Interval  time.Duration

	// connect is replaced in tests.
	connect func() (accelReader, error)

	listeners *listenerSet

	mu   sync.Mutex
	dev  accelReader
	stop chan struct{}
	done chan struct{}
}

// NewIMUManager prepares the manager; the device is initialised on first
// registration.
func NewIMUManager(spiDev, csPin string, interval time.Duration) *IMUManager {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	m := &IMUManager{
		SPIDevice: spiDev,
		CSPin:     csPin,
		Interval:  interval,
		listeners: newListenerSet(),
	}
	m.connect = m.connectMPU9250
	return m
}

func (m *IMUManager) DefaultSensor(kind Kind) bool {
	return kind == Accelerometer
}

func (m *IMUManager) RegisterListener(l Listener, kind Kind) bool {
	if !m.DefaultSensor(kind) {
		return false
	}
	if err := m.ensureRunning(); err != nil {
		log.Error().Err(err).Str("spi", m.SPIDevice).Msg("imu sensors: device unavailable")
		return false
	}
	m.listeners.add(l, kind)
	return true
}

func (m *IMUManager) UnregisterListener(l Listener) {
	m.listeners.remove(l)
	if m.listeners.count() > 0 {
		return
	}
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

// connectMPU9250 brings up the periph host, the chip-select pin and the SPI
// transport, then initialises and calibrates the chip.
func (m *IMUManager) connectMPU9250() (accelReader, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	cs := gpioreg.ByName(m.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("CS pin %q not found", m.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(m.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("SPI transport (%s): %w", m.SPIDevice, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("initialization: %w", err)
	}
	if err := dev.Calibrate(); err != nil {
		log.Warn().Err(err).Str("spi", m.SPIDevice).Msg("imu sensors: calibration failed, continuing uncalibrated")
	}
	log.Info().Str("spi", m.SPIDevice).Str("cs", m.CSPin).Msg("imu sensors: MPU9250 ready (accelerometer only)")
	return dev, nil
}

func (m *IMUManager) ensureRunning() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return nil
	}
	if m.dev == nil {
		dev, err := m.connect()
		if err != nil {
			return err
		}
		m.dev = dev
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.poll(m.dev, m.stop, m.done)
	return nil
}

func (m *IMUManager) poll(dev accelReader, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			v, err := readAccel(dev)
			if err != nil {
				log.Warn().Err(err).Msg("imu sensors: read failed")
				continue
			}
			m.listeners.dispatch(Event{Kind: Accelerometer, Values: v, Timestamp: t})
		}
	}
}

// readAccel returns the acceleration in m/s².
func readAccel(dev accelReader) (mgl64.Vec3, error) {
	ax, err := dev.GetAccelerationX()
	if err != nil {
		return mgl64.Vec3{}, fmt.Errorf("accel X: %w", err)
	}
	ay, err := dev.GetAccelerationY()
	if err != nil {
		return mgl64.Vec3{}, fmt.Errorf("accel Y: %w", err)
	}
	az, err := dev.GetAccelerationZ()
	if err != nil {
		return mgl64.Vec3{}, fmt.Errorf("accel Z: %w", err)
	}
	scale := StandardGravity / accelCountsPerG
	return mgl64.Vec3{float64(ax) * scale, float64(ay) * scale, float64(az) * scale}, nil
}
