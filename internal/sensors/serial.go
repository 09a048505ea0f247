// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/go-gl/mathgl/mgl64"
	serial "github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog/log"
)

// Transducer names carried in XDR sentences.
var xdrAxes = map[Kind][3]string{
	Accelerometer: {"ACCX", "ACCY", "ACCZ"},
	Magnetometer:  {"MAGX", "MAGY", "MAGZ"},
}

// SerialManager reads NMEA 0183 XDR sentences from a serial port, e.g.
//
//	$IIXDR,G,0.12,,ACCX,G,-0.05,,ACCY,G,9.79,,ACCZ*hh
//	$IIXDR,G,3.1,,MAGX,G,21.7,,MAGY,G,-41.9,,MAGZ*hh
//
// The port is opened with the first listener and closed with the last.
type SerialManager struct {
	PortName string
	BaudRate uint

	// open is replaced in tests.
	open func() (io.ReadWriteCloser, error)

	listeners *listenerSet

	mu   sync.Mutex
	port io.ReadWriteCloser
	done chan struct{}
}

// NewSerialManager prepares a manager for the given port; nothing is opened
// until a listener registers.
func NewSerialManager(portName string, baudRate uint) *SerialManager {
	m := &SerialManager{
		PortName:  portName,
		BaudRate:  baudRate,
		listeners: newListenerSet(),
	}
	m.open = func() (io.ReadWriteCloser, error) {
		return serial.Open(serial.OpenOptions{
			PortName:              m.PortName,
			BaudRate:              m.BaudRate,
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		})
	}
	return m
}

// DefaultSensor reports both kinds; whether the remote end actually sends
// magnetometer sentences is only known once data flows.
func (m *SerialManager) DefaultSensor(kind Kind) bool {
	_, ok := xdrAxes[kind]
	return ok
}

func (m *SerialManager) RegisterListener(l Listener, kind Kind) bool {
	if !m.DefaultSensor(kind) {
		return false
	}
	if err := m.ensureOpen(); err != nil {
		log.Error().Err(err).Str("port", m.PortName).Msg("serial sensors: open failed")
		return false
	}
	m.listeners.add(l, kind)
	return true
}

func (m *SerialManager) UnregisterListener(l Listener) {
	m.listeners.remove(l)
	if m.listeners.count() > 0 {
		return
	}
	m.mu.Lock()
	port, done := m.port, m.done
	m.port, m.done = nil, nil
	m.mu.Unlock()
	if port == nil {
		return
	}
	if err := port.Close(); err != nil {
		log.Warn().Err(err).Str("port", m.PortName).Msg("serial sensors: close failed")
	}
	<-done
}

func (m *SerialManager) ensureOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port != nil {
		return nil
	}
	port, err := m.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", m.PortName, err)
	}
	log.Info().Str("port", m.PortName).Uint("baud", m.BaudRate).Msg("serial sensors: port opened")
	m.port = port
	m.done = make(chan struct{})
	go func(r io.Reader, done chan<- struct{}) {
		defer close(done)
		if err := ScanXDR(r, m.listeners.dispatch); err != nil {
			log.Warn().Err(err).Str("port", m.PortName).Msg("serial sensors: reader stopped")
		}
	}(port, m.done)
	return nil
}

// ScanXDR reads lines from r until EOF and emits one event per complete
// axis triple found in XDR sentences. Other sentences and noise are skipped.
func ScanXDR(r io.Reader, emit func(Event)) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "$") {
			events, perr := ParseXDR(line, time.Now())
			if perr == nil {
				for _, ev := range events {
					emit(ev)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read serial line: %w", err)
		}
	}
}

// ParseXDR decodes one NMEA sentence. It returns an error for non-XDR
// sentences and for sentences without any complete axis triple.
func ParseXDR(line string, ts time.Time) ([]Event, error) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("parse nmea: %w", err)
	}
	if sentence.DataType() != nmea.TypeXDR {
		return nil, fmt.Errorf("unexpected sentence type %s", sentence.DataType())
	}
	xdr := sentence.(nmea.XDR)

	values := make(map[string]float64, len(xdr.Measurements))
	for _, ms := range xdr.Measurements {
		values[strings.ToUpper(ms.TransducerName)] = ms.Value
	}

	var events []Event
	for _, kind := range []Kind{Accelerometer, Magnetometer} {
		axes := xdrAxes[kind]
		x, okX := values[axes[0]]
		y, okY := values[axes[1]]
		z, okZ := values[axes[2]]
		if okX && okY && okZ {
			events = append(events, Event{Kind: kind, Values: mgl64.Vec3{x, y, z}, Timestamp: ts})
		}
	}
	if len(events) == 0 {
		return nil, errors.New("xdr sentence has no complete axis triple")
	}
	return events, nil
}

// FormatXDR renders an event as an XDR sentence with checksum.
func FormatXDR(ev Event) (string, error) {
	axes, ok := xdrAxes[ev.Kind]
	if !ok {
		return "", fmt.Errorf("no xdr mapping for %s", ev.Kind)
	}
	body := fmt.Sprintf("IIXDR,G,%.4f,,%s,G,%.4f,,%s,G,%.4f,,%s",
		ev.Values.X(), axes[0], ev.Values.Y(), axes[1], ev.Values.Z(), axes[2])
	return "$" + body + "*" + nmea.Checksum(body), nil
}
