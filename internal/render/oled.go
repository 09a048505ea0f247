// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package render

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/heading_viewer/internal/viewer"
)

// ssd1306.NewI2C always talks to 0x3C.
const ssd1306DefaultAddr = 0x3C

// addrBus redirects every transaction to a fixed address so displays
// strapped to 0x3D can be driven through ssd1306.NewI2C.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b addrBus) Tx(_ uint16, w, r []byte) error { return b.Bus.Tx(b.addr, w, r) }

// oledPanel is the part of *ssd1306.Dev used here.
type oledPanel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Halt() error
}

// OLEDSurface draws frames on a 128×64 SSD1306 over I2C. Frames closer than
// MinInterval to the previous draw are skipped, the bus is much slower than
// the display refresh.
type OLEDSurface struct {
	MinInterval time.Duration

	panel     oledPanel
	closer    func() error
	img       *image1bit.VerticalLSB
	projector Projector

	mu       sync.Mutex
	lastDraw time.Time
	skipped  uint64
}

// OpenOLED initialises periph, opens busName ("" for the first bus) and
// the display at addr.
func OpenOLED(busName string, addr uint16) (*OLEDSurface, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}
	var b i2c.Bus = bus
	if addr != 0 && addr != ssd1306DefaultAddr {
		b = addrBus{Bus: bus, addr: addr}
	}
	dev, err := ssd1306.NewI2C(b, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display at 0x%02X: %w", addr, err)
	}
	log.Info().Str("bus", bus.String()).Msgf("display: oled initialized at 0x%02X", addr)

	s := newOLEDSurface(dev)
	s.closer = bus.Close
	return s, nil
}

func newOLEDSurface(panel oledPanel) *OLEDSurface {
	img := image1bit.NewVerticalLSB(panel.Bounds())
	// Leave the bottom text line free for the heading.
	drawArea := img.Bounds()
	drawArea.Max.Y -= 14
	return &OLEDSurface{
		MinInterval: 100 * time.Millisecond,
		panel:       panel,
		img:         img,
		projector:   NewProjector(drawArea),
	}
}

func (s *OLEDSurface) Present(f viewer.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !s.lastDraw.IsZero() && now.Sub(s.lastDraw) < s.MinInterval {
		s.skipped++
		return nil
	}
	s.lastDraw = now

	Fill(s.img, image1bit.Off)
	DrawWireframe(s.img, s.projector, f, image1bit.On)
	DrawLabel(s.img, image.Pt(0, s.img.Bounds().Dy()-2), HeadingLabel(f), image1bit.On)
	if err := s.panel.Draw(s.img.Bounds(), s.img, image.Point{}); err != nil {
		return fmt.Errorf("oled draw: %w", err)
	}
	return nil
}

// Skipped returns the number of frames dropped by MinInterval.
func (s *OLEDSurface) Skipped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Close blanks the display and releases the bus.
func (s *OLEDSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.panel.Halt()
	if s.closer != nil {
		if cerr := s.closer(); err == nil {
			err = cerr
		}
	}
	return err
}
