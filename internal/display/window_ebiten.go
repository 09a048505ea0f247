//go:build cgo

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package display

import (
	"context"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/scene"
)

// Run opens the window and blocks until it is closed or ctx is done. It must
// be called from the main goroutine.
func (w *Window) Run(ctx context.Context) error {
	ebiten.SetWindowTitle(w.Title)
	ebiten.SetWindowSize(w.size.X*2, w.size.Y*2)
	ebiten.SetTPS(w.RefreshHz)
	log.Info().Str("title", w.Title).Int("refresh_hz", w.RefreshHz).Msg("display: window opened")

	err := ebiten.RunGame(&windowGame{w: w, ctx: ctx})
	log.Info().Msg("display: window closed")
	return err
}

type windowGame struct {
	w   *Window
	ctx context.Context
	img *ebiten.Image
}

func (g *windowGame) Update() error {
	if g.ctx.Err() != nil {
		return ebiten.Termination
	}
	g.w.tick(scene.Nanotime())
	return nil
}

func (g *windowGame) Draw(screen *ebiten.Image) {
	snap := g.w.raster.Snapshot()
	if g.img == nil {
		b := snap.Bounds()
		g.img = ebiten.NewImage(b.Dx(), b.Dy())
	}
	g.img.WritePixels(snap.Pix)
	screen.DrawImage(g.img, nil)
}

func (g *windowGame) Layout(_, _ int) (int, int) {
	return g.w.size.X, g.w.size.Y
}
