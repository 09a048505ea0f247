// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/app"
	"github.com/relabs-tech/heading_viewer/internal/config"
)

func main() {
	configPath := flag.String("config", "./heading_viewer.config", "path to configuration file")
	scene := flag.String("scene", "", "scene to show, overrides SCENE")
	flag.Parse()

	app.SetupLogging("info")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := *config.Get()
	app.SetupLogging(cfg.LogLevel)
	if *scene != "" {
		cfg.Scene = *scene
	}

	log.Info().Str("scene", cfg.Scene).Msg("starting heading viewer")
	if err := app.RunViewer(&cfg); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
