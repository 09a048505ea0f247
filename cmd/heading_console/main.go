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
	flag.Parse()

	app.SetupLogging("info")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := config.Get()
	app.SetupLogging(cfg.LogLevel)

	log.Info().Str("topic", cfg.TopicHeading).Msg("starting heading console (MQTT subscriber)")
	if err := app.RunHeadingConsole(cfg); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
