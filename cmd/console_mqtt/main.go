// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/average_calibrator/internal/app"
	"github.com/relabs-tech/average_calibrator/internal/config"
)

func main() {
	configPath := flag.String("config", "calibrator_config.txt", "path to KEY=VALUE config file")
	flag.Parse()

	log.Println("starting average calibrator console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
