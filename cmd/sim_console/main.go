// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// sim_console replays a YAML scenario through the position estimator
// offline and prints the periodic reports. No broker or hardware needed.
//
// Run:
//
//	go run ./cmd/sim_console -scenario scenarios/push_and_stop.yaml
package main

import (
	"flag"
	"log"
	"os"

	"github.com/relabs-tech/cart_position/internal/app"
	"github.com/relabs-tech/cart_position/internal/config"
)

func main() {
	configPath := flag.String("config", "", "optional configuration file for tuning keys")
	scenario := flag.String("scenario", "scenarios/push_and_stop.yaml", "path to scenario file")
	maxSamples := flag.Int("max-samples", 100000, "stop after this many samples (0 = until the scenario ends)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		if err := config.InitGlobal(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = config.Get()
	}

	if err := app.RunSimConsole(cfg, *scenario, os.Stdout, *maxSamples); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
