// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Stationary calibration for the cart IMU. Averages CALIB_SAMPLES readings
// into per-axis offsets (raw counts) and reports how still the cart was.
//
// Output:
//
//	Writes CALIBRATION_FILE (or -out) as JSON; the producer loads it at
//	startup instead of calibrating on every boot.
//
// Run:
//
//	sudo ./calibration -config cart_config.txt
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/relabs-tech/cart_position/internal/app"
	"github.com/relabs-tech/cart_position/internal/config"
)

func main() {
	configPath := flag.String("config", "cart_config.txt", "Path to configuration file")
	out := flag.String("out", "", "Output file (defaults to CALIBRATION_FILE, then cart_calibration.json)")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	path := *out
	if path == "" {
		path = config.Get().CalibrationFile
	}
	if path == "" {
		path = "cart_calibration.json"
	}

	if err := app.RunCalibration(os.Stdin, path); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nCalibration complete.")
}
