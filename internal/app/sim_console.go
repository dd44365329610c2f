// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/relabs-tech/cart_position/internal/config"
	"github.com/relabs-tech/cart_position/internal/imu"
	"github.com/relabs-tech/cart_position/internal/motion"
	"github.com/relabs-tech/cart_position/internal/report"
	"github.com/relabs-tech/cart_position/internal/sensors"
)

// writerSink prints reports as console lines.
type writerSink struct {
	w  io.Writer
	at func() time.Duration
}

func (s writerSink) Publish(p report.Position) error {
	_, err := fmt.Fprintf(s.w, "t=%8.3fs  X=%9.4f  Y=%9.4f  Z=%9.4f\n", s.at().Seconds(), p.X, p.Y, p.Z)
	return err
}

// RunSimConsole replays a scenario through the estimator as fast as
// possible, using the scenario's own clock for report cadence. Offsets are
// zero: scenarios are written in calibrated counts. A repeating scenario is
// cut after maxSamples.
func RunSimConsole(cfg *config.Config, scenarioPath string, w io.Writer, maxSamples int) error {
	sc, err := sensors.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}
	src := sensors.NewSimSource(sc)

	est := motion.NewEstimator(EstimatorSettings(cfg, imu.Offsets{}))

	var elapsed time.Duration
	t0 := time.Now()
	reporter := report.NewReporter(
		time.Duration(cfg.ReportInterval)*time.Millisecond,
		writerSink{w: w, at: func() time.Duration { return elapsed }},
	)
	reporter.Start(t0)

	for n := 0; maxSamples <= 0 || n < maxSamples; n++ {
		s, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := est.Step(s); err != nil {
			return fmt.Errorf("sample %d: %w", n, err)
		}
		elapsed += s.DT
		reporter.Offer(t0.Add(elapsed), report.FromVector(est.Position()))
	}

	snap := est.Snapshot()
	pose := snap.Orientation.Pose()
	fmt.Fprintf(w, "final after %d cycles (%.3fs): %s  pose R=%.2f P=%.2f Y=%.2f\n",
		snap.Cycles, elapsed.Seconds(), mustJSON(report.FromVector(snap.Position)),
		pose.Roll, pose.Pitch, pose.Yaw)
	return nil
}

func mustJSON(p report.Position) string {
	b, _ := p.MarshalJSON()
	return string(b)
}
