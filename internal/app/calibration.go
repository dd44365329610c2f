// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/cart_position/internal/config"
	"github.com/relabs-tech/cart_position/internal/imu"
)

// Stillness heuristics in raw counts.
const (
	stillStdGood = 3.0  // at or below: fully still
	stillStdBad  = 12.0 // at or above: the cart was moved or vibrating
	confFloor    = 0.05
)

// StillnessConfidence maps the average gyro deviation of a calibration run
// to [confFloor, 1].
func StillnessConfidence(d imu.Deviation) float64 {
	s := (d.Gx + d.Gy + d.Gz) / 3
	switch {
	case s <= stillStdGood:
		return 1.0
	case s >= stillStdBad:
		return confFloor
	default:
		t := (s - stillStdGood) / (stillStdBad - stillStdGood)
		return clamp01(1.0 - 0.95*t)
	}
}

// captureCalibration waits CALIB_SETTLE_DELAY for the cart to come to rest,
// then averages CALIB_SAMPLES samples into offsets.
func captureCalibration(ctx context.Context, cfg *config.Config, src imu.Source) (imu.Calibration, error) {
	settle := time.Duration(cfg.CalibSettleDelay) * time.Millisecond
	log.Printf("calibration: keep the cart still, starting in %v", settle)

	t := time.NewTimer(settle)
	select {
	case <-ctx.Done():
		t.Stop()
		return imu.Calibration{}, ctx.Err()
	case <-t.C:
	}

	scale := imu.ScaleForRanges(cfg.IMUAccelRange, cfg.IMUGyroRange)
	cal, err := imu.Calibrate(ctx, src, cfg.CalibSamples,
		time.Duration(cfg.CalibSampleDelay)*time.Millisecond, scale.AccelLSBPerG)
	if err != nil {
		return imu.Calibration{}, fmt.Errorf("calibration: %w", err)
	}

	conf := StillnessConfidence(cal.StdDev)
	log.Printf("calibration: %d samples, offsets ax=%.1f ay=%.1f az=%.1f gx=%.1f gy=%.1f gz=%.1f | confidence=%.2f",
		cal.Samples,
		cal.Offsets.Ax, cal.Offsets.Ay, cal.Offsets.Az,
		cal.Offsets.Gx, cal.Offsets.Gy, cal.Offsets.Gz,
		conf,
	)
	if cal.MaxGyroStdDev() >= stillStdBad {
		log.Printf("calibration: WARNING gyro deviation %.1f counts, the cart probably moved; offsets will be biased",
			cal.MaxGyroStdDev())
	}
	return cal, nil
}

// RunCalibration guides a stationary capture on the console and stores the
// result in outPath, which the producer then loads at startup.
func RunCalibration(in io.Reader, outPath string) error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("=== Cart IMU calibration ===")
	fmt.Printf("Source: %s | samples: %d every %d ms | output: %s\n",
		cfg.SampleSource, cfg.CalibSamples, cfg.CalibSampleDelay, outPath)
	fmt.Println()

	src, err := OpenSource(cfg)
	if err != nil {
		return fmt.Errorf("open %s source: %w", cfg.SampleSource, err)
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	fmt.Println("Place the cart on level ground with the sensor Z axis pointing up.")
	waitEnter(bufio.NewReader(in), "Press ENTER to start the capture...")

	cal, err := captureCalibration(ctx, cfg, src)
	if err != nil {
		return err
	}

	fmt.Printf("Accel offsets (counts): X=%.2f Y=%.2f Z=%.2f\n", cal.Offsets.Ax, cal.Offsets.Ay, cal.Offsets.Az)
	fmt.Printf("Gyro offsets (counts):  X=%.2f Y=%.2f Z=%.2f\n", cal.Offsets.Gx, cal.Offsets.Gy, cal.Offsets.Gz)
	fmt.Printf("Gyro std dev (counts):  X=%.2f Y=%.2f Z=%.2f | confidence=%.2f\n",
		cal.StdDev.Gx, cal.StdDev.Gy, cal.StdDev.Gz, StillnessConfidence(cal.StdDev))

	if err := imu.SaveCalibration(outPath, cal); err != nil {
		return err
	}
	fmt.Printf("\nWrote: %s\n", outPath)
	return nil
}

func waitEnter(in *bufio.Reader, prompt string) {
	fmt.Print(prompt)
	_, _ = in.ReadString('\n')
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
