// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"
)

// ErrNoSamples is returned when a calibration is asked for zero samples.
var ErrNoSamples = errors.New("imu: calibration needs at least one sample")

// Deviation holds the per-axis standard deviation of a calibration run in
// raw counts. Large values mean the device moved while it was captured.
type Deviation struct {
	Ax float64 `json:"ax"`
	Ay float64 `json:"ay"`
	Az float64 `json:"az"`
	Gx float64 `json:"gx"`
	Gy float64 `json:"gy"`
	Gz float64 `json:"gz"`
}

// Calibration is the outcome of a stationary capture.
type Calibration struct {
	SchemaVersion int       `json:"schema_version"`
	CalibrationAt string    `json:"calibration_at"` // RFC3339
	Samples       int       `json:"samples"`
	OneG          float64   `json:"one_g"` // raw counts for 1g on the up axis
	Offsets       Offsets   `json:"offsets"`
	StdDev        Deviation `json:"stddev"`
}

// MaxGyroStdDev returns the largest gyro deviation of the run.
func (c Calibration) MaxGyroStdDev() float64 {
	return math.Max(c.StdDev.Gx, math.Max(c.StdDev.Gy, c.StdDev.Gz))
}

// Calibrate reads n samples from src, waiting interval between reads, and
// averages them into offsets. The device must be stationary with the Z axis
// pointing up; this is assumed, not verified. oneG is the raw reading for
// 1g, kept out of the Z offset so gravity is not cancelled.
func Calibrate(ctx context.Context, src Source, n int, interval time.Duration, oneG float64) (Calibration, error) {
	if n <= 0 {
		return Calibration{}, ErrNoSamples
	}

	var sum, sumSq [6]float64
	for i := 0; i < n; i++ {
		if i > 0 && interval > 0 {
			t := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return Calibration{}, ctx.Err()
			case <-t.C:
			}
		} else if err := ctx.Err(); err != nil {
			return Calibration{}, err
		}

		s, err := src.Next()
		if err != nil {
			return Calibration{}, fmt.Errorf("calibration sample %d: %w", i, err)
		}

		axes := [6]float64{
			float64(s.Ax), float64(s.Ay), float64(s.Az),
			float64(s.Gx), float64(s.Gy), float64(s.Gz),
		}
		for k, v := range axes {
			sum[k] += v
			sumSq[k] += v * v
		}
	}

	count := float64(n)
	var mean, std [6]float64
	for k := range sum {
		mean[k] = sum[k] / count
		variance := sumSq[k]/count - mean[k]*mean[k]
		if variance > 0 {
			std[k] = math.Sqrt(variance)
		}
	}

	return Calibration{
		SchemaVersion: 1,
		CalibrationAt: time.Now().Format(time.RFC3339),
		Samples:       n,
		OneG:          oneG,
		Offsets: Offsets{
			Ax: mean[0],
			Ay: mean[1],
			Az: mean[2] - oneG,
			Gx: mean[3],
			Gy: mean[4],
			Gz: mean[5],
		},
		StdDev: Deviation{
			Ax: std[0], Ay: std[1], Az: std[2],
			Gx: std[3], Gy: std[4], Gz: std[5],
		},
	}, nil
}

// SaveCalibration writes c as indented JSON.
func SaveCalibration(path string, c Calibration) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal calibration: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write calibration %s: %w", path, err)
	}
	return nil
}

// LoadCalibration reads a file written by SaveCalibration.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, fmt.Errorf("read calibration: %w", err)
	}
	var c Calibration
	if err := json.Unmarshal(data, &c); err != nil {
		return Calibration{}, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	if c.Samples <= 0 {
		return Calibration{}, fmt.Errorf("calibration %s: no samples recorded", path)
	}
	return c, nil
}
