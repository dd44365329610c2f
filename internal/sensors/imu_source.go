// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"math"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/cart_position/internal/config"
	"github.com/relabs-tech/cart_position/internal/imu"
)

// stopwatch measures the monotonic time between consecutive samples.
type stopwatch struct {
	now  func() time.Time
	last time.Time
}

func newStopwatch() stopwatch {
	return stopwatch{now: time.Now, last: time.Now()}
}

// reset makes the next lap count from now.
func (s *stopwatch) reset() {
	s.last = s.now()
}

// lap returns the time since the previous lap (or since creation).
func (s *stopwatch) lap() time.Duration {
	t := s.now()
	d := t.Sub(s.last)
	s.last = t
	return d
}

// selfTestLimit is the InvenSense pass window for the factory-trim
// deviation of every axis, in percent.
const selfTestLimit = 14.0

// checkSelfTest fails when any accelerometer or gyroscope axis deviates
// from its factory trim by more than selfTestLimit.
func checkSelfTest(r *mpu9250.SelfTestResult) error {
	axes := []struct {
		name string
		dev  float64
	}{
		{"accel X", float64(r.AccelDeviation.X)},
		{"accel Y", float64(r.AccelDeviation.Y)},
		{"accel Z", float64(r.AccelDeviation.Z)},
		{"gyro X", float64(r.GyroDeviation.X)},
		{"gyro Y", float64(r.GyroDeviation.Y)},
		{"gyro Z", float64(r.GyroDeviation.Z)},
	}
	for _, a := range axes {
		if math.IsNaN(a.dev) || math.Abs(a.dev) > selfTestLimit {
			return fmt.Errorf("IMU: self-test failed: %s deviation %.2f%% outside ±%.0f%%", a.name, a.dev, selfTestLimit)
		}
	}
	return nil
}

type mpu9250Source struct {
	imu   *mpu9250.MPU9250
	watch stopwatch
}

// NewMPU9250Source initializes the MPU9250 over SPI with the configured
// ranges. A failed init or self-test is returned as an error: the caller
// must not start estimating with a sensor in that state.
func NewMPU9250Source(cfg *config.Config) (imu.Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.IMUCSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", cfg.IMUCSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.IMUSPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", cfg.IMUSPIDevice, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	testResult, err := dev.SelfTest()
	if err != nil {
		return nil, fmt.Errorf("IMU: self-test: %w", err)
	}
	log.Printf("  Accelerometer deviation: X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
		testResult.AccelDeviation.X, testResult.AccelDeviation.Y, testResult.AccelDeviation.Z)
	log.Printf("  Gyroscope deviation: X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
		testResult.GyroDeviation.X, testResult.GyroDeviation.Y, testResult.GyroDeviation.Z)
	if err := checkSelfTest(testResult); err != nil {
		return nil, err
	}
	log.Printf("IMU self-test passed")

	if err := dev.SetAccelRange(cfg.IMUAccelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	log.Printf("IMU: accelerometer range set to %d (±%dg)", cfg.IMUAccelRange, []int{2, 4, 8, 16}[cfg.IMUAccelRange])

	if err := dev.SetGyroRange(cfg.IMUGyroRange); err != nil {
		return nil, fmt.Errorf("IMU: set gyro range: %w", err)
	}
	log.Printf("IMU: gyroscope range set to %d (±%d°/s)", cfg.IMUGyroRange, []int{250, 500, 1000, 2000}[cfg.IMUGyroRange])

	return &mpu9250Source{imu: dev, watch: newStopwatch()}, nil
}

// Reset restarts the sample clock so the next DT excludes time spent
// outside the control loop.
func (s *mpu9250Source) Reset() {
	s.watch.reset()
}

// Next reads accelerometer and gyroscope registers.
func (s *mpu9250Source) Next() (imu.Sample, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("IMU accel X: %w", err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("IMU accel Y: %w", err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("IMU accel Z: %w", err)
	}

	gx, err := s.imu.GetRotationX()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("IMU gyro X: %w", err)
	}
	gy, err := s.imu.GetRotationY()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("IMU gyro Y: %w", err)
	}
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("IMU gyro Z: %w", err)
	}

	return imu.Sample{
		Ax: ax, Ay: ay, Az: az,
		Gx: gx, Gy: gy, Gz: gz,
		DT: s.watch.lap(),
	}, nil
}
