package imu

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
)

// Sample represents a single raw six-axis IMU reading.
type Sample struct {
	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`
	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`

	// DT is the monotonic time elapsed since the previous sample of the
	// same source.
	DT time.Duration `json:"dt_ns"`
}

// Source is anything that can provide raw samples over time: the SPI
// MPU9250, a microcontroller streaming over UART, a simulated scenario.
// Next blocks until a sample is available.
type Source interface {
	Next() (Sample, error)
}

// Resetter is implemented by sources that time samples with their own
// clock. Reset makes the next sample's DT count from now, so time spent
// outside the control loop is never integrated.
type Resetter interface {
	Reset()
}

// Streamer is implemented by sources whose Next blocks until the device
// pushes a sample. Such a source sets the pace of the control loop.
type Streamer interface {
	Streaming() bool
}

// Scale converts raw counts to physical units.
type Scale struct {
	AccelLSBPerG  float64
	GyroLSBPerDPS float64
}

// DefaultScale matches the ±2g / ±250°/s ranges the cart firmware used.
var DefaultScale = Scale{AccelLSBPerG: 16384, GyroLSBPerDPS: 131}

// ScaleForRanges returns the sensitivity for the MPU full-scale range
// selectors (0-3 for both accelerometer and gyroscope).
func ScaleForRanges(accelRange, gyroRange byte) Scale {
	return Scale{
		AccelLSBPerG:  16384 / float64(uint(1)<<(accelRange&3)),
		GyroLSBPerDPS: 131 / float64(uint(1)<<(gyroRange&3)),
	}
}

// Offsets are per-axis biases in raw counts. The Az offset excludes the 1g
// the sensor reads while lying flat.
type Offsets struct {
	Ax float64 `json:"ax_off"`
	Ay float64 `json:"ay_off"`
	Az float64 `json:"az_off"`
	Gx float64 `json:"gx_off"`
	Gy float64 `json:"gy_off"`
	Gz float64 `json:"gz_off"`
}

// Reading is a bias-corrected sample in physical units.
type Reading struct {
	Accel r3.Vector // g
	Gyro  r3.Vector // rad/s
}

// Correct removes the offsets from s and converts it with scale.
func Correct(s Sample, off Offsets, scale Scale) Reading {
	const degToRad = math.Pi / 180
	return Reading{
		Accel: r3.Vector{
			X: (float64(s.Ax) - off.Ax) / scale.AccelLSBPerG,
			Y: (float64(s.Ay) - off.Ay) / scale.AccelLSBPerG,
			Z: (float64(s.Az) - off.Az) / scale.AccelLSBPerG,
		},
		Gyro: r3.Vector{
			X: (float64(s.Gx) - off.Gx) / scale.GyroLSBPerDPS * degToRad,
			Y: (float64(s.Gy) - off.Gy) / scale.GyroLSBPerDPS * degToRad,
			Z: (float64(s.Gz) - off.Gz) / scale.GyroLSBPerDPS * degToRad,
		},
	}
}
