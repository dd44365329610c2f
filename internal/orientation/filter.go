// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/golang/geo/r3"
)

const (
	// MinStep replaces a non-positive or non-finite cycle time, in seconds.
	MinStep = 0.001

	// DefaultGain is the accelerometer correction strength per cycle.
	DefaultGain = 0.02
)

// SanitizeStep returns dt, or MinStep when dt is not a usable step.
func SanitizeStep(dt float64) float64 {
	if !(dt > 0) || math.IsInf(dt, 1) {
		return MinStep
	}
	return dt
}

// IntegrateGyro advances q by the body angular rate gyro (rad/s) over dt
// seconds: q += ½·q⊗(0,ω)·dt, then renormalises.
func IntegrateGyro(q Quaternion, gyro r3.Vector, dt float64) Quaternion {
	qDot := q.Mul(pure(gyro))
	return q.addScaled(qDot, 0.5*SanitizeStep(dt)).Normalize()
}

// CorrectAccel nudges q so its gravity direction moves toward the measured
// acceleration (in g). A zero vector has no direction and leaves q as is.
func CorrectAccel(q Quaternion, accel r3.Vector, gain float64) Quaternion {
	n := accel.Norm()
	if n == 0 {
		return q
	}
	a := accel.Mul(1 / n)

	// Error between measured and estimated gravity, as a body rotation.
	e := a.Cross(q.Gravity())
	return q.addScaled(q.Mul(pure(e)), gain).Normalize()
}

// Update runs one complementary filter cycle: gyro prediction followed by
// accelerometer correction. This is not a Kalman filter; it is constant
// time and allocation free.
func Update(q Quaternion, gyro, accel r3.Vector, gain, dt float64) Quaternion {
	q = IntegrateGyro(q, gyro, dt)
	return CorrectAccel(q, accel, gain)
}
