// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motion turns orientation and acceleration into velocity and
// position by double integration.
//
// The integration is open loop. Accelerometer noise and residual bias make
// position drift without bound; the dead-zone and the per-cycle velocity
// damping slow that drift but never remove it. Treat positions as short
// term relative displacement, not as a fix.
package motion

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/cart_position/internal/orientation"
)

// StandardGravity converts accelerations in g to m/s².
const StandardGravity = 9.81

// Params tunes the linear motion integrator.
type Params struct {
	// AccelThreshold is the per-axis dead-zone in g. World-frame components
	// with a smaller magnitude are treated as zero.
	AccelThreshold float64
	// VelocityDamping multiplies every velocity component once per cycle.
	VelocityDamping float64
	// Gravity converts g to m/s².
	Gravity float64
}

// DefaultParams returns the reference tuning.
func DefaultParams() Params {
	return Params{
		AccelThreshold:  0.05,
		VelocityDamping: 0.995,
		Gravity:         StandardGravity,
	}
}

// State is the integrated motion of the cart in the world frame.
type State struct {
	Velocity r3.Vector // m/s
	Position r3.Vector // m
}

// LinearAcceleration removes gravity from the body-frame acceleration (g)
// and returns the remainder in the world frame, still in g.
func LinearAcceleration(q orientation.Quaternion, accel r3.Vector) r3.Vector {
	return q.Rotate(accel.Sub(q.Gravity()))
}

// DeadZone zeroes every component whose magnitude is below threshold.
func DeadZone(v r3.Vector, threshold float64) r3.Vector {
	if math.Abs(v.X) < threshold {
		v.X = 0
	}
	if math.Abs(v.Y) < threshold {
		v.Y = 0
	}
	if math.Abs(v.Z) < threshold {
		v.Z = 0
	}
	return v
}

// Integrate advances st by one cycle of dt seconds using the bias-corrected
// body-frame acceleration accel (g) and the current orientation q.
// Velocity is damped every cycle; position is not.
func Integrate(q orientation.Quaternion, accel r3.Vector, st State, p Params, dt float64) State {
	world := DeadZone(LinearAcceleration(q, accel), p.AccelThreshold)

	v := st.Velocity.Add(world.Mul(p.Gravity * dt)).Mul(p.VelocityDamping)
	return State{
		Velocity: v,
		Position: st.Position.Add(v.Mul(dt)),
	}
}
