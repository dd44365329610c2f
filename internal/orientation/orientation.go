package orientation

import (
	"math"

	"github.com/golang/geo/r3"
)

// Pose is orientation expressed as roll/pitch/yaw in degrees, for logs and
// displays. The estimator itself only works with quaternions.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Quaternion is the rotation from body frame to world frame.
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity is the sensor lying flat with no rotation.
func Identity() Quaternion {
	return Quaternion{W: 1}
}

func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize returns q scaled to unit norm. A zero quaternion is returned
// unchanged so no NaN is produced.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return q
	}
	return Quaternion{q.W / n, q.X / n, q.Y / n, q.Z / n}
}

// Mul returns the Hamilton product q ⊗ r.
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// addScaled returns q + f·r.
func (q Quaternion) addScaled(r Quaternion, f float64) Quaternion {
	return Quaternion{q.W + f*r.W, q.X + f*r.X, q.Y + f*r.Y, q.Z + f*r.Z}
}

// pure builds the quaternion (0, v).
func pure(v r3.Vector) Quaternion {
	return Quaternion{X: v.X, Y: v.Y, Z: v.Z}
}

// Gravity returns the world "up" axis (0,0,1) expressed in the body frame,
// i.e. the direction an accelerometer at rest reads, in g.
func (q Quaternion) Gravity() r3.Vector {
	return r3.Vector{
		X: 2 * (q.X*q.Z - q.W*q.Y),
		Y: 2 * (q.W*q.X + q.Y*q.Z),
		Z: q.W*q.W - q.X*q.X - q.Y*q.Y + q.Z*q.Z,
	}
}

// Rotate maps a body-frame vector into the world frame.
func (q Quaternion) Rotate(v r3.Vector) r3.Vector {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return r3.Vector{
		X: (1-2*y*y-2*z*z)*v.X + 2*(x*y-w*z)*v.Y + 2*(x*z+w*y)*v.Z,
		Y: 2*(x*y+w*z)*v.X + (1-2*x*x-2*z*z)*v.Y + 2*(y*z-w*x)*v.Z,
		Z: 2*(x*z-w*y)*v.X + 2*(y*z+w*x)*v.Y + (1-2*x*x-2*y*y)*v.Z,
	}
}

// Pose converts q to roll/pitch/yaw (ZYX order) in degrees.
func (q Quaternion) Pose() Pose {
	w, x, y, z := q.W, q.X, q.Y, q.Z

	roll := math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sinPitch := 2 * (w*y - z*x)
	if sinPitch > 1 {
		sinPitch = 1
	} else if sinPitch < -1 {
		sinPitch = -1
	}
	pitch := math.Asin(sinPitch)
	yaw := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))

	const radToDeg = 180.0 / math.Pi
	return Pose{
		Roll:  roll * radToDeg,
		Pitch: pitch * radToDeg,
		Yaw:   yaw * radToDeg,
	}
}
