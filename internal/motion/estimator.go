package motion

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/cart_position/internal/imu"
	"github.com/relabs-tech/cart_position/internal/orientation"
)

// ErrNonFinite is returned by Step when a cycle would leave NaN or Inf in
// the estimator state. The cycle is discarded.
var ErrNonFinite = errors.New("motion: cycle produced a non-finite state")

// Settings groups everything an Estimator needs besides its state.
type Settings struct {
	Offsets    imu.Offsets
	Scale      imu.Scale
	FilterGain float64
	Motion     Params
}

// Snapshot is a read-only copy of the estimator state.
type Snapshot struct {
	Orientation orientation.Quaternion
	Velocity    r3.Vector
	Position    r3.Vector
	Cycles      uint64
}

// Estimator owns the orientation and motion state of one sensor. It is not
// safe for concurrent use; confine it to the goroutine running the control
// loop.
type Estimator struct {
	settings Settings
	q        orientation.Quaternion
	state    State
	cycles   uint64
}

// NewEstimator starts at identity orientation with zero velocity and
// position. settings is fixed for the lifetime of the estimator.
func NewEstimator(settings Settings) *Estimator {
	return &Estimator{
		settings: settings,
		q:        orientation.Identity(),
	}
}

// Step runs one control cycle on a raw sample: bias correction, filter
// update, gravity removal, integration.
func (e *Estimator) Step(s imu.Sample) error {
	dt := orientation.SanitizeStep(s.DT.Seconds())
	r := imu.Correct(s, e.settings.Offsets, e.settings.Scale)

	q := orientation.Update(e.q, r.Gyro, r.Accel, e.settings.FilterGain, dt)
	st := Integrate(q, r.Accel, e.state, e.settings.Motion, dt)

	if !finiteQ(q) || !finiteV(st.Velocity) || !finiteV(st.Position) {
		return ErrNonFinite
	}

	e.q = q
	e.state = st
	e.cycles++
	return nil
}

func (e *Estimator) Orientation() orientation.Quaternion { return e.q }
func (e *Estimator) Velocity() r3.Vector                 { return e.state.Velocity }
func (e *Estimator) Position() r3.Vector                 { return e.state.Position }

func (e *Estimator) Snapshot() Snapshot {
	return Snapshot{
		Orientation: e.q,
		Velocity:    e.state.Velocity,
		Position:    e.state.Position,
		Cycles:      e.cycles,
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finiteV(v r3.Vector) bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

func finiteQ(q orientation.Quaternion) bool {
	return finite(q.W) && finite(q.X) && finite(q.Y) && finite(q.Z)
}
