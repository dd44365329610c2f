package motion

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/cart_position/internal/imu"
	"github.com/relabs-tech/cart_position/internal/orientation"
)

const tolerance = 1e-6

func nearV(a, b r3.Vector) bool {
	return math.Abs(a.X-b.X) <= tolerance && math.Abs(a.Y-b.Y) <= tolerance && math.Abs(a.Z-b.Z) <= tolerance
}

func defaultSettings(off imu.Offsets) Settings {
	return Settings{
		Offsets:    off,
		Scale:      imu.DefaultScale,
		FilterGain: orientation.DefaultGain,
		Motion:     DefaultParams(),
	}
}

func TestDeadZone(t *testing.T) {
	got := DeadZone(r3.Vector{X: 0.049, Y: -0.05, Z: -0.0001}, 0.05)
	want := r3.Vector{X: 0, Y: -0.05, Z: 0}
	if got != want {
		t.Errorf("DeadZone = %+v, want %+v", got, want)
	}
}

func TestGravityCancellationWhenFlat(t *testing.T) {
	q := orientation.Identity()
	if lin := LinearAcceleration(q, r3.Vector{Z: 1}); lin != (r3.Vector{}) {
		t.Errorf("linear acceleration at rest = %+v", lin)
	}

	// Small residual noise stays inside the dead-zone.
	st := Integrate(q, r3.Vector{X: 0.01, Y: -0.02, Z: 1.03}, State{}, DefaultParams(), 0.01)
	if st != (State{}) {
		t.Errorf("state after noisy rest cycle = %+v", st)
	}
}

func TestGravityCancellationWhenTilted(t *testing.T) {
	// Sensor rolled 30° and at rest: it reads gravity in its own frame.
	q := orientation.Quaternion{W: math.Cos(math.Pi / 12), X: math.Sin(math.Pi / 12)}
	lin := LinearAcceleration(q, q.Gravity())
	if !nearV(lin, r3.Vector{}) {
		t.Errorf("linear acceleration = %+v", lin)
	}
}

func TestDampingConvergence(t *testing.T) {
	p := DefaultParams()
	q := orientation.Identity()
	st := State{Velocity: r3.Vector{X: 2}}

	prev := st.Velocity.X
	for i := 0; i < 2000; i++ {
		st = Integrate(q, r3.Vector{Z: 1}, st, p, 0.01)
		v := st.Velocity.X
		if v > prev || v < 0 {
			t.Fatalf("cycle %d: velocity %g after %g", i, v, prev)
		}
		if st.Velocity.Y != 0 || st.Velocity.Z != 0 {
			t.Fatalf("cycle %d: velocity leaked to other axes: %+v", i, st.Velocity)
		}
		prev = v
	}
	if prev > 2*math.Pow(0.995, 2000)+tolerance {
		t.Errorf("velocity after 2000 cycles = %g", prev)
	}
}

func TestDeadZoneContributesNothing(t *testing.T) {
	p := DefaultParams()
	q := orientation.Identity()
	v0 := r3.Vector{X: 0.3, Y: -0.7, Z: 0.1}

	subThreshold := []r3.Vector{
		{X: 0.049, Z: 1},
		{Y: -0.049, Z: 1},
		{X: 0.02, Y: 0.03, Z: 1.04},
		{X: -0.0499, Y: 0.0499, Z: 0.9501},
	}
	for _, a := range subThreshold {
		st := Integrate(q, a, State{Velocity: v0}, p, 0.01)
		damped := v0.Mul(p.VelocityDamping)
		if st.Velocity.Sub(damped) != (r3.Vector{}) {
			t.Errorf("accel %+v: velocity %+v, want exactly %+v", a, st.Velocity, damped)
		}
	}
}

func TestIntegrateAboveThreshold(t *testing.T) {
	p := Params{AccelThreshold: 0.05, VelocityDamping: 1, Gravity: StandardGravity}
	q := orientation.Identity()
	st := State{}
	// 0.1g forward for one second.
	for i := 0; i < 100; i++ {
		st = Integrate(q, r3.Vector{X: 0.1, Z: 1}, st, p, 0.01)
	}
	if math.Abs(st.Velocity.X-0.981) > tolerance {
		t.Errorf("velocity = %+v, want 0.981 m/s", st.Velocity)
	}
	// Semi-implicit Euler: sum of k·a·dt·dt for k = 1..100.
	wantX := 0.1 * StandardGravity * 0.01 * 0.01 * 5050
	if math.Abs(st.Position.X-wantX) > tolerance {
		t.Errorf("position = %+v, want x=%g", st.Position, wantX)
	}
}

func TestEstimatorEndToEndAtRest(t *testing.T) {
	e := NewEstimator(defaultSettings(imu.Offsets{}))
	s := imu.Sample{Az: 16384, DT: 10 * time.Millisecond}

	for i := 0; i < 100; i++ {
		if err := e.Step(s); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}

	q := e.Orientation()
	id := orientation.Identity()
	if math.Abs(q.W-id.W) > tolerance || math.Abs(q.X) > tolerance || math.Abs(q.Y) > tolerance || math.Abs(q.Z) > tolerance {
		t.Errorf("orientation = %+v, want identity", q)
	}
	if !nearV(e.Position(), r3.Vector{}) {
		t.Errorf("position = %+v, want origin", e.Position())
	}
	if snap := e.Snapshot(); snap.Cycles != 100 {
		t.Errorf("cycles = %d", snap.Cycles)
	}
}

func TestEstimatorCalibratedRestIsStable(t *testing.T) {
	// The raw reading captured during calibration, fed back in, is a
	// motionless sample: nothing may move.
	raw := imu.Sample{Ax: 120, Ay: -80, Az: 16384 + 200, Gx: 14, Gy: -9, Gz: 3, DT: 5 * time.Millisecond}
	off := imu.Offsets{Ax: 120, Ay: -80, Az: 200, Gx: 14, Gy: -9, Gz: 3}
	e := NewEstimator(defaultSettings(off))

	for i := 0; i < 5000; i++ {
		if err := e.Step(raw); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	if q := e.Orientation(); q != orientation.Identity() {
		t.Errorf("orientation = %+v, want identity", q)
	}
	if v := e.Velocity(); v != (r3.Vector{}) {
		t.Errorf("velocity = %+v", v)
	}
	if p := e.Position(); p != (r3.Vector{}) {
		t.Errorf("position = %+v", p)
	}
}

func TestEstimatorNonPositiveStepUsesFloor(t *testing.T) {
	// 0.2g along X with dt=0 must integrate over MinStep.
	p := DefaultParams()
	p.VelocityDamping = 1
	e := NewEstimator(Settings{Scale: imu.DefaultScale, Motion: p})

	if err := e.Step(imu.Sample{Ax: 3277, Az: 16384}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	want := (3277.0 / 16384) * StandardGravity * orientation.MinStep
	if v := e.Velocity(); math.Abs(v.X-want) > tolerance {
		t.Errorf("velocity = %+v, want x=%g", v, want)
	}
}

func TestEstimatorRejectsNonFiniteCycle(t *testing.T) {
	e := NewEstimator(Settings{Motion: DefaultParams()}) // zero scale divides by zero
	before := e.Snapshot()

	err := e.Step(imu.Sample{DT: 10 * time.Millisecond})
	if !errors.Is(err, ErrNonFinite) {
		t.Fatalf("err = %v, want ErrNonFinite", err)
	}
	if after := e.Snapshot(); after != before {
		t.Errorf("state changed on rejected cycle: %+v", after)
	}
}

func TestEstimatorZeroAccelIsFreeFall(t *testing.T) {
	// A zero corrected reading is weightlessness, not rest: gravity removal
	// leaves -g on Z.
	e := NewEstimator(defaultSettings(imu.Offsets{}))
	if err := e.Step(imu.Sample{DT: 10 * time.Millisecond}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if q := e.Orientation(); q != orientation.Identity() {
		t.Errorf("orientation = %+v, want identity", q)
	}
	v := e.Velocity()
	if v.X != 0 || v.Y != 0 || v.Z >= 0 {
		t.Errorf("velocity = %+v, want falling on Z only", v)
	}
	want := -StandardGravity * 0.01 * DefaultParams().VelocityDamping
	if math.Abs(v.Z-want) > tolerance {
		t.Errorf("vz = %g, want %g", v.Z, want)
	}
}
