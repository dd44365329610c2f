package sensors

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"periph.io/x/devices/v3/mpu9250"

	"github.com/relabs-tech/cart_position/internal/imu"
)

func TestSerialSourceParsesPCIMU(t *testing.T) {
	stream := strings.Join([]string{
		"garbage from a half-read line",
		"",
		"$GPRMC,noise",
		"$PCIMU,120,-340,16500,12,-7,3,10000*6E",
		"\x00\x00$PCIMU,0,0,16384,0,0,0,2500*61",
	}, "\r\n")

	src := newSerialSource(strings.NewReader(stream))

	got, err := src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := imu.Sample{Ax: 120, Ay: -340, Az: 16500, Gx: 12, Gy: -7, Gz: 3, DT: 10 * time.Millisecond}
	if got != want {
		t.Errorf("first sample = %+v, want %+v", got, want)
	}

	got, err = src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Az != 16384 || got.DT != 2500*time.Microsecond {
		t.Errorf("second sample = %+v", got)
	}

	if _, err := src.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next at end = %v, want io.EOF", err)
	}
}

func TestSerialSourceErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"bad checksum", "$PCIMU,0,0,16384,0,0,0,2500*62\n"},
		{"out of range", "$PCIMU,40000,0,0,0,0,0,10000*5B\n"},
		{"missing fields", "$PCIMU,1,2,3*00\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newSerialSource(strings.NewReader(tt.line))
			if _, err := src.Next(); err == nil || errors.Is(err, io.EOF) {
				t.Errorf("Next(%q) = %v, want parse error", tt.line, err)
			}
		})
	}
}

const testScenario = `
dt_ms: 10
repeat: false
segments:
  - name: rest
    duration_ms: 30
    accel: [0, 0, 16384]
    gyro: [0, 0, 0]
  - name: push
    duration_ms: 20
    accel: [1638, 0, 16384]
    gyro: [0, 0, 131]
`

func TestSimSourcePlayback(t *testing.T) {
	sc, err := ParseScenario([]byte(testScenario))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	src := NewSimSource(sc)

	var got []imu.Sample
	for {
		s, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, s)
		if len(got) > 10 {
			t.Fatal("scenario did not end")
		}
	}

	if len(got) != 5 {
		t.Fatalf("got %d samples, want 5", len(got))
	}
	for i, s := range got {
		if s.DT != 10*time.Millisecond {
			t.Errorf("sample %d DT = %v", i, s.DT)
		}
	}
	if got[2].Ax != 0 || got[3].Ax != 1638 || got[4].Gz != 131 {
		t.Errorf("segment boundaries wrong: %+v", got)
	}
}

func TestSimSourceRepeat(t *testing.T) {
	sc, err := ParseScenario([]byte(testScenario))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	sc.Repeat = true
	src := NewSimSource(sc)

	for i := 0; i < 12; i++ {
		s, err := src.Next()
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		wantPush := i%5 >= 3
		if (s.Ax == 1638) != wantPush {
			t.Errorf("sample %d = %+v", i, s)
		}
	}
}

func TestParseScenarioErrors(t *testing.T) {
	tests := map[string]string{
		"zero dt":       "dt_ms: 0\nsegments: [{name: a, duration_ms: 10}]",
		"no segments":   "dt_ms: 10\nsegments: []",
		"short segment": "dt_ms: 10\nsegments: [{name: a, duration_ms: 5}]",
		"bad yaml":      "dt_ms: [",
		"out of range":  "dt_ms: 10\nsegments: [{name: a, duration_ms: 10, accel: [70000, 0, 0]}]",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseScenario([]byte(doc)); err == nil {
				t.Errorf("ParseScenario(%q) succeeded", doc)
			}
		})
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(testScenario), 0o644); err != nil {
		t.Fatal(err)
	}
	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if sc.DTMs != 10 || len(sc.Segments) != 2 || sc.Segments[1].Name != "push" {
		t.Errorf("scenario = %+v", sc)
	}
	if _, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStopwatchLap(t *testing.T) {
	t0 := time.Now()
	now := t0
	w := stopwatch{now: func() time.Time { return now }, last: t0}

	now = t0.Add(10 * time.Millisecond)
	if d := w.lap(); d != 10*time.Millisecond {
		t.Errorf("lap = %v", d)
	}
	now = now.Add(3 * time.Millisecond)
	if d := w.lap(); d != 3*time.Millisecond {
		t.Errorf("lap = %v", d)
	}
}

func TestMPU9250SourceResetRestartsClock(t *testing.T) {
	t0 := time.Now()
	now := t0
	s := &mpu9250Source{watch: stopwatch{now: func() time.Time { return now }, last: t0}}

	// Calibration and broker connect took five seconds.
	now = t0.Add(5 * time.Second)
	s.Reset()

	now = now.Add(10 * time.Millisecond)
	if d := s.watch.lap(); d != 10*time.Millisecond {
		t.Errorf("first lap after Reset = %v, want 10ms", d)
	}
}

func TestCheckSelfTest(t *testing.T) {
	pass := &mpu9250.SelfTestResult{}
	pass.AccelDeviation.X = 3.5
	pass.AccelDeviation.Z = -9
	pass.GyroDeviation.Y = 13.9
	if err := checkSelfTest(pass); err != nil {
		t.Errorf("within limits: %v", err)
	}

	tests := []struct {
		name string
		set  func(r *mpu9250.SelfTestResult)
	}{
		{"gyro X high", func(r *mpu9250.SelfTestResult) { r.GyroDeviation.X = 60 }},
		{"gyro Z low", func(r *mpu9250.SelfTestResult) { r.GyroDeviation.Z = -20 }},
		{"accel Y just over", func(r *mpu9250.SelfTestResult) { r.AccelDeviation.Y = 14.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &mpu9250.SelfTestResult{}
			tt.set(r)
			if err := checkSelfTest(r); err == nil || !strings.Contains(err.Error(), "self-test failed") {
				t.Errorf("checkSelfTest = %v, want self-test failure", err)
			}
		})
	}
}

func TestSerialSourceIsStreaming(t *testing.T) {
	var src imu.Source = newSerialSource(strings.NewReader(""))
	st, ok := src.(imu.Streamer)
	if !ok || !st.Streaming() {
		t.Error("serial source must pace the control loop")
	}
	if _, ok := NewSimSource(&Scenario{DTMs: 10}).(imu.Streamer); ok {
		t.Error("sim source must follow the control loop ticker")
	}
}
