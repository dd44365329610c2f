// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/cart_position/internal/imu"
)

// Segment holds constant raw readings for a stretch of the scenario.
type Segment struct {
	Name       string   `yaml:"name"`
	DurationMs int      `yaml:"duration_ms"`
	Accel      [3]int16 `yaml:"accel"`
	Gyro       [3]int16 `yaml:"gyro"`
}

// Scenario is the top-level structure of a simulation file.
type Scenario struct {
	DTMs     int       `yaml:"dt_ms"`
	Repeat   bool      `yaml:"repeat"`
	Segments []Segment `yaml:"segments"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.DTMs <= 0 {
		return nil, fmt.Errorf("scenario: dt_ms must be positive, got %d", sc.DTMs)
	}
	if len(sc.Segments) == 0 {
		return nil, errors.New("scenario: no segments")
	}
	for i, seg := range sc.Segments {
		if seg.DurationMs < sc.DTMs {
			return nil, fmt.Errorf("scenario: segment %d (%s) shorter than dt_ms", i, seg.Name)
		}
	}
	return &sc, nil
}

type simSource struct {
	sc      *Scenario
	seg     int
	emitted int
}

// NewSimSource replays a scenario sample by sample. Each segment yields
// duration_ms/dt_ms samples with DT fixed to dt_ms, independent of wall
// time. Without repeat, Next returns io.EOF after the last segment.
func NewSimSource(sc *Scenario) imu.Source {
	return &simSource{sc: sc}
}

func (s *simSource) Next() (imu.Sample, error) {
	if s.seg >= len(s.sc.Segments) {
		if !s.sc.Repeat {
			return imu.Sample{}, io.EOF
		}
		s.seg = 0
		log.Printf("sim: scenario restarted")
	}

	seg := s.sc.Segments[s.seg]
	if s.emitted == 0 {
		log.Printf("sim: segment %q (%d ms)", seg.Name, seg.DurationMs)
	}

	sample := imu.Sample{
		Ax: seg.Accel[0], Ay: seg.Accel[1], Az: seg.Accel[2],
		Gx: seg.Gyro[0], Gy: seg.Gyro[1], Gz: seg.Gyro[2],
		DT: time.Duration(s.sc.DTMs) * time.Millisecond,
	}

	s.emitted++
	if s.emitted >= seg.DurationMs/s.sc.DTMs {
		s.seg++
		s.emitted = 0
	}
	return sample, nil
}
