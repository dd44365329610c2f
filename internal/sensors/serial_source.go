// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/cart_position/internal/config"
	"github.com/relabs-tech/cart_position/internal/imu"
)

// TypeCIMU is the sentence type of the proprietary raw IMU sentence
// $PCIMU,ax,ay,az,gx,gy,gz,dt_us*CS emitted by the cart microcontroller.
const TypeCIMU = "CIMU"

// CIMU is one raw sample as carried on the UART.
type CIMU struct {
	nmea.BaseSentence
	Ax, Ay, Az int64
	Gx, Gy, Gz int64
	DTMicros   int64
}

func parseCIMU(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	p.AssertType(TypeCIMU)
	m := CIMU{
		BaseSentence: s,
		Ax:           p.Int64(0, "ax"),
		Ay:           p.Int64(1, "ay"),
		Az:           p.Int64(2, "az"),
		Gx:           p.Int64(3, "gx"),
		Gy:           p.Int64(4, "gy"),
		Gz:           p.Int64(5, "gz"),
		DTMicros:     p.Int64(6, "dt_us"),
	}
	return m, p.Err()
}

// Sample converts the sentence into a raw sample, rejecting values that do
// not fit a 16-bit register.
func (m CIMU) Sample() (imu.Sample, error) {
	raw := [6]int64{m.Ax, m.Ay, m.Az, m.Gx, m.Gy, m.Gz}
	var v [6]int16
	for i, r := range raw {
		if r < math.MinInt16 || r > math.MaxInt16 {
			return imu.Sample{}, fmt.Errorf("PCIMU field %d out of int16 range: %d", i, r)
		}
		v[i] = int16(r)
	}
	if m.DTMicros < 0 {
		return imu.Sample{}, fmt.Errorf("PCIMU negative dt: %d", m.DTMicros)
	}
	return imu.Sample{
		Ax: v[0], Ay: v[1], Az: v[2],
		Gx: v[3], Gy: v[4], Gz: v[5],
		DT: time.Duration(m.DTMicros) * time.Microsecond,
	}, nil
}

type serialSource struct {
	port   io.Closer
	reader *bufio.Reader
	parser nmea.SentenceParser
}

// NewSerialSource opens the UART the microcontroller streams $PCIMU
// sentences on.
func NewSerialSource(cfg *config.Config) (imu.Source, error) {
	serialOpts := serial.OpenOptions{
		PortName:              cfg.SerialPort,
		BaudRate:              uint(cfg.SerialBaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.SerialPort, err)
	}
	log.Printf("IMU serial port opened on %s at %d baud", serialOpts.PortName, serialOpts.BaudRate)

	src := newSerialSource(port)
	src.port = port
	return src, nil
}

func newSerialSource(r io.Reader) *serialSource {
	return &serialSource{
		reader: bufio.NewReader(r),
		parser: nmea.SentenceParser{
			CustomParsers: map[string]nmea.ParserFunc{
				TypeCIMU: parseCIMU,
			},
		},
	}
}

// Next blocks until the next $PCIMU sentence. Blank lines, other sentence
// types and noise before the first '$' are skipped; a corrupt $PCIMU
// sentence is returned as an error so the caller can skip that cycle.
func (s *serialSource) Next() (imu.Sample, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && (line == "" || err != io.EOF) {
			return imu.Sample{}, err
		}

		line = strings.TrimSpace(line)
		if i := strings.IndexByte(line, '$'); i >= 0 {
			line = line[i:]
		} else {
			continue
		}
		if !strings.HasPrefix(line, "$P"+TypeCIMU+",") {
			continue
		}

		sentence, perr := s.parser.Parse(line)
		if perr != nil {
			return imu.Sample{}, fmt.Errorf("PCIMU parse (%q): %w", line, perr)
		}
		m, ok := sentence.(CIMU)
		if !ok {
			continue
		}
		return m.Sample()
	}
}

// Streaming reports true: the microcontroller pushes sentences at its own
// rate and Next blocks until one arrives.
func (s *serialSource) Streaming() bool { return true }

func (s *serialSource) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}
