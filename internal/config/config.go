// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Sample sources selectable with SAMPLE_SOURCE.
const (
	SourceMPU9250 = "mpu9250"
	SourceSerial  = "serial"
	SourceSim     = "sim"
)

// SSD1306Addr is the only I2C address the OLED driver supports.
const SSD1306Addr = 0x3C

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker             string
	MQTTClientIDProducer   string
	MQTTClientIDConsole    string
	MQTTClientIDWeb        string
	MQTTClientIDDisplay    string
	MQTTUser               string
	MQTTPass               string
	MQTTCAFile             string
	MQTTInsecureSkipVerify bool

	// Topics
	TopicPosition string

	// Sample source: "mpu9250", "serial" or "sim"
	SampleSource string

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// Serial sample stream
	SerialPort     string
	SerialBaudRate int

	// Simulation
	SimScenarioFile string

	// Timing (milliseconds)
	IMUSampleInterval int
	ReportInterval    int

	// Calibration
	CalibSamples     int
	CalibSampleDelay int // milliseconds
	CalibSettleDelay int // milliseconds
	CalibrationFile  string

	// Estimator tuning
	FilterGain      float64
	AccelThreshold  float64
	VelocityDamping float64

	// Startup failure handling
	HaltOnInitFailure bool
	HaltLogInterval   int // milliseconds

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config populated with the reference tuning of the cart
// firmware. MQTT_BROKER has no default and must come from the file.
func Default() *Config {
	return &Config{
		MQTTClientIDProducer:  "cart-position-producer",
		MQTTClientIDConsole:   "cart-position-console",
		MQTTClientIDWeb:       "cart-position-web",
		MQTTClientIDDisplay:   "cart-position-display",
		TopicPosition:         "cart/position",
		SampleSource:          SourceMPU9250,
		IMUSPIDevice:          "/dev/spidev0.0",
		IMUCSPin:              "8",
		SerialBaudRate:        115200,
		IMUSampleInterval:     10,
		ReportInterval:        1000,
		CalibSamples:          1000,
		CalibSampleDelay:      2,
		CalibSettleDelay:      2000,
		FilterGain:            0.02,
		AccelThreshold:        0.05,
		VelocityDamping:       0.995,
		HaltLogInterval:       1000,
		WebServerPort:         8080,
		DisplayI2CAddr:        SSD1306Addr,
		DisplayUpdateInterval: 500,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of Default() and validates the result.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_USER":
		c.MQTTUser = value
	case "MQTT_PASS":
		c.MQTTPass = value
	case "MQTT_CA_FILE":
		c.MQTTCAFile = value
	case "MQTT_INSECURE_SKIP_VERIFY":
		return parseBool(key, value, &c.MQTTInsecureSkipVerify)

	// Topics
	case "TOPIC_POSITION":
		c.TopicPosition = value

	case "SAMPLE_SOURCE":
		switch value {
		case SourceMPU9250, SourceSerial, SourceSim:
			c.SampleSource = value
		default:
			return fmt.Errorf("SAMPLE_SOURCE must be one of %s, %s, %s, got %q", SourceMPU9250, SourceSerial, SourceSim, value)
		}

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value

	// IMU Sensor Ranges
	case "IMU_ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_GYRO_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_GYRO_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_GYRO_RANGE must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", rangeVal)
		}
		c.IMUGyroRange = byte(rangeVal)

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		return parsePositiveInt(key, value, &c.SerialBaudRate)

	// Simulation
	case "SIM_SCENARIO_FILE":
		c.SimScenarioFile = value

	// Timing
	case "IMU_SAMPLE_INTERVAL":
		return parsePositiveInt(key, value, &c.IMUSampleInterval)
	case "REPORT_INTERVAL":
		return parsePositiveInt(key, value, &c.ReportInterval)

	// Calibration
	case "CALIB_SAMPLES":
		return parsePositiveInt(key, value, &c.CalibSamples)
	case "CALIB_SAMPLE_DELAY":
		return parseNonNegativeInt(key, value, &c.CalibSampleDelay)
	case "CALIB_SETTLE_DELAY":
		return parseNonNegativeInt(key, value, &c.CalibSettleDelay)
	case "CALIBRATION_FILE":
		c.CalibrationFile = value

	// Estimator tuning
	case "FILTER_GAIN":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid FILTER_GAIN %q: %w", value, err)
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("FILTER_GAIN must be within 0-1, got %g", v)
		}
		c.FilterGain = v
	case "ACCEL_THRESHOLD":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid ACCEL_THRESHOLD %q: %w", value, err)
		}
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("ACCEL_THRESHOLD must not be negative, got %g", v)
		}
		c.AccelThreshold = v
	case "VELOCITY_DAMPING":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid VELOCITY_DAMPING %q: %w", value, err)
		}
		if math.IsNaN(v) || v <= 0 || v > 1 {
			return fmt.Errorf("VELOCITY_DAMPING must be within (0, 1], got %g", v)
		}
		c.VelocityDamping = v

	// Startup failure handling
	case "HALT_ON_INIT_FAILURE":
		return parseBool(key, value, &c.HaltOnInitFailure)
	case "HALT_LOG_INTERVAL":
		return parsePositiveInt(key, value, &c.HaltLogInterval)

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		if port <= 0 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", port)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		return parsePositiveInt(key, value, &c.DisplayUpdateInterval)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func parsePositiveInt(key, value string, dst *int) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %d", key, v)
	}
	*dst = v
	return nil
}

func parseNonNegativeInt(key, value string, dst *int) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < 0 {
		return fmt.Errorf("%s must not be negative, got %d", key, v)
	}
	*dst = v
	return nil
}

func parseBool(key, value string, dst *bool) error {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = v
	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicPosition == "" {
		return fmt.Errorf("TOPIC_POSITION must not be empty")
	}
	switch c.SampleSource {
	case SourceMPU9250:
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required for SAMPLE_SOURCE=%s", SourceMPU9250)
		}
	case SourceSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for SAMPLE_SOURCE=%s", SourceSerial)
		}
	case SourceSim:
		if c.SimScenarioFile == "" {
			return fmt.Errorf("SIM_SCENARIO_FILE is required for SAMPLE_SOURCE=%s", SourceSim)
		}
	}
	if c.DisplayI2CAddr != SSD1306Addr {
		return fmt.Errorf("DISPLAY_I2C_ADDR must be 0x%02X (the ssd1306 driver has a fixed address), got 0x%02X",
			SSD1306Addr, c.DisplayI2CAddr)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
