// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/cart_position/internal/config"
	"github.com/relabs-tech/cart_position/internal/imu"
	"github.com/relabs-tech/cart_position/internal/motion"
	"github.com/relabs-tech/cart_position/internal/report"
	"github.com/relabs-tech/cart_position/internal/sensors"
)

// OpenSource returns the sample source selected by SAMPLE_SOURCE.
func OpenSource(cfg *config.Config) (imu.Source, error) {
	switch cfg.SampleSource {
	case config.SourceMPU9250:
		return sensors.NewMPU9250Source(cfg)
	case config.SourceSerial:
		return sensors.NewSerialSource(cfg)
	case config.SourceSim:
		sc, err := sensors.LoadScenario(cfg.SimScenarioFile)
		if err != nil {
			return nil, err
		}
		return sensors.NewSimSource(sc), nil
	default:
		return nil, fmt.Errorf("unknown sample source %q", cfg.SampleSource)
	}
}

// EstimatorSettings combines the tuning keys with a calibration.
func EstimatorSettings(cfg *config.Config, off imu.Offsets) motion.Settings {
	return motion.Settings{
		Offsets:    off,
		Scale:      imu.ScaleForRanges(cfg.IMUAccelRange, cfg.IMUGyroRange),
		FilterGain: cfg.FilterGain,
		Motion: motion.Params{
			AccelThreshold:  cfg.AccelThreshold,
			VelocityDamping: cfg.VelocityDamping,
			Gravity:         motion.StandardGravity,
		},
	}
}

// RunPositionProducer samples the IMU, runs the estimator and publishes the
// position to MQTT until SIGINT/SIGTERM.
func RunPositionProducer() error {
	log.Println("starting cart position producer")

	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- sample source ---
	src, err := OpenSource(cfg)
	if err != nil {
		return haltOnInitFailure(ctx, cfg, fmt.Errorf("open %s source: %w", cfg.SampleSource, err))
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
		// Unblocks a streaming source waiting in Next on shutdown.
		go func() {
			<-ctx.Done()
			c.Close()
		}()
	}
	log.Printf("producer: using %s sample source", cfg.SampleSource)

	// --- calibration ---
	cal, err := loadOrCalibrate(ctx, cfg, src)
	if err != nil {
		return haltOnInitFailure(ctx, cfg, err)
	}

	// --- connect to MQTT ---
	client, err := report.Connect(cfg, cfg.MQTTClientIDProducer)
	if err != nil {
		return haltOnInitFailure(ctx, cfg, err)
	}
	defer client.Disconnect(250)
	log.Printf("producer: connected to MQTT broker at %s, publishing on %s", cfg.MQTTBroker, cfg.TopicPosition)

	est := motion.NewEstimator(EstimatorSettings(cfg, cal.Offsets))
	reporter := report.NewReporter(
		time.Duration(cfg.ReportInterval)*time.Millisecond,
		report.LogSink{},
		report.NewMQTTSink(client, cfg.TopicPosition),
	)

	err = runEstimationLoop(ctx, src, est, reporter, time.Duration(cfg.IMUSampleInterval)*time.Millisecond)
	log.Println("producer: shutting down")
	return err
}

// loadOrCalibrate uses CALIBRATION_FILE when it exists and otherwise
// calibrates on the spot, which requires the cart to stand still. Simulated
// sources need no calibration.
func loadOrCalibrate(ctx context.Context, cfg *config.Config, src imu.Source) (imu.Calibration, error) {
	if cfg.SampleSource == config.SourceSim {
		log.Println("producer: sim scenarios are in calibrated counts, using zero offsets")
		return imu.Calibration{SchemaVersion: 1, Samples: 1}, nil
	}
	if cfg.CalibrationFile != "" {
		cal, err := imu.LoadCalibration(cfg.CalibrationFile)
		if err == nil {
			log.Printf("producer: loaded calibration from %s (%s, %d samples)",
				cfg.CalibrationFile, cal.CalibrationAt, cal.Samples)
			return cal, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return imu.Calibration{}, err
		}
		log.Printf("producer: %s not found, calibrating now", cfg.CalibrationFile)
	}
	return captureCalibration(ctx, cfg, src)
}

// runEstimationLoop steps the estimator once per tick and offers the
// position to the reporter. A streaming source is read back to back
// instead, so its samples never queue up behind the ticker. Self-timed
// sources are reset
// first so the first DT does not span calibration and broker connect.
// It returns nil when ctx is cancelled or the source is exhausted.
func runEstimationLoop(ctx context.Context, src imu.Source, est *motion.Estimator, reporter *report.Reporter, interval time.Duration) error {
	var tick <-chan time.Time
	if st, ok := src.(imu.Streamer); !ok || !st.Streaming() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	if r, ok := src.(imu.Resetter); ok {
		r.Reset()
	}
	reporter.Start(time.Now())

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		s, err := src.Next()
		if errors.Is(err, io.EOF) {
			log.Println("producer: sample source exhausted")
			return nil
		}
		if err != nil {
			log.Printf("producer: sample read error: %v", err)
			continue
		}

		if err := est.Step(s); err != nil {
			log.Printf("producer: cycle dropped: %v (sample %+v)", err, s)
			continue
		}

		now := time.Now()
		if reporter.Offer(now, report.FromVector(est.Position())) {
			snap := est.Snapshot()
			pose := snap.Orientation.Pose()
			log.Printf("%s tick %d: pose R=%.2f P=%.2f Y=%.2f | vel vx=%.3f vy=%.3f vz=%.3f",
				now.Format(time.RFC3339), snap.Cycles,
				pose.Roll, pose.Pitch, pose.Yaw,
				snap.Velocity.X, snap.Velocity.Y, snap.Velocity.Z,
			)
		}
	}
}

// haltOnInitFailure returns err right away unless HALT_ON_INIT_FAILURE is
// set, in which case it keeps logging err until ctx is cancelled. This
// mirrors a device that must not reboot-loop when a sensor is missing.
func haltOnInitFailure(ctx context.Context, cfg *config.Config, err error) error {
	if !cfg.HaltOnInitFailure {
		return err
	}

	ticker := time.NewTicker(time.Duration(cfg.HaltLogInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Printf("producer: init failed, halting: %v", err)
	for {
		select {
		case <-ctx.Done():
			return err
		case <-ticker.C:
			log.Printf("producer: halted: %v", err)
		}
	}
}
