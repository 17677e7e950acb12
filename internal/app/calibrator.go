// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/average_calibrator/internal/calibration"
	"github.com/relabs-tech/average_calibrator/internal/config"
	"github.com/relabs-tech/average_calibrator/internal/mock"
	"github.com/relabs-tech/average_calibrator/internal/record"
	"github.com/relabs-tech/average_calibrator/internal/sampling"
	"github.com/relabs-tech/average_calibrator/internal/tfbus"
	"github.com/relabs-tech/average_calibrator/internal/tracker"
	"github.com/relabs-tech/average_calibrator/internal/transform"
)

func chains(cfg *config.Config) (a, b sampling.Chain) {
	a = sampling.Chain{Reference: cfg.ChainAReferenceFrame, Target: cfg.ChainATargetFrame}
	b = sampling.Chain{Reference: cfg.ChainBReferenceFrame, Target: cfg.ChainBTargetFrame}
	return a, b
}

func newMockSource(cfg *config.Config) (*mock.Source, error) {
	truth, err := transform.FromXYZW(cfg.MockTruthTranslation, cfg.MockTruthRotation)
	if err != nil {
		return nil, fmt.Errorf("MOCK_TRUTH_ROTATION: %w", err)
	}
	a, b := chains(cfg)
	noise := mock.Noise{Translation: cfg.MockNoiseTranslation, Rotation: cfg.MockNoiseRotation}
	return mock.NewSource(truth, a, b, noise, uint64(os.Getpid())), nil
}

// poseSource builds the configured pose source. The returned hook, if any, must
// run on every MQTT connect.
func poseSource(ctx context.Context, cfg *config.Config) (sampling.PoseSource, func(mqtt.Client), error) {
	a, b := chains(cfg)
	switch cfg.PoseSource {
	case config.PoseSourceMQTT:
		l := tfbus.NewListener(cfg.TopicTFPrefix, cfg.PoseMaxAge)
		l.Watch(a, b)
		return l, l.OnConnect, nil

	case config.PoseSourceSerial:
		port, err := tracker.Open(tracker.PortConfig{Name: cfg.TrackerSerialPort, BaudRate: uint(cfg.TrackerBaudRate)})
		if err != nil {
			return nil, nil, err
		}
		src := tracker.NewSource(cfg.PoseMaxAge)
		go func() {
			<-ctx.Done()
			port.Close()
		}()
		go func() {
			if err := src.Run(ctx, port); err != nil && ctx.Err() == nil {
				log.Printf("tracker: stopped: %v", err)
			}
		}()
		return src, nil, nil

	case config.PoseSourceMock:
		src, err := newMockSource(cfg)
		if err != nil {
			return nil, nil, err
		}
		log.Println("calibrator: using simulated pose source")
		return src, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown pose source %q", cfg.PoseSource)
}

// RunCalibrator samples both chains on operator request, rebroadcasts the
// current calibration over MQTT and serves the operator console.
func RunCalibrator() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialised")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initial, err := transform.FromXYZW(cfg.InitialTranslation, cfg.InitialRotation)
	if err != nil {
		return fmt.Errorf("INITIAL_ROTATION: %w", err)
	}

	source, onConnect, err := poseSource(ctx, cfg)
	if err != nil {
		return err
	}

	client, err := tfbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDCalibrator, onConnect)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("calibrator: connected to MQTT broker at %s", cfg.MQTTBroker)

	hub := NewWSHub()
	a, b := chains(cfg)
	frameID, childFrameID := cfg.OutputFrames()
	store := &record.FileStore{Dir: cfg.CalibrationDir, Name: cfg.CalibrationName}

	engine := calibration.NewEngine(calibration.Config{
		Sampler: &sampling.Sampler{
			Source: source,
			ChainA: a,
			ChainB: b,
			Policy: sampling.Policy{
				PollInterval: cfg.SampleInterval,
				Backoff:      cfg.RetryBackoff,
				OnProgress:   hub.Progress,
			},
		},
		Capacity: cfg.Samples,
		Initial:  initial,
		Output:   calibration.Frames{FrameID: frameID, ChildFrameID: childFrameID},
		Saver:    store,
	})
	log.Printf("calibrator: chain A %s, chain B %s, output %s -> %s, record %s",
		a, b, frameID, childFrameID, store.Path())

	rb := &calibration.Rebroadcaster{
		Source:   engine.State(),
		Sinks:    []calibration.Sink{tfbus.NewBroadcaster(client, cfg.TopicTFPrefix, false), hub},
		Frames:   engine.Output(),
		Interval: cfg.BroadcastInterval,
	}
	go rb.Run(ctx)

	if cfg.StartupDelay > 0 {
		log.Printf("calibrator: waiting %s for pose sources", cfg.StartupDelay)
		if err := sampling.Sleep(ctx, cfg.StartupDelay); err != nil {
			return nil
		}
	}

	srv := NewCalibrationServer(ctx, engine, hub)
	return serveHTTP(ctx, cfg.WebServerPort, srv.Handler())
}
