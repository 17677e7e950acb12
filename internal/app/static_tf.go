// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/average_calibrator/internal/calibration"
	"github.com/relabs-tech/average_calibrator/internal/config"
	"github.com/relabs-tech/average_calibrator/internal/record"
	"github.com/relabs-tech/average_calibrator/internal/tfbus"
)

// RunStaticTF republishes a saved calibration record until interrupted.
// An empty path selects the record the calibrator writes.
func RunStaticTF(path string) error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialised")
	}
	if path == "" {
		path = (&record.FileStore{Dir: cfg.CalibrationDir, Name: cfg.CalibrationName}).Path()
	}

	rec, err := record.Load(path)
	if err != nil {
		return err
	}
	st, err := rec.Stamped()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	log.Printf("static_tf: loaded %s: %s -> %s %s", path, st.FrameID, st.ChildFrameID, st.Transform)

	client, err := tfbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDStaticTF, nil)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("static_tf: connected to MQTT broker at %s", cfg.MQTTBroker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rb := &calibration.Rebroadcaster{
		Source:   calibration.Fixed(st.Transform),
		Sinks:    []calibration.Sink{tfbus.NewBroadcaster(client, cfg.TopicTFPrefix, false)},
		Frames:   calibration.Frames{FrameID: st.FrameID, ChildFrameID: st.ChildFrameID},
		Interval: cfg.StaticTFInterval,
	}
	if err := rb.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Println("static_tf: shutting down")
	return nil
}
