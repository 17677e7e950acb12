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

	"github.com/relabs-tech/average_calibrator/internal/config"
	"github.com/relabs-tech/average_calibrator/internal/tfbus"
	"github.com/relabs-tech/average_calibrator/internal/tracker"
	"github.com/relabs-tech/average_calibrator/internal/transform"
)

// RunTrackerProducer opens the tracker serial port, parses its transform
// sentences and publishes each pose on its MQTT tf topic.
func RunTrackerProducer() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialised")
	}

	client, err := tfbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDTracker, nil)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("tracker: connected to MQTT broker at %s", cfg.MQTTBroker)

	port, err := tracker.Open(tracker.PortConfig{Name: cfg.TrackerSerialPort, BaudRate: uint(cfg.TrackerBaudRate)})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	bc := tfbus.NewBroadcaster(client, cfg.TopicTFPrefix, false)
	src := tracker.NewSource(0)
	var failing bool
	src.OnPose = func(st transform.Stamped) {
		err := bc.Publish(st)
		switch {
		case err != nil && !failing:
			log.Printf("tracker: publish error: %v", err)
			failing = true
		case err == nil && failing:
			log.Println("tracker: publishing again")
			failing = false
		}
	}

	err = src.Run(ctx, port)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		log.Println("tracker: shutting down")
		return nil
	}
	return err
}
