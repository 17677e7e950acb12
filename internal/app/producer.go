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
	"time"

	"github.com/relabs-tech/average_calibrator/internal/calibration"
	"github.com/relabs-tech/average_calibrator/internal/config"
	"github.com/relabs-tech/average_calibrator/internal/mock"
	"github.com/relabs-tech/average_calibrator/internal/tfbus"
)

// produce publishes both simulated chains to sink every interval until ctx is done.
func produce(ctx context.Context, src *mock.Source, sink calibration.Sink, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var published int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		a, b := src.Sample()
		if err := sink.Publish(a); err != nil {
			log.Printf("producer: chain A publish error: %v", err)
		}
		if err := sink.Publish(b); err != nil {
			log.Printf("producer: chain B publish error: %v", err)
		}
		published++
		if published%100 == 1 {
			log.Printf("producer: published %d pairs, chain A %s", published, a.Transform)
		}
	}
}

// RunProducer publishes simulated chain A and chain B poses to MQTT so the
// calibrator can run without tracking hardware.
func RunProducer() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialised")
	}

	src, err := newMockSource(cfg)
	if err != nil {
		return err
	}

	client, err := tfbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDProducer, nil)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("producer: connected to MQTT broker at %s", cfg.MQTTBroker)
	log.Printf("producer: simulating %s and %s, truth %s", src.ChainA, src.ChainB, src.Truth)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	_ = produce(ctx, src, tfbus.NewBroadcaster(client, cfg.TopicTFPrefix, false), interval)
	log.Println("producer: shutting down")
	return nil
}
