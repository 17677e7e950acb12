// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/average_calibrator/internal/config"
	"github.com/relabs-tech/average_calibrator/internal/tfbus"
	"github.com/relabs-tech/average_calibrator/internal/transform"
)

// printTransform writes one console line for a tf payload.
func printTransform(w io.Writer, topic string, payload []byte) {
	st, err := transform.Unmarshal(payload)
	if err != nil {
		log.Printf("console: %s unmarshal error: %v", topic, err)
		return
	}
	q := st.XYZW()
	fmt.Fprintf(w,
		"[TF] %s -> %s  t=(%8.4f %8.4f %8.4f)  q=(%7.4f %7.4f %7.4f %7.4f)  %s\n",
		st.FrameID, st.ChildFrameID,
		st.Translation.X, st.Translation.Y, st.Translation.Z,
		q[0], q[1], q[2], q[3],
		st.Stamp.Format("15:04:05.000"),
	)
}

// RunConsoleMQTT prints every transform published under the tf prefix.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialised")
	}

	topic := tfbus.Wildcard(cfg.TopicTFPrefix)
	subscribe := func(c mqtt.Client) {
		token := c.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			printTransform(os.Stdout, msg.Topic(), msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			log.Printf("console: subscribe %s: %v", topic, token.Error())
			return
		}
		log.Printf("console: subscribed to %s", topic)
	}

	client, err := tfbus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole, subscribe)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
