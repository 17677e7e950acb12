// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tfbus carries stamped transforms over MQTT.
//
// Every frame pair has its own topic, <prefix>/<frame>/<child>, holding JSON
// transform.Message payloads. The calibrator listens on the chain topics and
// publishes its result on the output topic.
package tfbus

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/average_calibrator/internal/sampling"
	"github.com/relabs-tech/average_calibrator/internal/transform"
)

// DefaultPrefix is the topic root used when none is configured.
const DefaultPrefix = "tf"

const publishTimeout = time.Second

// Subscriber is the part of mqtt.Client the listener needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Publisher is the part of mqtt.Client the broadcaster needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Topic returns the topic carrying frameID -> childFrameID.
// Surrounding slashes of frame names are dropped: ("tf", "/cam", "/world") is "tf/cam/world".
func Topic(prefix, frameID, childFrameID string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return strings.TrimRight(prefix, "/") + "/" + strings.Trim(frameID, "/") + "/" + strings.Trim(childFrameID, "/")
}

// Wildcard returns the subscription matching every transform under prefix.
func Wildcard(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return strings.TrimRight(prefix, "/") + "/#"
}

// Connect opens an MQTT connection. onConnect, if not nil, runs after every
// (re)connect so subscriptions survive broker restarts.
func Connect(broker, clientID string, onConnect func(mqtt.Client)) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)
	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", broker, token.Error())
	}
	return client, nil
}

// Listener keeps the latest transform of every watched frame pair and serves
// them as a sampling.PoseSource.
type Listener struct {
	*sampling.Latest

	prefix string
	mu     sync.Mutex
	topics []string
}

// NewListener returns a listener rejecting lookups older than maxAge.
func NewListener(prefix string, maxAge time.Duration) *Listener {
	return &Listener{Latest: sampling.NewLatest(maxAge), prefix: prefix}
}

// Watch registers the topics of chains. They are subscribed on the next call
// to Subscribe.
func (l *Listener) Watch(chains ...sampling.Chain) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range chains {
		l.topics = append(l.topics, Topic(l.prefix, c.Reference, c.Target))
	}
}

// Topics returns the watched topics.
func (l *Listener) Topics() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.topics...)
}

// Subscribe subscribes every watched topic on sub.
func (l *Listener) Subscribe(sub Subscriber) error {
	var errs []error
	for _, topic := range l.Topics() {
		token := sub.Subscribe(topic, 0, l.HandleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", topic, err))
			continue
		}
		log.Printf("tfbus: subscribed to %s", topic)
	}
	return errors.Join(errs...)
}

// OnConnect is an mqtt.OnConnectHandler that (re)subscribes the watched topics.
func (l *Listener) OnConnect(c mqtt.Client) {
	if err := l.Subscribe(c); err != nil {
		log.Printf("tfbus: %v", err)
	}
}

// HandleMessage decodes one transform message into the cache.
func (l *Listener) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	st, err := transform.Unmarshal(msg.Payload())
	if err != nil {
		log.Printf("tfbus: %s: payload unmarshal error: %v", msg.Topic(), err)
		return
	}
	l.Update(st)
}

// Broadcaster publishes stamped transforms on their frame pair topic.
// It implements calibration.Sink.
type Broadcaster struct {
	pub      Publisher
	prefix   string
	retained bool
}

// NewBroadcaster publishes on pub under prefix. Retained messages let late
// subscribers see the last transform immediately.
func NewBroadcaster(pub Publisher, prefix string, retained bool) *Broadcaster {
	return &Broadcaster{pub: pub, prefix: prefix, retained: retained}
}

// Publish sends st. It waits at most a second for the client to accept it.
func (b *Broadcaster) Publish(st transform.Stamped) error {
	payload, err := transform.Marshal(st)
	if err != nil {
		return fmt.Errorf("json marshal error: %w", err)
	}
	topic := Topic(b.prefix, st.FrameID, st.ChildFrameID)
	token := b.pub.Publish(topic, 0, b.retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("MQTT publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish %s: %w", topic, err)
	}
	return nil
}
