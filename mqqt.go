// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

// Inbound MQQT support
package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// UplinkHandler is called for every message received on the TTN topic
type UplinkHandler func(at time.Time, topic string, body []byte)

// Listener holds the subscription to TTN's upstream mqtt message queue
type Listener struct {
	server  string
	topic   string
	handler UplinkHandler
	logger  *slog.Logger
	client  MQTT.Client

	mu               sync.Mutex
	everConnected    bool
	lastDisconnected time.Time
	outages          int
}

// NewListener prepares, but does not open, the TTN subscription
func NewListener(cfg Config, handler UplinkHandler, logger *slog.Logger) *Listener {
	l := &Listener{
		server:  cfg.MqttURL,
		topic:   cfg.MqttTopic,
		handler: handler,
		logger:  logger,
	}

	// Allocate and set up the options
	mqttOpts := MQTT.NewClientOptions()
	mqttOpts.AddBroker(cfg.MqttURL)
	mqttOpts.SetClientID("ttluft-" + uuid.NewString())
	mqttOpts.SetUsername(cfg.MqttAppID)
	mqttOpts.SetPassword(cfg.MqttAppKey)
	mqttOpts.SetAutoReconnect(true)
	mqttOpts.SetCleanSession(true)
	mqttOpts.SetConnectionLostHandler(l.onConnectionLost)
	mqttOpts.SetOnConnectHandler(l.onConnectionMade)

	l.client = MQTT.NewClient(mqttOpts)
	return l
}

// Handle lost connections
func (l *Listener) onConnectionLost(client MQTT.Client, err error) {
	l.mu.Lock()
	l.lastDisconnected = time.Now()
	l.outages++
	l.mu.Unlock()
	l.logger.Warn("TTN connection lost", "server", l.server, "error", err)
}

// The "connect" handler subscribes to the topic, both initially and after reconnecting
func (l *Listener) onConnectionMade(client MQTT.Client) {

	// Function to process received messages
	onMessageReceived := func(client MQTT.Client, message MQTT.Message) {
		l.handler(time.Now(), message.Topic(), message.Payload())
	}

	// Subscribe to the upstream topic
	if token := client.Subscribe(l.topic, 0, onMessageReceived); token.Wait() && token.Error() != nil {
		l.logger.Error("error subscribing to topic", "topic", l.topic, "error", token.Error())
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.everConnected {
		l.logger.Info("TTN connection restored", "server", l.server,
			"offline", time.Since(l.lastDisconnected).Round(time.Second), "outages", l.outages)
	} else {
		l.everConnected = true
		l.logger.Info("TTN connection established", "server", l.server, "topic", l.topic)
	}

}

// Start connects to TTN.  A failure here is the only failure that stops the service.
func (l *Listener) Start() error {
	if token := l.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to TTN service %s: %w", l.server, token.Error())
	}
	return nil
}

// Run blocks until ctx is done, then unsubscribes and disconnects
func (l *Listener) Run(ctx context.Context) error {
	<-ctx.Done()
	l.Stop()
	return nil
}

// Stop closes the subscription so that no more uplinks arrive
func (l *Listener) Stop() {
	if !l.client.IsConnected() {
		return
	}
	if token := l.client.Unsubscribe(l.topic); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		l.logger.Warn("error unsubscribing", "topic", l.topic, "error", token.Error())
	}
	l.client.Disconnect(250)
	l.logger.Info("TTN connection closed", "server", l.server)
}
