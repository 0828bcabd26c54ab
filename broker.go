// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

// Outbound MQTT support for mirroring readings, in Safecast format, to a broker
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ttdata "github.com/Safecast/safecast-go"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	olc "github.com/google/open-location-code/go"
	"github.com/google/uuid"
)

// ErrMirrorOffline is returned by Publish while the broker connection is down
var ErrMirrorOffline = errors.New("mirror broker not connected")

// Mirror republishes every reading to anyone listening on a broker topic
type Mirror struct {
	broker  string
	topic   string
	timeout time.Duration
	logger  *slog.Logger
	client  MQTT.Client
}

// NewMirror returns nil when no broker is configured.  Nothing is connected until
// Start is called.
func NewMirror(cfg Config, logger *slog.Logger) *Mirror {
	if cfg.BrokerURL == "" {
		return nil
	}

	m := &Mirror{
		broker:  cfg.BrokerURL,
		topic:   cfg.BrokerTopic,
		timeout: cfg.BrokerTimeout,
		logger:  logger,
	}

	mqttOpts := MQTT.NewClientOptions()
	mqttOpts.AddBroker(cfg.BrokerURL)
	mqttOpts.SetClientID("ttluft-mirror-" + uuid.NewString())
	mqttOpts.SetUsername(cfg.BrokerUsername)
	mqttOpts.SetPassword(cfg.BrokerPassword)
	mqttOpts.SetCleanSession(true)
	mqttOpts.SetConnectTimeout(cfg.BrokerTimeout)
	mqttOpts.SetWriteTimeout(cfg.BrokerTimeout)
	mqttOpts.SetAutoReconnect(true)
	mqttOpts.SetConnectRetry(true)
	mqttOpts.SetConnectRetryInterval(mirrorRetryInterval)
	mqttOpts.SetOnConnectHandler(func(client MQTT.Client) {
		logger.Info("mirror broker connected", "broker", cfg.BrokerURL)
	})
	mqttOpts.SetConnectionLostHandler(func(client MQTT.Client, err error) {
		logger.Warn("mirror broker connection lost", "broker", cfg.BrokerURL, "error", err)
	})

	m.client = MQTT.NewClient(mqttOpts)
	return m
}

// Start begins connecting in the background.  The client keeps retrying on its own,
// and readings published in the meantime are dropped.
func (m *Mirror) Start() {
	m.logger.Info("connecting to mirror broker", "broker", m.broker, "timeout", m.timeout)
	m.client.Connect()
}

// Publish sends the reading, along with where TTN says the device is.  It never waits
// longer than the broker timeout.
func (m *Mirror) Publish(ctx context.Context, r Reading, meta Metadata) error {

	if !m.client.IsConnectionOpen() {
		return ErrMirrorOffline
	}

	sd := SafecastDataFromReading(r, meta)
	scJSON, err := json.Marshal(sd)
	if err != nil {
		return fmt.Errorf("marshaling safecast data: %w", err)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	token := m.client.Publish(m.topic, 0, false, scJSON)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publishing to %s: timed out after %s", m.topic, m.timeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", m.topic, token.Error())
	}
	return nil

}

// Close disconnects from the broker, and stops any connection attempt in progress
func (m *Mirror) Close() {
	m.client.Disconnect(250)
}

// SafecastDataFromReading converts a reading to Safecast's measurement format.  Values
// that the device didn't send are left out rather than sent as NaN.
func SafecastDataFromReading(r Reading, meta Metadata) ttdata.SafecastData {

	sd := ttdata.SafecastData{}
	sd.DeviceClass = brokerDeviceClass
	sd.DeviceUID = brokerDeviceClass + ":" + r.SensorID()

	capturedAt := r.ReceivedAt().UTC().Format("2006-01-02T15:04:05Z")
	sd.CapturedAt = &capturedAt

	// Loc, 11 digits of OLC being 3m accuracy
	if meta.Latitude != 0 || meta.Longitude != 0 {
		var loc ttdata.Loc
		lat := float64(meta.Latitude)
		lon := float64(meta.Longitude)
		Olc := olc.Encode(lat, lon, 11)
		loc.Lat = &lat
		loc.Lon = &lon
		loc.Olc = &Olc
		if meta.Altitude != 0 {
			alt := float64(meta.Altitude)
			loc.Alt = &alt
		}
		sd.Loc = &loc
	}

	// Pms
	var pms ttdata.Pms
	var dopms = false
	pm := r.Particulate()
	if valuePresent(pm.PM1) {
		Pm01_0 := pm.PM1
		pms.Pm01_0 = &Pm01_0
		dopms = true
	}
	if valuePresent(pm.PM2_5) {
		Pm02_5 := pm.PM2_5
		pms.Pm02_5 = &Pm02_5
		dopms = true
	}
	if valuePresent(pm.PM10) {
		Pm10_0 := pm.PM10
		pms.Pm10_0 = &Pm10_0
		dopms = true
	}
	if dopms {
		sd.Pms = &pms
	}

	// Env
	if e, ok := r.Environment(); ok {
		var env ttdata.Env
		var doenv = false
		if valuePresent(e.Temperature) {
			temp := e.Temperature
			env.Temp = &temp
			doenv = true
		}
		if valuePresent(e.Humidity) {
			humid := e.Humidity
			env.Humid = &humid
			doenv = true
		}
		if valuePresent(e.Pressure) {
			press := e.Pressure
			env.Press = &press
			doenv = true
		}
		if doenv {
			sd.Env = &env
		}
	}

	// Service
	var svc ttdata.Service
	uploadedAt := NowInUTC()
	transport := "ttn-mqqt:" + r.SensorID()
	svc.UploadedAt = &uploadedAt
	svc.Transport = &transport
	sd.Service = &svc

	return sd

}
