// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

// Processing of uplinks received from TTN
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrNoHardwareSerial is returned for uplinks that can't be attributed to a sensor
var ErrNoHardwareSerial = errors.New("uplink has no hardware serial")

// ErrBadHardwareSerial is returned for serials that aren't a 64-bit EUI in hex.  The
// serial names the sensor's data files, so nothing else may get through.
var ErrBadHardwareSerial = errors.New("uplink hardware serial is not a hex EUI")

// ErrNoPayload is returned for uplinks with neither payload fields nor raw payload
var ErrNoPayload = errors.New("uplink has no payload")

// TaskSubmitter accepts the downstream work for a reading
type TaskSubmitter interface {
	Submit(t Task) bool
}

// ForwarderCounts are running totals since startup
type ForwarderCounts struct {
	Received atomic.Uint64
	Dropped  atomic.Uint64
	Decoded  atomic.Uint64
}

// Forwarder decodes uplinks and hands the readings to the uploader, the local data
// files and the mirror, each as a separate task so that none can hold up the others.
type Forwarder struct {
	encoding string
	debug    bool
	uploader *Uploader
	logs     *LogWriter
	mirror   *Mirror
	queue    TaskSubmitter
	logger   *slog.Logger
	Count    ForwarderCounts
}

// NewForwarder wires up the coordinator.  The uploader and mirror may be nil when
// they are disabled.
func NewForwarder(cfg Config, uploader *Uploader, logs *LogWriter, mirror *Mirror, queue TaskSubmitter, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		encoding: cfg.Encoding,
		debug:    cfg.Debug,
		uploader: uploader,
		logs:     logs,
		mirror:   mirror,
		queue:    queue,
		logger:   logger,
	}
}

// MessageReceived handles one message from the TTN subscription.  It never blocks on
// downstream I/O: decoding is done here, and everything else is queued.
func (f *Forwarder) MessageReceived(at time.Time, topic string, body []byte) {
	f.Count.Received.Add(1)

	if f.debug {
		f.logger.Info("received", "topic", topic, "message", string(body))
	}

	var uplink UplinkMessage
	err := json.Unmarshal(body, &uplink)
	if err != nil {
		f.drop("could not parse JSON", topic, err, body)
		return
	}

	if uplink.HardwareSerial == "" {
		f.drop("dropping uplink", topic, ErrNoHardwareSerial, body)
		return
	}

	if !validHardwareSerial(uplink.HardwareSerial) {
		f.drop("dropping uplink", topic, ErrBadHardwareSerial, body)
		return
	}

	// The luftdaten sensor name is the hardware serial in the TTN namespace
	sensorID := ttnSensorPrefix + uplink.HardwareSerial

	reading, err := f.decodeUplink(at, sensorID, uplink)
	if err != nil {
		f.drop("could not decode payload", topic, err, body)
		return
	}
	f.Count.Decoded.Add(1)

	if f.debug {
		f.logger.Info("decoded", "reading", reading.String())
	}

	// Schedule upload, save and mirror
	if f.uploader != nil {
		f.queue.Submit(Task{
			Name:     "upload",
			SensorID: sensorID,
			Run: func(ctx context.Context) error {
				return f.uploader.Dispatch(ctx, reading).Err()
			},
		})
	}
	if f.logs != nil && f.logs.Enabled() {
		f.queue.Submit(Task{
			Name:     "save",
			SensorID: sensorID,
			Run: func(ctx context.Context) error {
				return f.logs.Append(reading)
			},
		})
	}
	if f.mirror != nil {
		meta := uplink.Metadata
		f.queue.Submit(Task{
			Name:     "mirror",
			SensorID: sensorID,
			Run: func(ctx context.Context) error {
				return f.mirror.Publish(ctx, reading, meta)
			},
		})
	}
}

// Extract the reading from the uplink.  Fields decoded by TTN's payload formatter take
// precedence; if there are none, the raw payload bytes are decoded directly.
func (f *Forwarder) decodeUplink(at time.Time, sensorID string, uplink UplinkMessage) (Reading, error) {

	fields, err := ParseFieldMap(uplink.PayloadFields)
	if err != nil {
		return Reading{}, err
	}

	if fields == nil {
		if len(uplink.PayloadRaw) == 0 {
			return Reading{}, ErrNoPayload
		}
		payload, err := DecodeSpsPayload(uplink.PayloadRaw)
		if err != nil {
			return Reading{}, err
		}
		return payload.Reading(sensorID, at), nil
	}

	decoder, err := decoderFor(f.encoding)
	if err != nil {
		return Reading{}, err
	}

	if f.debug {
		if spsID, ok := RudzlSpsID(fields); ok {
			f.logger.Info("SPS30 serial", "sensor", sensorID, "spsid", spsID)
		}
	}

	return decoder(sensorID, at, fields), nil

}

// A device EUI is 8 bytes, sent as 16 hex digits
func validHardwareSerial(serial string) bool {
	if len(serial) != 16 {
		return false
	}
	_, err := hex.DecodeString(serial)
	return err == nil
}

// Log and count a message that is being discarded
func (f *Forwarder) drop(msg string, topic string, err error, body []byte) {
	f.Count.Dropped.Add(1)
	if f.debug {
		f.logger.Warn(msg, "topic", topic, "error", err)
		return
	}
	f.logger.Warn(msg, "topic", topic, "error", err, "message", string(body))
}
