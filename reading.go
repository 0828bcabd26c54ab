// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

// Decoded sensor readings
package main

import (
	"fmt"
	"math"
	"time"
)

// Particulate holds the particulate matter concentrations in ug/m3.  A value that was
// not delivered by the device is NaN.
type Particulate struct {
	PM1   float64
	PM2_5 float64
	PM10  float64
}

// Environment holds the temperature (C), relative humidity (%) and pressure (hPa)
// as delivered by the device, before any unit conversion for upload.
type Environment struct {
	Temperature float64
	Humidity    float64
	Pressure    float64
}

// Reading is one decoded uplink.  It is built once by NewReading and never modified;
// every component that receives one only reads it.
type Reading struct {
	sensorID    string
	receivedAt  time.Time
	particulate Particulate
	environment Environment
	hasEnv      bool
}

// NewReading constructs a reading without environment data
func NewReading(sensorID string, receivedAt time.Time, pm Particulate) Reading {
	return Reading{sensorID: sensorID, receivedAt: receivedAt, particulate: pm}
}

// NewReadingWithEnvironment constructs a reading that carries environment data
func NewReadingWithEnvironment(sensorID string, receivedAt time.Time, pm Particulate, env Environment) Reading {
	return Reading{sensorID: sensorID, receivedAt: receivedAt, particulate: pm, environment: env, hasEnv: true}
}

// SensorID is the luftdaten sensor name, also used to name local data files
func (r Reading) SensorID() string {
	return r.sensorID
}

// ReceivedAt is when the uplink was received from TTN
func (r Reading) ReceivedAt() time.Time {
	return r.receivedAt
}

// Particulate is always present, though individual values may be NaN
func (r Reading) Particulate() Particulate {
	return r.particulate
}

// Environment returns the environment data and whether the device sent any
func (r Reading) Environment() (Environment, bool) {
	return r.environment, r.hasEnv
}

func (r Reading) String() string {
	if env, ok := r.Environment(); ok {
		return fmt.Sprintf("{id=%s,PM10=%.1f,PM2.5=%.1f,PM1=%.1f,T=%.1f,RH=%.1f,P=%.1f}", r.sensorID,
			r.particulate.PM10, r.particulate.PM2_5, r.particulate.PM1, env.Temperature, env.Humidity, env.Pressure)
	}
	return fmt.Sprintf("{id=%s,PM10=%.1f,PM2.5=%.1f,PM1=%.1f}", r.sensorID,
		r.particulate.PM10, r.particulate.PM2_5, r.particulate.PM1)
}

// valuePresent reports whether a decoded value is usable downstream
func valuePresent(v float64) bool {
	return !math.IsNaN(v)
}
