// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

// Global configuration Parameters
package main

import "time"

// Version string reported to luftdaten with every envelope.  Overridable at build time
// with -ldflags "-X main.SoftwareVersion=..."
var SoftwareVersion = "SPS30_November_2019-1.0.1"

// TTN service info
const ttnDefaultServer string = "tcp://eu.thethings.network:1883"
const ttnDefaultTopic string = "+/devices/+/up"
const ttnSensorPrefix string = "TTN-"

// Luftdaten service info
const luftdatenDefaultURL string = "https://api.luftdaten.info"
const luftdatenPushPath string = "/v1/push-sensor-data/"
const luftdatenUserAgent string = "TTLUFT"

// The "pins" we upload to.  The particulate pin must be sent first.
const (
	PinParticulate = "1"
	PinEnvironment = "11"
)

// Payload encodings we know how to decode
const EncodingRudzl string = "rudzl"

// Local data file formats.  The timestamp is deliberately a 12-hour clock without
// an AM/PM marker because existing consumers of these files parse it that way.
const dataFileHeader string = "yyyy:MM:dd:hh:mm,P0,P2,P1,Temp,Hum,Pressure\n"
const dataFileTimestampFormat string = "2006:01:02:03:04"
const dataFileDefaultExtension string = "060102"
const dataFileDefaultZone string = "Europe/Paris"

// Safecast mirror info
const brokerDefaultTopic string = "luftdaten"
const brokerDeviceClass string = "ttn-luftdaten"
const mirrorRetryInterval = 30 * time.Second

// Log-related
const logDateFormat string = "2006-01-02 15:04:05"

// Config file used when none is given on the command line
const configDefaultFile string = "ttluft.yaml"
