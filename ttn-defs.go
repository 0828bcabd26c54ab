// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license found with the
// source code from where this was derived:
// https://github.com/TheThingsNetwork/ttn/core/types
package main

import (
	"encoding/json"
	"time"
)

// UplinkMessage represents an application-layer uplink message.  PayloadFields is
// whatever the application's payload formatter produced, and is absent if it has none.
type UplinkMessage struct {
	AppID          string          `json:"app_id,omitempty"`
	DevID          string          `json:"dev_id,omitempty"`
	HardwareSerial string          `json:"hardware_serial,omitempty"`
	FPort          uint8           `json:"port"`
	FCnt           uint32          `json:"counter"`
	IsRetry        bool            `json:"is_retry,omitempty"`
	PayloadRaw     []byte          `json:"payload_raw"`
	PayloadFields  json.RawMessage `json:"payload_fields,omitempty"`
	Metadata       Metadata        `json:"metadata,omitempty"`
}

// Metadata contains metadata of a message
type Metadata struct {
	Time       JSONTime          `json:"time,omitempty"`
	Frequency  float32           `json:"frequency,omitempty"`
	Modulation string            `json:"modulation,omitempty"`
	DataRate   string            `json:"data_rate,omitempty"`
	CodingRate string            `json:"coding_rate,omitempty"`
	Gateways   []GatewayMetadata `json:"gateways,omitempty"`
	LocationMetadata
}

type GatewayMetadata struct {
	GtwID      string   `json:"gtw_id,omitempty"`
	GtwTrusted bool     `json:"gtw_trusted,omitempty"`
	Timestamp  uint32   `json:"timestamp,omitempty"`
	Time       JSONTime `json:"time,omitempty"`
	Channel    uint32   `json:"channel"`
	RSSI       float32  `json:"rssi,omitempty"`
	SNR        float32  `json:"snr,omitempty"`
	RFChain    uint32   `json:"rf_chain,omitempty"`
	LocationMetadata
}

// JSONTime is a time.Time that unmarshals from RFC3339Nano.  Gateways without a time
// source send an empty string, which, like any unparseable time, leaves it zero.
type JSONTime time.Time

// UnmarshalJSON leaves the time zero rather than failing on a bad timestamp
func (t *JSONTime) UnmarshalJSON(b []byte) error {
	var s string
	if json.Unmarshal(b, &s) != nil || s == "" {
		*t = JSONTime{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		*t = JSONTime{}
		return nil
	}
	*t = JSONTime(parsed)
	return nil
}

// Time returns the time, zero if none was sent
func (t JSONTime) Time() time.Time {
	return time.Time(t)
}

// LocationMetadata contains GPS coordinates
type LocationMetadata struct {
	Latitude  float32 `json:"latitude,omitempty"`
	Longitude float32 `json:"longitude,omitempty"`
	Altitude  int32   `json:"altitude,omitempty"`
}
