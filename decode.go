// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

// Payload decoding, both for TTN-decoded field maps and for raw payload bytes
package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/guregu/null"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrUnknownEncoding is returned when no decoder is registered for an encoding id
var ErrUnknownEncoding = errors.New("unknown payload encoding")

// FieldDecoder turns the payload fields that TTN decoded for us into a Reading
type FieldDecoder func(sensorID string, receivedAt time.Time, fields *structpb.Struct) Reading

var fieldDecoders = map[string]FieldDecoder{
	EncodingRudzl: decodeRudzlFields,
}

func decoderFor(encoding string) (FieldDecoder, error) {
	decoder, ok := fieldDecoders[encoding]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}
	return decoder, nil
}

// ParseFieldMap parses a JSON object into a field map.  A missing or null object
// yields a nil map and no error.
func ParseFieldMap(raw []byte) (*structpb.Struct, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	fields := &structpb.Struct{}
	err := protojson.Unmarshal(trimmed, fields)
	if err != nil {
		return nil, fmt.Errorf("payload fields: %w", err)
	}
	return fields, nil
}

// Field names used by the rudzl SPS30/BME280 payload formatter
const (
	rudzlPM10     = "PM10_Avg"
	rudzlPM2_5    = "PM25_Avg"
	rudzlPM1      = "PM1_Avg"
	rudzlTemp     = "T"
	rudzlHumidity = "RH"
	rudzlPressure = "P"
	rudzlSpsID    = "spsid"
)

// Look up a numeric field, returning NaN if it is absent or isn't a number
func numberField(fields *structpb.Struct, key string) (float64, bool) {
	value, present := fields.GetFields()[key]
	if !present {
		return math.NaN(), false
	}
	number, isNumber := value.GetKind().(*structpb.Value_NumberValue)
	if !isNumber {
		return math.NaN(), false
	}
	return number.NumberValue, true
}

// Decode the rudzl field map.  Missing particulate fields become NaN rather than
// failing the decode, so that the reading is still logged.  Environment data is
// attached only if the device sent at least one of its fields.
func decodeRudzlFields(sensorID string, receivedAt time.Time, fields *structpb.Struct) Reading {

	pm10, _ := numberField(fields, rudzlPM10)
	pm2_5, _ := numberField(fields, rudzlPM2_5)
	pm1, _ := numberField(fields, rudzlPM1)
	pm := Particulate{PM1: pm1, PM2_5: pm2_5, PM10: pm10}

	temp, hasTemp := numberField(fields, rudzlTemp)
	humid, hasHumid := numberField(fields, rudzlHumidity)
	press, hasPress := numberField(fields, rudzlPressure)
	if !hasTemp && !hasHumid && !hasPress {
		return NewReading(sensorID, receivedAt, pm)
	}

	env := Environment{Temperature: temp, Humidity: humid, Pressure: press}
	return NewReadingWithEnvironment(sensorID, receivedAt, pm, env)

}

// RudzlSpsID extracts the serial number of the SPS30 that made the measurement
func RudzlSpsID(fields *structpb.Struct) (uint16, bool) {
	id, ok := numberField(fields, rudzlSpsID)
	if !ok {
		return 0, false
	}
	return uint16(int64(id) & 0xFFFF), true
}

// ParseError reports a raw payload that ended before all of its fields were read
type ParseError struct {
	Offset int
	Length int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("payload underflow at offset %d of %d bytes", e.Offset, e.Length)
}

// Raw payload layout: six big-endian 16-bit words, each in tenths of a unit
const spsPayloadWords = 6
const spsPayloadLength = 2 * spsPayloadWords
const spsValueAbsent = 0xFFFF

// SpsPayload is the content of a raw SPS30 payload.  The environment words use
// 0xFFFF to indicate that the device has no such sensor.
type SpsPayload struct {
	PM10        float64
	PM2_5       float64
	PM1         float64
	Temperature null.Float
	Humidity    null.Float
	Pressure    null.Float
}

// DecodeSpsPayload decodes the raw bytes that a device sends when TTN has no
// payload formatter configured for it.
func DecodeSpsPayload(data []byte) (SpsPayload, error) {

	var words [spsPayloadWords]uint16
	for i := range words {
		offset := 2 * i
		if len(data) < offset+2 {
			return SpsPayload{}, &ParseError{Offset: offset, Length: len(data)}
		}
		words[i] = binary.BigEndian.Uint16(data[offset:])
	}

	p := SpsPayload{
		PM10:        float64(words[0]) / 10.0,
		PM2_5:       float64(words[1]) / 10.0,
		PM1:         float64(words[2]) / 10.0,
		Temperature: optionalWord(words[3]),
		Humidity:    optionalWord(words[4]),
		Pressure:    optionalWord(words[5]),
	}
	return p, nil

}

// Environment words are signed so that sub-zero temperatures can be sent
func optionalWord(raw uint16) null.Float {
	if raw == spsValueAbsent {
		return null.Float{}
	}
	return null.FloatFrom(float64(int16(raw)) / 10.0)
}

// Reading converts the payload into a reading for the given sensor
func (p SpsPayload) Reading(sensorID string, receivedAt time.Time) Reading {
	pm := Particulate{PM1: p.PM1, PM2_5: p.PM2_5, PM10: p.PM10}
	if !p.Temperature.Valid && !p.Humidity.Valid && !p.Pressure.Valid {
		return NewReading(sensorID, receivedAt, pm)
	}
	env := Environment{
		Temperature: floatOrNaN(p.Temperature),
		Humidity:    floatOrNaN(p.Humidity),
		Pressure:    floatOrNaN(p.Pressure),
	}
	return NewReadingWithEnvironment(sensorID, receivedAt, pm, env)
}

func floatOrNaN(f null.Float) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}
