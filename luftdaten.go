// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

// Formats and uploads readings to luftdaten.info
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// UploadItem is a single named value within an upload
type UploadItem struct {
	Name  string
	Value float64
}

// MarshalJSON emits the value as a decimal string, which is what the luftdaten API
// expects, and which also lets a missing value travel as "NaN".
func (i UploadItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ValueType string `json:"value_type"`
		Value     string `json:"value"`
	}{i.Name, FormatValue(i.Value)})
}

// UploadEnvelope is the body of one luftdaten upload
type UploadEnvelope struct {
	SoftwareVersion string       `json:"software_version"`
	Items           []UploadItem `json:"sensordatavalues"`
}

// Luftdaten's historical names for the particulate values are P0=PM1, P1=PM10, P2=PM2.5
func particulateEnvelope(version string, pm Particulate) UploadEnvelope {
	return UploadEnvelope{
		SoftwareVersion: version,
		Items: []UploadItem{
			{"P0", pm.PM1},
			{"P1", pm.PM10},
			{"P2", pm.PM2_5},
		},
	}
}

// Luftdaten wants pressure in Pa, and the devices send hPa
func environmentEnvelope(version string, env Environment) UploadEnvelope {
	return UploadEnvelope{
		SoftwareVersion: version,
		Items: []UploadItem{
			{"temperature", env.Temperature},
			{"humidity", env.Humidity},
			{"pressure", 100.0 * env.Pressure},
		},
	}
}

// UploadError describes a failed upload to one pin
type UploadError struct {
	Pin        string
	StatusCode int
	Status     string
	Err        error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pin %s: %s", e.Pin, ErrorString(e.Err))
	}
	return fmt.Sprintf("pin %s: request failed: %s", e.Pin, e.Status)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// PinResult is the result of uploading to a single pin
type PinResult struct {
	Pin      string
	Response string
	Err      error
}

// UploadOutcome is the result of dispatching one reading
type UploadOutcome struct {
	SensorID string
	Results  []PinResult
}

// Err joins the errors of all pins that failed, or returns nil
func (o UploadOutcome) Err() error {
	var errs []error
	for _, r := range o.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// Uploader sends readings to the luftdaten push API
type Uploader struct {
	pushURL string
	version string
	debug   bool
	client  *http.Client
	logger  *slog.Logger
}

// NewUploader creates an uploader for the configured server.  It returns nil if
// uploading is disabled.
func NewUploader(cfg Config, logger *slog.Logger) *Uploader {
	if cfg.LuftdatenURL == "" {
		return nil
	}
	logger.Info("creating luftdaten uploader", "url", cfg.LuftdatenURL, "timeout", cfg.LuftdatenTimeout)
	return &Uploader{
		pushURL: strings.TrimSuffix(cfg.LuftdatenURL, "/") + luftdatenPushPath,
		version: SoftwareVersion,
		debug:   cfg.Debug,
		client:  &http.Client{Timeout: cfg.LuftdatenTimeout},
		logger:  logger,
	}
}

// Dispatch uploads the particulate values and then, if present, the environment
// values.  The two uploads are independent: a failure of the first does not prevent
// the second.  Failures are reported in the outcome rather than logged here.
func (u *Uploader) Dispatch(ctx context.Context, r Reading) UploadOutcome {
	outcome := UploadOutcome{SensorID: r.SensorID()}

	pm := particulateEnvelope(u.version, r.Particulate())
	outcome.Results = append(outcome.Results, u.upload(ctx, r.SensorID(), PinParticulate, pm))

	if env, ok := r.Environment(); ok {
		bme := environmentEnvelope(u.version, env)
		outcome.Results = append(outcome.Results, u.upload(ctx, r.SensorID(), PinEnvironment, bme))
	}

	return outcome
}

// Upload a single envelope to a pin
func (u *Uploader) upload(ctx context.Context, sensorID string, pin string, envelope UploadEnvelope) PinResult {
	result := PinResult{Pin: pin}

	body, err := json.Marshal(envelope)
	if err != nil {
		result.Err = &UploadError{Pin: pin, Err: err}
		return result
	}

	if u.debug {
		u.logger.Info("sending", "sensor", sensorID, "pin", pin, "envelope", string(body))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.pushURL, bytes.NewReader(body))
	if err != nil {
		result.Err = &UploadError{Pin: pin, Err: err}
		return result
	}
	req.Header.Set("User-Agent", luftdatenUserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pin", pin)
	req.Header.Set("X-Sensor", sensorID)

	rsp, err := u.client.Do(req)
	if err != nil {
		result.Err = &UploadError{Pin: pin, Err: err}
		if u.debug {
			u.logger.Warn("request failed", "sensor", sensorID, "pin", pin, "error", err)
		}
		return result
	}
	defer rsp.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(rsp.Body, 64*1024))
	if err != nil {
		result.Err = &UploadError{Pin: pin, StatusCode: rsp.StatusCode, Status: rsp.Status, Err: err}
		return result
	}
	result.Response = string(buf)

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		result.Err = &UploadError{Pin: pin, StatusCode: rsp.StatusCode, Status: rsp.Status}
		if u.debug {
			u.logger.Warn("request failed", "sensor", sensorID, "pin", pin, "status", rsp.Status, "body", result.Response)
		}
		return result
	}

	if u.debug {
		u.logger.Info("result success", "sensor", sensorID, "pin", pin, "body", result.Response)
	}
	return result
}
