// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pushRequest struct {
	Path        string
	Pin         string
	Sensor      string
	UserAgent   string
	ContentType string
	Body        string
}

// Fake luftdaten push API that records requests, and fails those to the given pins
type pushServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []pushRequest
	failPins map[string]bool
}

func newPushServer(t *testing.T, failPins ...string) *pushServer {
	s := &pushServer{failPins: map[string]bool{}}
	for _, pin := range failPins {
		s.failPins[pin] = true
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		pin := r.Header.Get("X-Pin")
		s.mu.Lock()
		s.requests = append(s.requests, pushRequest{
			Path:        r.URL.Path,
			Pin:         pin,
			Sensor:      r.Header.Get("X-Sensor"),
			UserAgent:   r.Header.Get("User-Agent"),
			ContentType: r.Header.Get("Content-Type"),
			Body:        string(body),
		})
		s.mu.Unlock()
		if s.failPins[pin] {
			http.Error(w, "sensor unknown", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "[]")
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *pushServer) Requests() []pushRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pushRequest(nil), s.requests...)
}

func testUploader(t *testing.T, url string) *Uploader {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LuftdatenURL = url
	u := NewUploader(cfg, NewServerLogger(io.Discard, false))
	require.NotNil(t, u)
	return u
}

func TestParticulateEnvelope(t *testing.T) {
	env := particulateEnvelope("v1", Particulate{PM1: 5, PM2_5: 8.1, PM10: 12.3})

	b, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"software_version":"v1","sensordatavalues":[
		{"value_type":"P0","value":"5.0"},
		{"value_type":"P1","value":"12.3"},
		{"value_type":"P2","value":"8.1"}]}`, string(b))
}

func TestEnvironmentEnvelopePressureInPascal(t *testing.T) {
	env := environmentEnvelope("v1", Environment{Temperature: 21.5, Humidity: 45, Pressure: 1013.25})

	b, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"software_version":"v1","sensordatavalues":[
		{"value_type":"temperature","value":"21.5"},
		{"value_type":"humidity","value":"45.0"},
		{"value_type":"pressure","value":"101325.0"}]}`, string(b))
}

func TestUploadItemNaN(t *testing.T) {
	b, err := json.Marshal(UploadItem{Name: "P1", Value: math.NaN()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value_type":"P1","value":"NaN"}`, string(b))
}

func TestNewUploaderDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LuftdatenURL = ""
	assert.Nil(t, NewUploader(cfg, NewServerLogger(io.Discard, false)))
}

func TestDispatchParticulateOnly(t *testing.T) {
	srv := newPushServer(t)
	u := testUploader(t, srv.URL+"/")

	r := NewReading(testSensorID, testReceivedAt, Particulate{PM1: 5, PM2_5: 8.1, PM10: 12.3})
	outcome := u.Dispatch(context.Background(), r)
	require.NoError(t, outcome.Err())
	assert.Equal(t, testSensorID, outcome.SensorID)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, PinParticulate, outcome.Results[0].Pin)
	assert.Equal(t, "[]", outcome.Results[0].Response)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, luftdatenPushPath, reqs[0].Path)
	assert.Equal(t, PinParticulate, reqs[0].Pin)
	assert.Equal(t, testSensorID, reqs[0].Sensor)
	assert.Equal(t, luftdatenUserAgent, reqs[0].UserAgent)
	assert.Equal(t, "application/json", reqs[0].ContentType)

	var body wireEnvelope
	require.NoError(t, json.Unmarshal([]byte(reqs[0].Body), &body))
	assert.Equal(t, SoftwareVersion, body.SoftwareVersion)
	require.Len(t, body.Items, 3)
	assert.Equal(t, "P0", body.Items[0].ValueType)
	assert.Equal(t, "5.0", body.Items[0].Value)
}

func TestDispatchEnvironmentAfterParticulate(t *testing.T) {
	srv := newPushServer(t)
	u := testUploader(t, srv.URL)

	r := NewReadingWithEnvironment(testSensorID, testReceivedAt,
		Particulate{PM1: 5, PM2_5: 8.1, PM10: 12.3},
		Environment{Temperature: 21.5, Humidity: math.NaN(), Pressure: 1013.25})
	outcome := u.Dispatch(context.Background(), r)
	require.NoError(t, outcome.Err())

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, PinParticulate, reqs[0].Pin)
	assert.Equal(t, PinEnvironment, reqs[1].Pin)
	assert.Contains(t, reqs[1].Body, `"value":"NaN"`)
	assert.Contains(t, reqs[1].Body, `"value":"101325.0"`)
}

func TestDispatchParticulateFailureStillSendsEnvironment(t *testing.T) {
	srv := newPushServer(t, PinParticulate)
	u := testUploader(t, srv.URL)

	r := NewReadingWithEnvironment(testSensorID, testReceivedAt,
		Particulate{PM1: 5, PM2_5: 8.1, PM10: 12.3},
		Environment{Temperature: 21.5, Humidity: 45, Pressure: 1013.25})
	outcome := u.Dispatch(context.Background(), r)

	require.Len(t, outcome.Results, 2)
	require.Error(t, outcome.Results[0].Err)
	assert.NoError(t, outcome.Results[1].Err)
	assert.Error(t, outcome.Err())

	var uerr *UploadError
	require.True(t, errors.As(outcome.Err(), &uerr))
	assert.Equal(t, PinParticulate, uerr.Pin)
	assert.Equal(t, http.StatusInternalServerError, uerr.StatusCode)

	assert.Len(t, srv.Requests(), 2)
}

func TestDispatchUnreachable(t *testing.T) {
	srv := newPushServer(t)
	url := srv.URL
	srv.Close()

	u := testUploader(t, url)
	outcome := u.Dispatch(context.Background(), NewReading(testSensorID, testReceivedAt, Particulate{}))

	var uerr *UploadError
	require.True(t, errors.As(outcome.Err(), &uerr))
	assert.Equal(t, 0, uerr.StatusCode)
	assert.NotNil(t, uerr.Unwrap())
}

func TestDispatchLogging(t *testing.T) {
	r := NewReadingWithEnvironment(testSensorID, testReceivedAt,
		Particulate{PM1: 5, PM2_5: 8.1, PM10: 12.3},
		Environment{Temperature: 21.5, Humidity: 45, Pressure: 1013.25})

	for _, debug := range []bool{false, true} {
		srv := newPushServer(t, PinEnvironment)
		cfg := DefaultConfig()
		cfg.Debug = debug
		cfg.LuftdatenURL = srv.URL

		var buf bytes.Buffer
		u := NewUploader(cfg, NewServerLogger(&buf, debug))
		require.NotNil(t, u)
		buf.Reset()

		outcome := u.Dispatch(context.Background(), r)
		require.Len(t, outcome.Results, 2)
		require.NoError(t, outcome.Results[0].Err)
		require.Error(t, outcome.Results[1].Err)

		out := buf.String()
		if !debug {
			assert.Empty(t, out, "quiet mode leaves reporting failures to the caller")
			continue
		}
		assert.Contains(t, out, "sending")
		assert.Contains(t, out, "sensordatavalues")
		assert.Contains(t, out, "P0")
		assert.Contains(t, out, "pressure")
		assert.Contains(t, out, "result success")
		assert.Contains(t, out, "[]")
		assert.Contains(t, out, "request failed")
		assert.Contains(t, out, "sensor unknown")
	}
}

func TestDispatchQuietSuccess(t *testing.T) {
	srv := newPushServer(t)
	cfg := DefaultConfig()
	cfg.LuftdatenURL = srv.URL

	var buf bytes.Buffer
	u := NewUploader(cfg, NewServerLogger(&buf, false))
	buf.Reset()

	outcome := u.Dispatch(context.Background(), NewReading(testSensorID, testReceivedAt, Particulate{PM1: 1, PM2_5: 2, PM10: 3}))
	require.NoError(t, outcome.Err())
	assert.Empty(t, buf.String())
}

func TestUploadFailureWarnedByQueue(t *testing.T) {
	srv := newPushServer(t, PinParticulate)
	cfg := DefaultConfig()
	cfg.LuftdatenURL = srv.URL

	var buf bytes.Buffer
	logger := NewServerLogger(&buf, false)
	u := NewUploader(cfg, logger)
	q := NewTaskQueue(1, 10, logger)
	buf.Reset()

	r := NewReading(testSensorID, testReceivedAt, Particulate{PM1: 1, PM2_5: 2, PM10: 3})
	require.True(t, q.Submit(Task{Name: "upload", SensorID: testSensorID, Run: func(ctx context.Context) error {
		return u.Dispatch(ctx, r).Err()
	}}))
	require.NoError(t, q.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "WRN")
	assert.Contains(t, out, "upload failed")
	assert.Contains(t, out, testSensorID)
	assert.Contains(t, out, "500 Internal Server Error")
	assert.NotContains(t, out, "sensordatavalues", "envelopes are only logged in debug mode")
}

// Wire form of an envelope, for checking request bodies
type wireEnvelope struct {
	SoftwareVersion string `json:"software_version"`
	Items           []struct {
		ValueType string `json:"value_type"`
		Value     string `json:"value"`
	} `json:"sensordatavalues"`
}
