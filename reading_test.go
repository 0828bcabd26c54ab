// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadingString(t *testing.T) {
	pm := Particulate{PM1: 5, PM2_5: 8.1, PM10: 12.3}

	r := NewReading("TTN-1", testReceivedAt, pm)
	assert.Equal(t, "{id=TTN-1,PM10=12.3,PM2.5=8.1,PM1=5.0}", r.String())

	r = NewReadingWithEnvironment("TTN-1", testReceivedAt, pm, Environment{Temperature: 21.5, Humidity: 45, Pressure: 1013.2})
	assert.Equal(t, "{id=TTN-1,PM10=12.3,PM2.5=8.1,PM1=5.0,T=21.5,RH=45.0,P=1013.2}", r.String())
}

func TestReadingEnvironmentPresence(t *testing.T) {
	r := NewReading("TTN-1", testReceivedAt, Particulate{})
	_, ok := r.Environment()
	assert.False(t, ok)

	r = NewReadingWithEnvironment("TTN-1", testReceivedAt, Particulate{}, Environment{})
	env, ok := r.Environment()
	assert.True(t, ok)
	assert.Equal(t, Environment{}, env)
}
