// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`""`, time.Time{}},
		{`null`, time.Time{}},
		{`"yesterday"`, time.Time{}},
		{`12345`, time.Time{}},
		{`"2019-11-05T14:30:00.123456Z"`, time.Date(2019, 11, 5, 14, 30, 0, 123456000, time.UTC)},
	}
	for _, tt := range tests {
		var gw GatewayMetadata
		require.NoError(t, json.Unmarshal([]byte(`{"gtw_id":"g","time":`+tt.in+`}`), &gw), tt.in)
		assert.True(t, tt.want.Equal(gw.Time.Time()), tt.in)
		assert.Equal(t, "g", gw.GtwID)
	}
}
