// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// NowInUTC gets the current time in UTC as a string formatted for log files
func NowInUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// ErrorString cleans up an error string to eliminate the URL so that it can be logged
// without exposing the endpoint.  Empirically the actual error message is after the
// rightmost colon.
func ErrorString(err error) string {
	errString := fmt.Sprintf("%s", err)
	s0 := strings.Split(errString, ":")
	s1 := s0[len(s0)-1]
	s2 := strings.TrimSpace(s1)
	return s2
}

// FormatValue formats a measurement the way the data files and luftdaten uploads have
// always carried them: shortest round-trip decimal with at least one fractional digit
// ("20.0", "2.5"), exponent notation outside [1e-3, 1e7), and "NaN" for missing values.
func FormatValue(v float64) string {

	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}

	abs := math.Abs(v)
	if abs == 0 || (abs >= 1e-3 && abs < 1e7) {
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}

	s := strconv.FormatFloat(v, 'E', -1, 64)
	mantissa, exponent, _ := strings.Cut(s, "E")
	if !strings.Contains(mantissa, ".") {
		mantissa += ".0"
	}
	exp, _ := strconv.Atoi(exponent)
	return mantissa + "E" + strconv.Itoa(exp)

}
