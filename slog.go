// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

// Server log support
package main

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

// NewServerLogger logs to the console with our usual timestamps.  With debug enabled
// the dataflow messages are shown too.
func NewServerLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: logDateFormat,
	})
	return slog.New(h)
}
