// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

package main

import (
	"context"
	"log/slog"
	"time"
)

const statsInterval = 12 * time.Hour

// Periodically log the message counts, skipping periods in which nothing arrived
func timerStats(ctx context.Context, f *Forwarder, logger *slog.Logger) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	var lastReceived uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			received := f.Count.Received.Load()
			if received == lastReceived {
				logger.Warn("no uplinks received", "since", statsInterval)
				continue
			}
			lastReceived = received
			logger.Info("stats", f.Summary()...)
		}
	}
}

// Summary is the message counts as log attributes
func (f *Forwarder) Summary() []any {
	return []any{
		"received", f.Count.Received.Load(),
		"decoded", f.Count.Decoded.Load(),
		"dropped", f.Count.Dropped.Load(),
	}
}
