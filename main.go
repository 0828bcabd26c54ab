// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Main service entry point
func main() {
	configPath := flag.String("config", configDefaultFile, "configuration file, created with defaults if missing")
	flag.Parse()
	os.Exit(run(*configPath))
}

func run(configPath string) int {

	// Load the configuration, writing out the defaults if there is none yet
	cfg, created, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "TTLUFT: %v\n", err)
		return 1
	}

	logger := NewServerLogger(os.Stdout, cfg.Debug)
	if created {
		logger.Warn("failed to load config, writing defaults", "file", configPath)
	}
	logger.Info("luftdaten forwarder", "version", SoftwareVersion, "encoding", cfg.Encoding)
	if !cfg.Debug {
		logger.Info("dataflow debug information disabled")
	}
	if _, err := decoderFor(cfg.Encoding); err != nil {
		logger.Warn("uplinks with payload fields will be dropped", "error", err)
	}

	// Downstream components
	logs, err := NewLogWriter(cfg)
	if err != nil {
		logger.Error("can't create data file writer", "error", err)
		return 1
	}
	logs.LogStartup(logger)

	uploader := NewUploader(cfg, logger)
	if uploader == nil {
		logger.Warn("no luftdaten URL defined, no data will be uploaded")
	}

	mirror := NewMirror(cfg, logger)
	if mirror != nil {
		logger.Info("mirroring readings", "broker", cfg.BrokerURL, "topic", cfg.BrokerTopic)
		mirror.Start()
	}

	queue := NewTaskQueue(cfg.QueueWorkers, cfg.QueueDepth, logger)
	forwarder := NewForwarder(cfg, uploader, logs, mirror, queue, logger)

	// Start listening to TTN
	listener := NewListener(cfg, forwarder.MessageReceived, logger)
	err = listener.Start()
	if err != nil {
		logger.Error("can't start", "error", err)
		return 1
	}
	logger.Info("started luftdaten forwarder")

	// Run until we're signalled
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listener.Run(gctx)
	})
	g.Go(func() error {
		return timerStats(gctx, forwarder, logger)
	})
	err = g.Wait()
	if err != nil {
		logger.Error("stopping", "error", err)
	}

	// Let the queued uploads and saves finish
	logger.Info("stopping luftdaten forwarder")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	err = queue.Shutdown(shutdownCtx)
	if err != nil {
		logger.Warn("abandoned queued tasks", "error", err)
	}
	if mirror != nil {
		mirror.Close()
	}

	logger.Info("stopped luftdaten forwarder", forwarder.Summary()...)
	return 0

}
