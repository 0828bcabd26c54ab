// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

// Local data file handling
package main

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"
)

// Appends to the same file are serialized by one of these locks, chosen by hashing
// the filename, so that concurrent workers never interleave lines.
const dataFileLocks = 16

// LogWriter appends readings to per-sensor data files that roll over according to
// the configured date extension.  The files are opened and closed on every append
// so that other tools can read them at any time.
type LogWriter struct {
	dir   string
	ext   string
	zone  *time.Location
	now   func() time.Time
	locks [dataFileLocks]sync.Mutex
}

// NewLogWriter creates the writer.  With an empty storage directory every append
// is a no-op.
func NewLogWriter(cfg Config) (*LogWriter, error) {
	zone, err := time.LoadLocation(cfg.StorageZone)
	if err != nil {
		return nil, fmt.Errorf("data file time zone: %w", err)
	}
	return &LogWriter{
		dir:  cfg.StorageDir,
		ext:  cfg.FileExt,
		zone: zone,
		now:  time.Now,
	}, nil
}

// Enabled reports whether readings are being saved at all
func (w *LogWriter) Enabled() bool {
	return w.dir != ""
}

// LogStartup reports where readings will be saved
func (w *LogWriter) LogStartup(logger *slog.Logger) {
	if !w.Enabled() {
		logger.Warn("no storage directory defined, no data will be saved locally")
		return
	}
	logger.Info("data files will be saved", "dir", w.dir, "ext", w.ext, "zone", w.zone.String())
	if !fileExtHasDate(w.ext) {
		logger.Warn("file extension has no date fields, data files will never roll over", "ext", w.ext)
	}
}

// The extension is a Go time layout, and one without any layout fields formats to
// itself.  Old Java-style patterns such as YYMMdd end up here.
func fileExtHasDate(ext string) bool {
	sample := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	return sample.Format(ext) != ext
}

// Filename is the path of the data file for a sensor at a given time
func (w *LogWriter) Filename(sensorID string, when time.Time) string {
	return w.dir + sensorID + "-" + when.In(w.zone).Format(w.ext)
}

// Append writes a line for the reading, creating the file with a header first if
// it doesn't exist yet.
func (w *LogWriter) Append(r Reading) error {

	// Saving locally is optional
	if !w.Enabled() {
		return nil
	}

	now := w.now().In(w.zone)
	filename := w.Filename(r.SensorID(), now)

	lock := &w.locks[crc32.ChecksumIEEE([]byte(filename))%dataFileLocks]
	lock.Lock()
	defer lock.Unlock()

	fd, err := dataFileOpen(filename)
	if err != nil {
		return fmt.Errorf("opening data file: %w", err)
	}

	_, err = io.WriteString(fd, dataFileLine(now, r))
	if err != nil {
		err = fmt.Errorf("writing data file %s: %w", filename, err)
	}

	// Close and exit
	return errors.Join(err, fd.Close())

}

// Open a data file for append, creating it if necessary
func dataFileOpen(filename string) (*os.File, error) {

	// Open it
	fd, err := os.OpenFile(filename, os.O_WRONLY|os.O_APPEND, 0666)

	// Exit if no error
	if err == nil {
		return fd, nil
	}

	// Don't attempt to create it if it already exists
	_, err2 := os.Stat(filename)
	if err2 == nil {
		return nil, err
	}
	if !os.IsNotExist(err2) {
		return nil, err2
	}

	// Create the new dataset
	return dataFileNew(filename)

}

// Create a new data file with its header
func dataFileNew(filename string) (*os.File, error) {

	fd, err := os.OpenFile(filename, os.O_WRONLY|os.O_APPEND|os.O_CREATE|os.O_EXCL, 0666)
	if errors.Is(err, os.ErrExist) {
		// Someone else just created it, so it already has its header
		return os.OpenFile(filename, os.O_WRONLY|os.O_APPEND, 0666)
	}
	if err != nil {
		return nil, err
	}

	// Write the header
	_, err = io.WriteString(fd, dataFileHeader)
	if err != nil {
		fd.Close()
		return nil, err
	}

	// Done
	return fd, nil

}

// Format one data line.  Note that the column order is PM1, PM2.5, PM10, which is
// not the order of the names in the header.
func dataFileLine(when time.Time, r Reading) string {
	var s strings.Builder

	s.WriteString(when.Format(dataFileTimestampFormat))

	pm := r.Particulate()
	s.WriteString("," + FormatValue(pm.PM1))
	s.WriteString("," + FormatValue(pm.PM2_5))
	s.WriteString("," + FormatValue(pm.PM10))

	if env, ok := r.Environment(); ok {
		s.WriteString("," + FormatValue(env.Temperature))
		s.WriteString("," + FormatValue(env.Humidity))
		s.WriteString("," + FormatValue(env.Pressure))
		s.WriteString("\n")
	} else {
		s.WriteString(",0,0,0\n")
	}

	return s.String()
}
