// Copyright 2017 Inca Roads LLC.  All rights reserved.
// Use of this source code is governed by licenses granted by the
// copyright holder including that found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the service configuration.  It is loaded once at startup and then handed,
// by value, to each component; nothing modifies it afterwards.
type Config struct {

	// TTN
	MqttURL    string
	MqttAppID  string
	MqttAppKey string
	MqttTopic  string

	// Payload
	Encoding string

	// Luftdaten
	LuftdatenURL     string
	LuftdatenTimeout time.Duration

	// Local data files
	StorageDir  string
	StorageZone string
	FileExt     string

	// Dataflow messages
	Debug bool

	// Task queue
	QueueWorkers  int
	QueueDepth    int
	ShutdownGrace time.Duration

	// Safecast mirror
	BrokerURL      string
	BrokerUsername string
	BrokerPassword string
	BrokerTopic    string
	BrokerTimeout  time.Duration
}

// Configuration keys, as they appear in the config file
const (
	cfgMqttURL          = "mqtt.url"
	cfgMqttAppID        = "mqtt.appid"
	cfgMqttAppKey       = "mqtt.appkey"
	cfgMqttTopic        = "mqtt.topic"
	cfgEncoding         = "encoding"
	cfgLuftdatenURL     = "luftdaten.url"
	cfgLuftdatenTimeout = "luftdaten.timeout"
	cfgStorageDir       = "storage.dir"
	cfgStorageZone      = "storage.zone"
	cfgFileExt          = "file.ext"
	cfgEnableDbg        = "enable.dbg"
	cfgQueueWorkers     = "queue.workers"
	cfgQueueDepth       = "queue.depth"
	cfgShutdownGrace    = "shutdown.grace"
	cfgBrokerURL        = "broker.url"
	cfgBrokerUsername   = "broker.username"
	cfgBrokerPassword   = "broker.password"
	cfgBrokerTopic      = "broker.topic"
	cfgBrokerTimeout    = "broker.timeout"
)

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault(cfgMqttURL, ttnDefaultServer)
	v.SetDefault(cfgMqttAppID, "")
	v.SetDefault(cfgMqttAppKey, "")
	v.SetDefault(cfgMqttTopic, ttnDefaultTopic)
	v.SetDefault(cfgEncoding, EncodingRudzl)
	v.SetDefault(cfgLuftdatenURL, luftdatenDefaultURL)
	v.SetDefault(cfgLuftdatenTimeout, 10000)
	v.SetDefault(cfgStorageDir, "/tmp/")
	v.SetDefault(cfgStorageZone, dataFileDefaultZone)
	v.SetDefault(cfgFileExt, dataFileDefaultExtension)
	v.SetDefault(cfgEnableDbg, 0)
	v.SetDefault(cfgQueueWorkers, 1)
	v.SetDefault(cfgQueueDepth, 100)
	v.SetDefault(cfgShutdownGrace, "10s")
	v.SetDefault(cfgBrokerURL, "")
	v.SetDefault(cfgBrokerUsername, "")
	v.SetDefault(cfgBrokerPassword, "")
	v.SetDefault(cfgBrokerTopic, brokerDefaultTopic)
	v.SetDefault(cfgBrokerTimeout, 5000)
}

// LoadConfig reads the config file at path, with TTLUFT_* environment variables taking
// precedence.  If the file does not exist it is created from the defaults so that it
// can be edited, and created is returned as true.
func LoadConfig(path string) (cfg Config, created bool, err error) {

	v := viper.New()
	setConfigDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("TTLUFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	err = v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, false, fmt.Errorf("reading config %s: %w", path, err)
		}
		err = v.SafeWriteConfigAs(path)
		if err != nil {
			return Config{}, false, fmt.Errorf("writing default config %s: %w", path, err)
		}
		created = true
	}

	cfg, err = configFromViper(v)
	return cfg, created, err

}

// Extract and validate the settings
func configFromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		MqttURL:          strings.TrimSpace(v.GetString(cfgMqttURL)),
		MqttAppID:        v.GetString(cfgMqttAppID),
		MqttAppKey:       v.GetString(cfgMqttAppKey),
		MqttTopic:        v.GetString(cfgMqttTopic),
		Encoding:         strings.TrimSpace(v.GetString(cfgEncoding)),
		LuftdatenURL:     strings.TrimSpace(v.GetString(cfgLuftdatenURL)),
		LuftdatenTimeout: time.Duration(v.GetInt(cfgLuftdatenTimeout)) * time.Millisecond,
		StorageDir:       v.GetString(cfgStorageDir),
		StorageZone:      strings.TrimSpace(v.GetString(cfgStorageZone)),
		FileExt:          v.GetString(cfgFileExt),
		QueueWorkers:     v.GetInt(cfgQueueWorkers),
		QueueDepth:       v.GetInt(cfgQueueDepth),
		ShutdownGrace:    v.GetDuration(cfgShutdownGrace),
		BrokerURL:        strings.TrimSpace(v.GetString(cfgBrokerURL)),
		BrokerUsername:   v.GetString(cfgBrokerUsername),
		BrokerPassword:   v.GetString(cfgBrokerPassword),
		BrokerTopic:      v.GetString(cfgBrokerTopic),
		BrokerTimeout:    time.Duration(v.GetInt(cfgBrokerTimeout)) * time.Millisecond,
	}

	switch dbg := v.GetInt(cfgEnableDbg); dbg {
	case 0:
	case 1:
		cfg.Debug = true
	default:
		return Config{}, fmt.Errorf("%s must be 0 or 1, not %d", cfgEnableDbg, dbg)
	}

	if cfg.LuftdatenTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be a positive number of milliseconds", cfgLuftdatenTimeout)
	}
	if cfg.BrokerTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be a positive number of milliseconds", cfgBrokerTimeout)
	}
	if cfg.QueueWorkers < 1 {
		return Config{}, fmt.Errorf("%s must be at least 1", cfgQueueWorkers)
	}
	if cfg.QueueDepth < 1 {
		return Config{}, fmt.Errorf("%s must be at least 1", cfgQueueDepth)
	}
	if cfg.FileExt == "" {
		cfg.FileExt = dataFileDefaultExtension
	}
	if cfg.StorageZone == "" {
		cfg.StorageZone = dataFileDefaultZone
	}
	_, err := time.LoadLocation(cfg.StorageZone)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", cfgStorageZone, err)
	}

	return cfg, nil
}

// DefaultConfig returns the configuration that a freshly written config file holds
func DefaultConfig() Config {
	v := viper.New()
	setConfigDefaults(v)
	cfg, err := configFromViper(v)
	if err != nil {
		panic(err)
	}
	return cfg
}
