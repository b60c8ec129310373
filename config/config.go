// Package config loads profz harness settings.
// Precedence: built-in defaults → YAML file → PROFZ_* environment variables.
// Command-line flags are applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Sink kinds.
const (
	SinkDir    = "dir"
	SinkBadger = "badger"
)

// SinkConfig selects where rendered reports are persisted.
type SinkConfig struct {
	Kind string `yaml:"kind"` // "dir" or "badger"
	Dir  string `yaml:"dir"`  // output directory or badger data directory
}

// Config holds all harness settings.
type Config struct {
	Param         string        `yaml:"param"`          // query parameter that activates profiling
	RootName      string        `yaml:"root_name"`      // name of the per-request root span
	InitName      string        `yaml:"init_name"`      // name of the span covering time before the handler ran
	Listen        string        `yaml:"listen"`         // demo server address
	MetricsAddr   string        `yaml:"metrics_addr"`   // empty disables /metrics
	LogLevel      string        `yaml:"log_level"`      // debug, info, warn, error
	Sink          SinkConfig    `yaml:"sink"`
	BufferSize    int           `yaml:"buffer_size"`    // collector queue length
	FlushInterval time.Duration `yaml:"flush_interval"` // how often queued reports are persisted
	NodeID        int64         `yaml:"node_id"`        // snowflake node for report ids, 0-1023
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Param:         "__profile",
		RootName:      "root",
		InitName:      "init",
		Listen:        ":8080",
		LogLevel:      "info",
		Sink:          SinkConfig{Kind: SinkDir, Dir: "profiles"},
		BufferSize:    64,
		FlushInterval: time.Second,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. The result is not validated, so
// callers can apply further overrides first; call Validate once they are done.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"PROFZ_PARAM":        &c.Param,
		"PROFZ_ROOT_NAME":    &c.RootName,
		"PROFZ_INIT_NAME":    &c.InitName,
		"PROFZ_LISTEN":       &c.Listen,
		"PROFZ_METRICS_ADDR": &c.MetricsAddr,
		"PROFZ_LOG_LEVEL":    &c.LogLevel,
		"PROFZ_SINK_KIND":    &c.Sink.Kind,
		"PROFZ_SINK_DIR":     &c.Sink.Dir,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v := os.Getenv("PROFZ_BUFFER_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PROFZ_BUFFER_SIZE: %w", err)
		}
		c.BufferSize = n
	}
	if v := os.Getenv("PROFZ_FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PROFZ_FLUSH_INTERVAL: %w", err)
		}
		c.FlushInterval = d
	}
	if v := os.Getenv("PROFZ_NODE_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("PROFZ_NODE_ID: %w", err)
		}
		c.NodeID = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Param == "":
		return errors.New("param must not be empty")
	case c.RootName == "":
		return errors.New("root_name must not be empty")
	case c.Sink.Kind != SinkDir && c.Sink.Kind != SinkBadger:
		return fmt.Errorf("sink.kind %q: want %q or %q", c.Sink.Kind, SinkDir, SinkBadger)
	case c.Sink.Dir == "":
		return errors.New("sink.dir must not be empty")
	case c.BufferSize <= 0:
		return errors.New("buffer_size must be > 0")
	case c.FlushInterval <= 0:
		return errors.New("flush_interval must be > 0")
	case c.NodeID < 0 || c.NodeID > 1023:
		return fmt.Errorf("node_id %d out of range 0-1023", c.NodeID)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Logger builds a production zap logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
