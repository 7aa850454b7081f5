// Package config loads the server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	Workers         int           `yaml:"workers"` // 0 means GOMAXPROCS
	MaxEvents       int           `yaml:"max_events"`
	BatchCapacity   int           `yaml:"batch_capacity"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Log             Log           `yaml:"log"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

const (
	DefaultAddr            = ":8080"
	DefaultMaxEvents       = 128
	DefaultBatchCapacity   = 128
	DefaultReadBufferSize  = 4096
	DefaultShutdownTimeout = 5 * time.Second
)

func Default() Config {
	return Config{
		Addr:            DefaultAddr,
		MaxEvents:       DefaultMaxEvents,
		BatchCapacity:   DefaultBatchCapacity,
		ReadBufferSize:  DefaultReadBufferSize,
		ShutdownTimeout: DefaultShutdownTimeout,
		Log:             Log{Level: "info"},
	}
}

// Load reads path on top of Default and validates the result. Keys missing
// from the file keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var err error
	if _, _, serr := net.SplitHostPort(c.Addr); serr != nil {
		err = multierr.Append(err, fmt.Errorf("config: addr %q: %w", c.Addr, serr))
	}
	if c.Workers < 0 {
		err = multierr.Append(err, errors.New("config: workers must not be negative"))
	}
	if c.MaxEvents <= 0 {
		err = multierr.Append(err, errors.New("config: max_events must be positive"))
	}
	if c.BatchCapacity <= 0 {
		err = multierr.Append(err, errors.New("config: batch_capacity must be positive"))
	}
	if c.ReadBufferSize <= 0 {
		err = multierr.Append(err, errors.New("config: read_buffer_size must be positive"))
	}
	if c.ShutdownTimeout < 0 {
		err = multierr.Append(err, errors.New("config: shutdown_timeout must not be negative"))
	}
	if _, lerr := zapcore.ParseLevel(c.Log.Level); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("config: log.level: %w", lerr))
	}
	return err
}
