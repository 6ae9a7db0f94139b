package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config drives the demo. Every field can also be set by a flag of the same
// name, which wins over the file.
type Config struct {
	Ticks       int           `yaml:"ticks"`
	Interval    time.Duration `yaml:"interval"`
	WalkEvery   int           `yaml:"walk_every"`
	FaultEvery  int           `yaml:"fault_every"`
	LogLevel    string        `yaml:"log_level"`
	MetricsAddr string        `yaml:"metrics_addr"`
	PlantUML    bool          `yaml:"plantuml"`
}

var DefaultConfig = Config{
	Ticks:     12,
	Interval:  500 * time.Millisecond,
	WalkEvery: 5,
	LogLevel:  "info",
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("yaml unmarshal %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (cfg Config) Validate() error {
	if cfg.Ticks < 0 {
		return fmt.Errorf("ticks must not be negative, got %d", cfg.Ticks)
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if _, err := cfg.Level(); err != nil {
		return err
	}
	return nil
}

func (cfg Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return level, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
