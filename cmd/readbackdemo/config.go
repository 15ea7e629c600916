package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config holds the demo settings. Values come from an optional YAML file,
// overridden by any flag given on the command line.
type config struct {
	Backend   string        `yaml:"backend"`
	Width     int           `yaml:"width"`
	Height    int           `yaml:"height"`
	Clients   int           `yaml:"clients"`
	Requests  int           `yaml:"requests"`
	FrameRate float64       `yaml:"frame_rate"`
	Timeout   time.Duration `yaml:"timeout"`
	Output    string        `yaml:"output"`
	Verbose   bool          `yaml:"verbose"`
}

func defaultConfig() config {
	return config{
		Width:     256,
		Height:    256,
		Clients:   4,
		Requests:  16,
		FrameRate: 60,
		Timeout:   2 * time.Second,
		Output:    "readback.bmp",
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults unchanged.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c config) validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid image size %dx%d", c.Width, c.Height))
	}
	if c.Clients <= 0 {
		errs = append(errs, fmt.Errorf("clients must be positive, got %d", c.Clients))
	}
	if c.Requests <= 0 {
		errs = append(errs, fmt.Errorf("requests must be positive, got %d", c.Requests))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %v", c.Timeout))
	}
	return errors.Join(errs...)
}
