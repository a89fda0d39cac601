// Package config loads the simulator service configuration from YAML.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "1ms", "5s", "24h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Instance string `yaml:"instance"`
	Listen   string `yaml:"listen"`

	Redis      Redis      `yaml:"redis"`
	Simulation Simulation `yaml:"simulation"`
	History    History    `yaml:"history"`
	SMTP       SMTP       `yaml:"smtp"`
}

// Redis holds the broker connection settings.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Simulation holds the engine constants. Zero values fall back to the
// engine's defaults.
type Simulation struct {
	TickPeriod       Duration `yaml:"tick_period"`
	DecayTau         float64  `yaml:"decay_tau_s"`
	InjectThreshold  float64  `yaml:"inject_threshold_ma"`
	SlowInjectRate   float64  `yaml:"slow_inject_rate_ma_s"`
	FastInjectRate   float64  `yaml:"fast_inject_rate_ma_s"`
	BeamlineWait     float64  `yaml:"beamline_wait_s"`
	FaultProbability float64  `yaml:"fault_probability_per_s"`
	NoiseMin         float64  `yaml:"noise_min_ma_s"`
	NoiseMax         float64  `yaml:"noise_max_ma_s"`
}

// History configures the SQLite sample recorder.
type History struct {
	Path           string   `yaml:"path"`
	SampleInterval Duration `yaml:"sample_interval"`
	Retention      Duration `yaml:"retention"`
}

// SMTP configures email fault notification. An empty Addr disables it.
type SMTP struct {
	Addr    string   `yaml:"addr"`
	From    string   `yaml:"from"`
	To      []string `yaml:"to"`
	Subject string   `yaml:"subject"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Instance: "spear-01",
		Listen:   ":8080",
		Redis: Redis{
			Addr: "localhost:6379",
		},
		History: History{
			Path:           "spearsim.db",
			SampleInterval: Duration(time.Second),
			Retention:      Duration(24 * time.Hour),
		},
		SMTP: SMTP{
			Subject: "SPEAR beam fault",
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are an error to
// catch typos in operator configs.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Instance == "" {
		return cfg, fmt.Errorf("config %s: instance must not be empty", path)
	}
	if cfg.History.SampleInterval.Std() <= 0 {
		return cfg, fmt.Errorf("config %s: history.sample_interval must be positive", path)
	}
	return cfg, nil
}
