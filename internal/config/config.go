// Package config loads the simulator configuration: defaults, then an
// optional YAML file, then environment overrides, then validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	"github.com/signalsfoundry/pipenet-simulator/internal/observability"
)

// ErrInvalidConfig wraps decode and validation failures.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// Config is the full simulator configuration.
type Config struct {
	Simulation SimulationConfig            `yaml:"simulation"`
	Logging    logging.Config              `yaml:"logging"`
	Metrics    MetricsConfig               `yaml:"metrics"`
	Tracing    observability.TracingConfig `yaml:"tracing"`
}

// SimulationConfig controls the tick loop and the scenario it runs.
type SimulationConfig struct {
	Scenario    string        `yaml:"scenario" validate:"required"`
	Tick        time.Duration `yaml:"tick" validate:"gt=0"`
	Duration    time.Duration `yaml:"duration" validate:"gte=0"` // 0 runs until interrupted; real-time only
	Accelerated bool          `yaml:"accelerated"`
	Equalize    bool          `yaml:"equalize"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port|startswith=:"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Simulation: SimulationConfig{
			Scenario:    "configs/pipe_scenario.json",
			Tick:        500 * time.Millisecond,
			Duration:    10 * time.Second,
			Accelerated: true,
			Equalize:    true,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
		cfg, err = Decode(bytes.NewReader(data), cfg)
		if err != nil {
			return Config{}, err
		}
	}
	cfg = cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode unmarshals YAML from r on top of base. Keys absent from the
// document keep base's values; unknown keys are an error.
func Decode(r io.Reader, base Config) (Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	cfg := base
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: decode yaml: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables. Malformed durations are ignored.
func (c Config) ApplyEnv() Config {
	if v := os.Getenv("ATMOS_SCENARIO"); v != "" {
		c.Simulation.Scenario = v
	}
	if d, ok := envDuration("ATMOS_TICK"); ok {
		c.Simulation.Tick = d
	}
	if d, ok := envDuration("ATMOS_DURATION"); ok {
		c.Simulation.Duration = d
	}
	if v := os.Getenv("ATMOS_ACCELERATED"); v != "" {
		c.Simulation.Accelerated = strings.EqualFold(v, "true")
	}
	if v, ok := os.LookupEnv("ATMOS_METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	c.Tracing = c.Tracing.ApplyEnv()
	return c
}

// Validate checks struct-tag constraints on the whole config, plus
// cross-field rules registered in init.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// An accelerated run never sleeps, so it needs a bound.
func validateSimulation(sl validator.StructLevel) {
	sim := sl.Current().Interface().(SimulationConfig)
	if sim.Accelerated && sim.Duration == 0 {
		sl.ReportError(sim.Duration, "Duration", "duration", "required_if_accelerated", "")
	}
}

func init() {
	validate.RegisterStructValidation(validateSimulation, SimulationConfig{})
}

func envDuration(key string) (time.Duration, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}
