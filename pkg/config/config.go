// Package config provides configuration loading and management for tubulargeodesics.
// It handles loading configuration from YAML files, validating it and providing
// default values.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration is matched by every configuration failure.
var ErrConfiguration = errors.New("configuration error")

// ConfigError reports an invalid parameter supplied by the caller.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrConfiguration) hold for every ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// Invalid builds a ConfigError for a field.
func Invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ScaleRange describes a scale list by its bounds, as the host plugin passes it.
type ScaleRange struct {
	// Min is the smallest tube radius probed, in voxels
	Min float64 `yaml:"min" validate:"gt=0"`

	// Max is the largest tube radius probed, in voxels
	Max float64 `yaml:"max" validate:"gtefield=Min"`

	// Count is the number of scales sampled from [Min, Max]
	Count int `yaml:"count" validate:"gt=0"`

	// Logarithmic spaces the scales geometrically instead of linearly
	Logarithmic bool `yaml:"logarithmic"`
}

// Scales expands the range into an ascending scale list.
func (r ScaleRange) Scales() []float64 {
	if r.Count <= 0 {
		return nil
	}
	if r.Count == 1 || r.Max == r.Min {
		return []float64{r.Min}
	}
	out := make([]float64, r.Count)
	for i := range out {
		t := float64(i) / float64(r.Count-1)
		if r.Logarithmic {
			out[i] = r.Min * math.Pow(r.Max/r.Min, t)
		} else {
			out[i] = r.Min + t*(r.Max-r.Min)
		}
	}
	return out
}

// Tubularity holds the multiscale oriented flux parameters.
type Tubularity struct {
	// Scales lists the tube radii explicitly; when empty Range is used
	Scales []float64 `yaml:"scales,omitempty" validate:"omitempty,dive,gt=0"`

	// Range generates the scale list when Scales is empty
	Range *ScaleRange `yaml:"range,omitempty" validate:"omitempty"`

	// SmoothingSigma is the Gaussian regularization applied with the flux filter
	SmoothingSigma float64 `yaml:"smoothingSigma" validate:"gt=0"`

	// Workers bounds the number of scales evaluated in parallel
	Workers int `yaml:"workers" validate:"gte=0"`
}

// Cost holds the tubularity-to-cost mapping parameters.
type Cost struct {
	// Floor is the minimum traversal cost; it must stay strictly positive
	Floor float64 `yaml:"floor" validate:"gt=0"`

	// Sensitivity is the exponent controlling on-tube/off-tube contrast
	Sensitivity float64 `yaml:"sensitivity" validate:"gt=0"`
}

// Tracing holds the back-propagation parameters.
type Tracing struct {
	// Step is the descent step length in physical units
	Step float64 `yaml:"step" validate:"gt=0"`

	// MaxIterations bounds the number of steps per end point
	MaxIterations int `yaml:"maxIterations" validate:"gt=0"`

	// TerminationDistance is the arrival value below which tracing stops
	TerminationDistance float64 `yaml:"terminationDistance" validate:"gte=0"`

	// StartProximity lets tracing finish on a start voxel within this many voxels
	StartProximity float64 `yaml:"startProximity" validate:"gte=0"`

	// MinStepFactor is the fraction of Step below which relaxation gives up
	MinStepFactor float64 `yaml:"minStepFactor" validate:"gt=0,lte=1"`
}

// Search holds job-level settings.
type Search struct {
	// MaxConcurrentJobs bounds how many jobs run at the same time
	MaxConcurrentJobs int `yaml:"maxConcurrentJobs" validate:"gt=0"`
}

// Logging holds the log output settings.
type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	Tubularity Tubularity `yaml:"tubularity"`
	Cost       Cost       `yaml:"cost"`
	Tracing    Tracing    `yaml:"tracing"`
	Search     Search     `yaml:"search"`
	Logging    Logging    `yaml:"logging"`
}

// DefaultTerminationDistance is the arrival value at which tracing stops
// unless configured otherwise.
const DefaultTerminationDistance = 0.01

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Tubularity.Range = &ScaleRange{Min: 1, Max: 3, Count: 3}
	cfg.Tubularity.SmoothingSigma = 1.0
	cfg.Tubularity.Workers = runtime.NumCPU()

	cfg.Cost.Floor = 0.01
	cfg.Cost.Sensitivity = 1.0

	cfg.Tracing.Step = 0.5
	cfg.Tracing.MaxIterations = 10000
	cfg.Tracing.TerminationDistance = DefaultTerminationDistance
	cfg.Tracing.StartProximity = 0.5
	cfg.Tracing.MinStepFactor = 1e-3

	cfg.Search.MaxConcurrentJobs = 2

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

var validate = validator.New()

// Validate checks every parameter and reports the first violation as a
// ConfigError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return Invalid(fe.Namespace(), "failed %q check (value %v)", fe.Tag(), fe.Value())
		}
		return Invalid("config", "%v", err)
	}
	if len(c.ResolvedScales()) == 0 {
		return Invalid("Config.Tubularity.Scales", "must not be empty")
	}
	return nil
}

// ResolvedScales returns the explicit scale list, or the expanded range when
// no explicit list is configured.
func (c *Config) ResolvedScales() []float64 {
	if len(c.Tubularity.Scales) > 0 {
		return append([]float64(nil), c.Tubularity.Scales...)
	}
	if c.Tubularity.Range != nil {
		return c.Tubularity.Range.Scales()
	}
	return nil
}

// Clone returns a deep copy so a submitted job never observes later edits.
func (c *Config) Clone() *Config {
	out := *c
	out.Tubularity.Scales = append([]float64(nil), c.Tubularity.Scales...)
	if c.Tubularity.Range != nil {
		r := *c.Tubularity.Range
		out.Tubularity.Range = &r
	}
	return &out
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	// An explicit scale list in the file replaces the default range.
	if len(cfg.Tubularity.Scales) > 0 {
		cfg.Tubularity.Range = nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
