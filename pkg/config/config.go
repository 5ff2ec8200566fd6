// Package config holds the static parameter set consumed by the csvguard pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. CSVGUARD_MAX_ROWS.
const EnvPrefix = "CSVGUARD"

// ErrInvalidConfig marks configuration validation failures.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full configuration of a csvguard process.
type Config struct {
	// Resource limits
	MaxFileSizeBytes  int64    `mapstructure:"max_file_size_bytes" yaml:"max_file_size_bytes"`
	MaxRows           int      `mapstructure:"max_rows" yaml:"max_rows"`
	MaxColumns        int      `mapstructure:"max_columns" yaml:"max_columns"`
	MinNumericColumns int      `mapstructure:"min_numeric_columns" yaml:"min_numeric_columns"`
	AllowedExtensions []string `mapstructure:"allowed_extensions" yaml:"allowed_extensions"`

	// Scorer
	ContaminationRate float64 `mapstructure:"contamination_rate" yaml:"contamination_rate"`
	Trees             int     `mapstructure:"trees" yaml:"trees"`
	SampleSize        int     `mapstructure:"sample_size" yaml:"sample_size"`
	Seed              int64   `mapstructure:"seed" yaml:"seed"`

	// CategoricalPercentile thresholds the text-column scorer; 0 disables it.
	CategoricalPercentile float64 `mapstructure:"categorical_percentile" yaml:"categorical_percentile"`

	// Logging
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// Limits is the immutable resource-protection subset threaded into the
// validator, parser and feature selector.
type Limits struct {
	MaxFileSizeBytes  int64
	MaxRows           int
	MaxColumns        int
	MinNumericColumns int
	AllowedExtensions []string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		MaxFileSizeBytes:  200 << 20,
		MaxRows:           1_000_000,
		MaxColumns:        200,
		MinNumericColumns: 1,
		AllowedExtensions: []string{".csv"},
		ContaminationRate: 0.1,
		Trees:             100,
		SampleSize:        256,
		Seed:              42,

		CategoricalPercentile: 95,

		LogLevel:  "info",
		LogFormat: "json",
	}
}

// DefaultLimits returns Default().Limits().
func DefaultLimits() Limits {
	return Default().Limits()
}

// Limits returns a copy of the resource limits.
func (c Config) Limits() Limits {
	exts := make([]string, len(c.AllowedExtensions))
	copy(exts, c.AllowedExtensions)
	return Limits{
		MaxFileSizeBytes:  c.MaxFileSizeBytes,
		MaxRows:           c.MaxRows,
		MaxColumns:        c.MaxColumns,
		MinNumericColumns: c.MinNumericColumns,
		AllowedExtensions: exts,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var err error
	if c.MaxFileSizeBytes <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: max_file_size_bytes must be positive", ErrInvalidConfig))
	}
	if c.MaxRows <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: max_rows must be positive", ErrInvalidConfig))
	}
	if c.MaxColumns <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: max_columns must be positive", ErrInvalidConfig))
	}
	if c.MinNumericColumns < 1 {
		err = multierr.Append(err, fmt.Errorf("%w: min_numeric_columns must be at least 1", ErrInvalidConfig))
	}
	if len(c.AllowedExtensions) == 0 {
		err = multierr.Append(err, fmt.Errorf("%w: allowed_extensions must not be empty", ErrInvalidConfig))
	}
	for _, ext := range c.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			err = multierr.Append(err, fmt.Errorf("%w: extension %q must start with a dot", ErrInvalidConfig, ext))
		}
	}
	if c.ContaminationRate <= 0 || c.ContaminationRate > 0.5 {
		err = multierr.Append(err, fmt.Errorf("%w: contamination_rate must be in (0, 0.5]", ErrInvalidConfig))
	}
	if c.Trees < 1 {
		err = multierr.Append(err, fmt.Errorf("%w: trees must be at least 1", ErrInvalidConfig))
	}
	if c.SampleSize < 2 {
		err = multierr.Append(err, fmt.Errorf("%w: sample_size must be at least 2", ErrInvalidConfig))
	}
	if c.CategoricalPercentile < 0 || c.CategoricalPercentile >= 100 {
		err = multierr.Append(err, fmt.Errorf("%w: categorical_percentile must be in [0, 100)", ErrInvalidConfig))
	}
	return err
}

// Load builds a Config from defaults, an optional YAML file and CSVGUARD_* env vars.
// Precedence: env > config file > defaults.
func Load(cfgFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("max_file_size_bytes", d.MaxFileSizeBytes)
	v.SetDefault("max_rows", d.MaxRows)
	v.SetDefault("max_columns", d.MaxColumns)
	v.SetDefault("min_numeric_columns", d.MinNumericColumns)
	v.SetDefault("allowed_extensions", d.AllowedExtensions)
	v.SetDefault("contamination_rate", d.ContaminationRate)
	v.SetDefault("trees", d.Trees)
	v.SetDefault("sample_size", d.SampleSize)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("categorical_percentile", d.CategoricalPercentile)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	for i, ext := range c.AllowedExtensions {
		c.AllowedExtensions[i] = strings.ToLower(strings.TrimSpace(ext))
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Save writes c as YAML to path, creating the parent directory.
func Save(c Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Marshal renders c as YAML.
func Marshal(c Config) ([]byte, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	return b, nil
}
