package tokengate

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/yourusername/tokengate/core"
)

// EnvPrefix prefixes every environment variable read by LoadConfigEnv
const EnvPrefix = "TOKENGATE_"

// Config holds the admission controller configuration.
type Config struct {
	// Capacity is the maximum number of tokens per identifier,
	// also granted to a newly seen identifier
	Capacity int64 `yaml:"capacity" env:"CAPACITY"`

	// RefillPeriodMS is the time, in milliseconds, to regenerate one token
	RefillPeriodMS int64 `yaml:"refill_period_ms" env:"REFILL_PERIOD_MS"`

	// TableSize is the number of index slots
	TableSize int `yaml:"table_size" env:"TABLE_SIZE"`

	// IdleTTL removes buckets unused for this long. 0 keeps buckets forever.
	IdleTTL time.Duration `yaml:"idle_ttl,omitempty" env:"IDLE_TTL"`

	// SweepInterval is how often idle buckets are looked for when IdleTTL is set.
	// 0 disables the background sweeper; Sweep can still be called directly.
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty" env:"SWEEP_INTERVAL"`
}

// NewConfig creates a new Config with the default values.
func NewConfig() Config {
	return Config{
		Capacity:       10,
		RefillPeriodMS: 5000,
		TableSize:      20,
		SweepInterval:  1 * time.Minute,
	}
}

// LoadConfigFile loads configuration from a YAML file.
// Keys missing from the file keep their default values.
func LoadConfigFile(path string) (Config, error) {
	config := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: failed to read config file: %v", ErrConfig, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("%w: failed to parse YAML: %v", ErrConfig, err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// LoadConfigEnv loads configuration from TOKENGATE_* environment variables
// on top of the defaults.
func LoadConfigEnv() (Config, error) {
	config := NewConfig()
	if err := config.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// ApplyEnv overrides fields whose TOKENGATE_* variable is set.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("%w: failed to parse environment: %v", ErrConfig, err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if err := c.Policy().Validate(); err != nil {
		return err
	}
	if c.TableSize <= 0 {
		return fmt.Errorf("%w: table_size must be > 0, got %d", ErrConfig, c.TableSize)
	}
	if c.IdleTTL < 0 {
		return fmt.Errorf("%w: idle_ttl cannot be negative", ErrConfig)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep_interval cannot be negative", ErrConfig)
	}
	return nil
}

// Policy converts the configuration to the per-bucket policy.
func (c Config) Policy() core.Policy {
	return core.Policy{
		Capacity:     c.Capacity,
		RefillPeriod: time.Duration(c.RefillPeriodMS) * time.Millisecond,
	}
}
