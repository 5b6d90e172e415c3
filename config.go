package ghostmap

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultMaxIterations = 64
	DefaultMaxMapDepth   = 32
)

// Config holds the tunables of states and the fixed-point driver.
type Config struct {
	// Maximum number of execute/merge iterations. Zero means no limit.
	MaxIterations int `yaml:"max_iterations"`

	// Number of map pairs searched in parallel during inference.
	Workers int `yaml:"workers"`

	// Maximum nesting of map expressions expanded at once. Zero means no limit.
	MaxMapDepth int `yaml:"max_map_depth"`

	// If true, states record every map operation to their trail.
	Record bool `yaml:"record"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() Config {
	return Config{
		MaxIterations: DefaultMaxIterations,
		Workers:       runtime.GOMAXPROCS(0),
		MaxMapDepth:   DefaultMaxMapDepth,
	}
}

// ParseConfig parses YAML data on top of the default configuration.
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// LoadConfig reads and parses the YAML configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	return ParseConfig(data)
}

// Validate returns an error if any value is out of range.
func (c Config) Validate() error {
	if c.MaxIterations < 0 {
		return errors.Errorf("config: max_iterations must be non-negative: %d", c.MaxIterations)
	} else if c.Workers < 1 {
		return errors.Errorf("config: workers must be positive: %d", c.Workers)
	} else if c.MaxMapDepth < 0 {
		return errors.Errorf("config: max_map_depth must be non-negative: %d", c.MaxMapDepth)
	}
	return nil
}
