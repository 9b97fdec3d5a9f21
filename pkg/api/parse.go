package api

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a presentation YAML file, sets Dir, and validates it.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	c, err := decodeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %v", ErrConfigInvalid, err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	c.Dir = filepath.Dir(absPath)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", filename, err)
	}

	return c, nil
}

// ParseConfig decodes and validates a configuration document that has no
// file location, such as an HTTP request body.
func ParseConfig(data []byte) (*Config, error) {
	c, err := decodeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing config: %v", ErrConfigInvalid, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// FlowsPath resolves the flow catalog path relative to the config file.
// It returns "" when no catalog is configured.
func (c *Config) FlowsPath() string {
	if c.Demo.Flows == "" {
		return ""
	}
	if filepath.IsAbs(c.Demo.Flows) || c.Dir == "" {
		return c.Demo.Flows
	}
	return filepath.Join(c.Dir, c.Demo.Flows)
}
