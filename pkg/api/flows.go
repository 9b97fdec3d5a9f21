package api

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FlowCatalog is the static mapping of known application flows.
type FlowCatalog struct {
	Flows []Flow `yaml:"flows"`
}

// Flow is a named, prerecorded action sequence for a known application path.
type Flow struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Fallback    string       `yaml:"fallback"`
	Steps       []ActionStep `yaml:"steps"`
}

// LoadFlows reads a flow catalog YAML file, unmarshals it, and validates.
func LoadFlows(filename string) (*FlowCatalog, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading flows file: %w", err)
	}

	return ParseFlows(data)
}

// ParseFlows decodes and validates a flow catalog document.
func ParseFlows(data []byte) (*FlowCatalog, error) {
	var cat FlowCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("%w: parsing flows: %v", ErrConfigInvalid, err)
	}

	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("%w: validating flows: %w", ErrConfigInvalid, err)
	}

	return &cat, nil
}

// Validate checks the catalog for errors.
func (c *FlowCatalog) Validate() error {
	if len(c.Flows) == 0 {
		return fmt.Errorf("flows list is empty")
	}

	names := make(map[string]bool)

	for i, f := range c.Flows {
		if f.Name == "" {
			return fmt.Errorf("flow %d: name is required", i)
		}
		if names[f.Name] {
			return fmt.Errorf("flow %q: duplicate name", f.Name)
		}
		names[f.Name] = true
		for j, s := range f.Steps {
			if !ValidStepKind(s.Kind) {
				return fmt.Errorf("flow %q: step %d: unknown kind %q", f.Name, j, s.Kind)
			}
		}
	}

	return nil
}

// Lookup returns the flow with the given name.
func (c *FlowCatalog) Lookup(name string) (Flow, bool) {
	if c == nil || name == "" {
		return Flow{}, false
	}
	for _, f := range c.Flows {
		if f.Name == name {
			return f, true
		}
	}
	return Flow{}, false
}

// Names lists the flow names in catalog order.
func (c *FlowCatalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Flows))
	for _, f := range c.Flows {
		names = append(names, f.Name)
	}
	return names
}
