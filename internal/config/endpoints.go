package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EndpointOverrides tunes registered model endpoints without code changes.
// Keys are lower-cased model names.
type EndpointOverrides struct {
	Models map[string]*ModelOverride `yaml:"models"`
}

// ModelOverride holds the per-model settings. Nil fields leave the declared
// value untouched.
type ModelOverride struct {
	MaxPerPage      *int     `yaml:"max_per_page"`
	ImmutableFields []string `yaml:"immutable_fields"`
	List            *bool    `yaml:"list"`
}

// LoadEndpointOverrides reads the YAML overrides file at path.
func LoadEndpointOverrides(path string) (*EndpointOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read endpoints config: %w", err)
	}
	return ParseEndpointOverrides(data)
}

// ParseEndpointOverrides decodes and validates overrides.
func ParseEndpointOverrides(data []byte) (*EndpointOverrides, error) {
	var cfg EndpointOverrides
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse endpoints config: %w", err)
	}

	normalised := make(map[string]*ModelOverride, len(cfg.Models))
	for name, override := range cfg.Models {
		if override == nil {
			continue
		}
		if override.MaxPerPage != nil && *override.MaxPerPage <= 0 {
			return nil, fmt.Errorf("model %s: max_per_page must be positive", name)
		}
		normalised[strings.ToLower(strings.TrimSpace(name))] = override
	}
	cfg.Models = normalised
	return &cfg, nil
}

// LoadEndpointOverridesOrEmpty returns empty overrides when path is unset.
func LoadEndpointOverridesOrEmpty(path string) (*EndpointOverrides, error) {
	if strings.TrimSpace(path) == "" {
		return &EndpointOverrides{Models: map[string]*ModelOverride{}}, nil
	}
	return LoadEndpointOverrides(path)
}

// For returns the override for model, or nil.
func (o *EndpointOverrides) For(model string) *ModelOverride {
	if o == nil {
		return nil
	}
	return o.Models[strings.ToLower(model)]
}
