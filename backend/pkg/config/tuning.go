package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tuning is the optional YAML file for scoring parameters that do not fit
// in environment variables, mainly the per-platform source quality table.
//
//	weights:
//	  attribute: 0.3
//	  source_quality: 0.2
//	  temporal: 0.2
//	  uniqueness: 0.3
//	source_quality:
//	  default: 0.6
//	  verified: 1.0
//	  platforms:
//	    keybase: 0.9
//	    pastebin: 0.3
type Tuning struct {
	Weights *struct {
		Attribute     float64 `yaml:"attribute"`
		SourceQuality float64 `yaml:"source_quality"`
		Temporal      float64 `yaml:"temporal"`
		Uniqueness    float64 `yaml:"uniqueness"`
	} `yaml:"weights"`
	SourceQuality struct {
		Default   *float64           `yaml:"default"`
		Verified  *float64           `yaml:"verified"`
		Platforms map[string]float64 `yaml:"platforms"`
	} `yaml:"source_quality"`
}

// LoadTuning reads a tuning file
func LoadTuning(path string) (*Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}

	var t Tuning
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse tuning file: %w", err)
	}
	for platform, q := range t.SourceQuality.Platforms {
		if q < 0 || q > 1 {
			return nil, fmt.Errorf("source quality of %s must be within [0,1]", platform)
		}
	}
	return &t, nil
}

// Apply overrides the config with whatever the file sets
func (t *Tuning) Apply(c *Config) {
	if t.Weights != nil {
		c.Weights.Attribute = t.Weights.Attribute
		c.Weights.SourceQuality = t.Weights.SourceQuality
		c.Weights.Temporal = t.Weights.Temporal
		c.Weights.Uniqueness = t.Weights.Uniqueness
	}
	if t.SourceQuality.Default != nil {
		c.SourceQuality.Default = *t.SourceQuality.Default
	}
	if t.SourceQuality.Verified != nil {
		c.SourceQuality.Verified = *t.SourceQuality.Verified
	}
	if len(t.SourceQuality.Platforms) > 0 {
		c.SourceQuality.Platforms = make(map[string]float64, len(t.SourceQuality.Platforms))
		for platform, q := range t.SourceQuality.Platforms {
			c.SourceQuality.Platforms[strings.ToLower(strings.TrimSpace(platform))] = q
		}
	}
}
