package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile carries deploy-specific policy settings that do not belong in
// environment variables: tenant guard expressions and optional threshold
// overrides applied when a request leaves them unset.
type Profile struct {
	Name string `yaml:"name"`

	// Guards maps guard name to a CEL expression. All guards apply to
	// every tenant of the deployment.
	Guards map[string]string `yaml:"guards"`

	Defaults struct {
		MinConfidence       float64 `yaml:"min_confidence"`
		MaxStalenessMinutes int     `yaml:"max_staleness_minutes"`
		MinLineageCount     int     `yaml:"min_lineage_count"`
	} `yaml:"defaults"`
}

// LoadProfile reads a profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	if p.Defaults.MinConfidence < 0 || p.Defaults.MinConfidence > 1 {
		return nil, fmt.Errorf("profile %s: min_confidence out of range", path)
	}
	if p.Defaults.MaxStalenessMinutes < 0 || p.Defaults.MinLineageCount < 0 {
		return nil, fmt.Errorf("profile %s: negative threshold default", path)
	}
	return &p, nil
}
