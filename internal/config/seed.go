package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed lists topics and listeners to register at startup, before any
// publisher or listener has spoken to the hub.
type Seed struct {
	Topics    []string `yaml:"topics"`
	Listeners []string `yaml:"listeners"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &seed, nil
}
