package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration file, YAML-encoded.
//
// Example (arbor.yaml):
//
//	db_path: ./arbor.db
//	default_algorithm: kdtree
//	default_metric: cosine
//	log_level: info
type Config struct {
	DBPath           string `yaml:"db_path"`
	DefaultAlgorithm string `yaml:"default_algorithm"`
	DefaultMetric    string `yaml:"default_metric"`
	LogLevel         string `yaml:"log_level"`
}

// DefaultConfig contains the configuration used when no file is given.
var DefaultConfig = Config{
	DBPath:           "arbor.db",
	DefaultAlgorithm: "linear",
	DefaultMetric:    "euclidean",
	LogLevel:         "warn",
}

// LoadConfig reads the YAML config at path, overlaying the defaults.
// An empty path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}
