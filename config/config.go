// Package config loads the application configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"coffeetrade/logx"
)

// Config is the top-level yaml configuration.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Models struct {
		Dir string `yaml:"dir"`
		// Algorithm per prediction task: "ensemble-trees" or
		// "gradient-boosted-trees". Read once at startup; changing it
		// requires a retrain.
		Freight string `yaml:"freight_algorithm"`
		Price   string `yaml:"price_algorithm"`
	} `yaml:"models"`
	Training struct {
		TestRatio  float64 `yaml:"test_ratio"`
		WindowDays int     `yaml:"window_days"`
		Seed       int64   `yaml:"seed"`
	} `yaml:"training"`
	Log logx.Config `yaml:"log"`
}

// Load reads and validates a yaml config file.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfg Config
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()

	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("database.path is required")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Models.Dir == "" {
		c.Models.Dir = "./models"
	}
	if c.Models.Freight == "" {
		c.Models.Freight = "ensemble-trees"
	}
	if c.Models.Price == "" {
		c.Models.Price = "gradient-boosted-trees"
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		c.Training.TestRatio = 0.2
	}
	if c.Training.WindowDays <= 0 {
		c.Training.WindowDays = 730
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Algorithm returns the configured algorithm for a task.
func (c *Config) Algorithm(task string) string {
	if task == "price" {
		return c.Models.Price
	}
	return c.Models.Freight
}
