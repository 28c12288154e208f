package main

import (
	"os"

	"github.com/forward-cache/forward-cache/cache"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Precedence: flags override environment, environment overrides the
// config file, the config file overrides defaults.
type config struct {
	Port               int    `yaml:"port" env:"FORWARD_CACHE_PORT"`
	MetricsAddr        string `yaml:"metricsAddr" env:"FORWARD_CACHE_METRICS_ADDR"`
	Provider           string `yaml:"provider" env:"FORWARD_CACHE_PROVIDER"`
	DBFilename         string `yaml:"db" env:"FORWARD_CACHE_DB"`
	MaxCacheSize       int64  `yaml:"maxCacheSize" env:"FORWARD_CACHE_MAX_CACHE_SIZE"`
	MaxObjectSize      int64  `yaml:"maxObjectSize" env:"FORWARD_CACHE_MAX_OBJECT_SIZE"`
	DialTimeoutSeconds int    `yaml:"dialTimeoutSeconds" env:"FORWARD_CACHE_DIAL_TIMEOUT_SECONDS"`
}

func defaultConfig() config {
	return config{
		Provider:           "memory",
		DBFilename:         "cache.db",
		MaxCacheSize:       cache.DefaultMaxCacheSize,
		MaxObjectSize:      cache.DefaultMaxObjectSize,
		DialTimeoutSeconds: 10,
	}
}

func getConfig(filename string) (config, error) {
	cfg := defaultConfig()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(configBytes, &cfg); err != nil {
			return cfg, err
		}
	}
	err := env.Parse(&cfg)
	return cfg, err
}
