package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds daemon settings. Values come from the optional YAML file
// first, with environment variables taking precedence.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Cache struct {
		Path string `yaml:"path"`
	} `yaml:"cache"`
	Sync struct {
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	} `yaml:"sync"`
	Monitor struct {
		GraceWindowMillis int `yaml:"grace_window_millis"`
	} `yaml:"monitor"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	if config.NATS.URL == "" {
		config.NATS.URL = "nats://localhost:4222"
	}
	if config.Cache.Path == "" {
		config.Cache.Path = "offduel.db"
	}
	if config.Sync.PollIntervalSeconds <= 0 {
		config.Sync.PollIntervalSeconds = 5
	}
	if config.Monitor.GraceWindowMillis <= 0 {
		config.Monitor.GraceWindowMillis = 100
	}

	config.Server.Port = getEnv("PORT", config.Server.Port)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)
	config.Cache.Path = getEnv("CACHE_PATH", config.Cache.Path)
	config.Sync.PollIntervalSeconds = getEnvAsInt("SYNC_POLL_INTERVAL_SECONDS", config.Sync.PollIntervalSeconds)
	config.Monitor.GraceWindowMillis = getEnvAsInt("MONITOR_GRACE_WINDOW_MILLIS", config.Monitor.GraceWindowMillis)

	return &config, nil
}
