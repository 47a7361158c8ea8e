// Copyright (c) 2026 Classgram Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage holds settings for the S3-compatible object store that keeps
// image attachments.
type Storage struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// PublicBaseURL is the externally reachable prefix under which stored
	// objects can be fetched. Defaults to Endpoint when empty.
	PublicBaseURL string
}

// Curator holds settings for the vision-capable generation backend.
type Curator struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Digest holds the daily curation schedule.
type Digest struct {
	Hour     int
	Minute   int
	Timezone string
}

// Config holds all configuration for the ingestion service.
type Config struct {
	Port        int
	DatabaseURL string
	RedisURL    string

	// RelaySigningKey verifies inbound webhook signatures from the mail
	// relay. Verification is skipped when empty.
	RelaySigningKey string

	// DedupTTL is how long a relay delivery token is remembered.
	DedupTTL time.Duration

	Storage Storage
	Curator Curator
	Digest  Digest
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Relay struct {
		SigningKey string `yaml:"signing_key"`
	} `yaml:"relay"`
	Storage struct {
		Endpoint        string `yaml:"endpoint"`
		Region          string `yaml:"region"`
		Bucket          string `yaml:"bucket"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
		PublicBaseURL   string `yaml:"public_base_url"`
	} `yaml:"storage"`
	Curator struct {
		APIKey      string  `yaml:"api_key"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"curator"`
	Digest struct {
		Hour     *int   `yaml:"hour"`
		Minute   *int   `yaml:"minute"`
		Timezone string `yaml:"timezone"`
	} `yaml:"digest"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables. A missing config file is not an error — every
// setting can come from the environment alone.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Environment-only configuration.
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		Port:            firstNonZero(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
		DatabaseURL:     firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:        firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		RelaySigningKey: firstNonEmpty(raw.Relay.SigningKey, os.Getenv("RELAY_SIGNING_KEY")),
		DedupTTL:        envOrDefaultDuration("DEDUP_TTL", 24*time.Hour),
		Storage: Storage{
			Endpoint:        firstNonEmpty(raw.Storage.Endpoint, os.Getenv("STORAGE_ENDPOINT")),
			Region:          firstNonEmpty(raw.Storage.Region, envOrDefault("STORAGE_REGION", "us-east-1")),
			Bucket:          firstNonEmpty(raw.Storage.Bucket, envOrDefault("STORAGE_BUCKET", "email-images")),
			AccessKeyID:     firstNonEmpty(raw.Storage.AccessKeyID, os.Getenv("STORAGE_ACCESS_KEY_ID")),
			SecretAccessKey: firstNonEmpty(raw.Storage.SecretAccessKey, os.Getenv("STORAGE_SECRET_ACCESS_KEY")),
			PublicBaseURL:   firstNonEmpty(raw.Storage.PublicBaseURL, os.Getenv("STORAGE_PUBLIC_BASE_URL")),
		},
		Curator: Curator{
			APIKey:      firstNonEmpty(raw.Curator.APIKey, os.Getenv("ANTHROPIC_API_KEY")),
			Model:       firstNonEmpty(raw.Curator.Model, envOrDefault("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022")),
			MaxTokens:   firstNonZero(raw.Curator.MaxTokens, envOrDefaultInt("CURATOR_MAX_TOKENS", 2048)),
			Temperature: firstNonZeroFloat(raw.Curator.Temperature, 0.7),
		},
		Digest: Digest{
			Hour:     intOrDefault(raw.Digest.Hour, envOrDefaultInt("DIGEST_HOUR", 22)),
			Minute:   intOrDefault(raw.Digest.Minute, envOrDefaultInt("DIGEST_MINUTE", 0)),
			Timezone: firstNonEmpty(raw.Digest.Timezone, envOrDefault("DIGEST_TIMEZONE", "UTC")),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required — set database.url in config.yaml or DATABASE_URL")
	}

	if cfg.Digest.Hour < 0 || cfg.Digest.Hour > 23 || cfg.Digest.Minute < 0 || cfg.Digest.Minute > 59 {
		return nil, fmt.Errorf("invalid digest schedule %02d:%02d", cfg.Digest.Hour, cfg.Digest.Minute)
	}

	if _, err := time.LoadLocation(cfg.Digest.Timezone); err != nil {
		return nil, fmt.Errorf("invalid digest timezone %q: %w", cfg.Digest.Timezone, err)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonZeroFloat(values ...float64) float64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// intOrDefault prefers an explicitly set YAML value, even zero — digest
// hour 0 (midnight) is a legitimate schedule.
func intOrDefault(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}
