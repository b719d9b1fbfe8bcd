// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/periscope/config.yaml",
	"/etc/periscope/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "PERISCOPE_CONFIG_PATH"

// envPrefix namespaces all environment overrides, e.g.
// PERISCOPE_DATABASE_URL -> database.url.
const envPrefix = "PERISCOPE_"

// defaultConfig returns a Config with all defaults applied. These are
// layered first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:              "",
			MaxOpenConns:     10,
			MaxIdleConns:     5,
			ConnMaxLifetime:  30 * time.Minute,
			StatementTimeout: 5 * time.Second,
		},
		YouTube: YouTubeConfig{
			APIKey:        "",
			BaseURL:       "https://www.googleapis.com/youtube/v3",
			Timeout:       30 * time.Second,
			MaxIDsPerCall: 50,
			UnitsPerCall:  1,
			MaxDailyUnits: 10000,
			RetryAttempts: 3,
		},
		Refresher: RefresherConfig{
			Enabled:         true,
			Interval:        6 * time.Hour,
			MaxVideosPerRun: 50000,
			// ~80% of a provisioned write-IOPS ceiling with 50-row batches
			BatchDelay:       500 * time.Millisecond,
			BatchesPerSecond: 2.0,
			ExcludeShorts:    true,
		},
		Envelope: EnvelopeConfig{
			Enabled:     true,
			Interval:    24 * time.Hour,
			HorizonDays: 365,
			MinSamples:  30,
		},
		Baseline: BaselineConfig{
			HistoryCount:       10,
			MinHistory:         3,
			ReferenceDay:       30,
			RecomputeBatchSize: 1000,
		},
		Scoring: ScoringConfig{
			Tiers: []Tier{
				{Name: "viral", MinScore: 10.0},
				{Name: "outperforming", MinScore: 2.0},
				{Name: "on_track", MinScore: 0.5},
				{Name: "underperforming", MinScore: 0.2},
				{Name: "poor", MinScore: 0.0},
			},
		},
		Sampler: SamplerConfig{
			RotationMinutes:   1000,
			MaxSampleSize:     500,
			DefaultSampleSize: 50,
			CachePath:         "/data/periscope/sample-cache",
			CacheTTL:          90 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8480,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load reads configuration using koanf v2 with layered sources:
//  1. Defaults: built-in struct defaults
//  2. Config file: optional YAML (first of DefaultConfigPaths, or
//     PERISCOPE_CONFIG_PATH)
//  3. Environment variables: highest priority, PERISCOPE_ prefixed
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// PERISCOPE_DATABASE_URL -> database.url
	// PERISCOPE_YOUTUBE_MAX_DAILY_UNITS -> youtube.max_daily_units
	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// envTransform maps PERISCOPE_SECTION_SOME_KEY to section.some_key.
// Only the first underscore separates the section; the rest of the name
// stays underscored to match the koanf struct tags.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	return parts[0] + "." + parts[1]
}

// findConfigFile returns the first existing config path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are string-slice settings that may arrive from the
// environment as comma-separated values.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values into slices so
// unmarshal sees the same shape as YAML lists.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw := k.Get(path)
		s, ok := raw.(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		values := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				values = append(values, trimmed)
			}
		}
		if err := k.Set(path, values); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
