// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

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

	"github.com/tomtom215/abuseguard/internal/detection"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/abuseguard/config.yaml",
	"/etc/abuseguard/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	engine := detection.DefaultEngineConfig()

	return &Config{
		Server: ServerConfig{
			ListenAddr:           ":8080",
			AdminAddr:            "127.0.0.1:9090",
			UpstreamURL:          "",
			AdminToken:           "",
			TrustedProxies:       []string{},
			CORSOrigins:          []string{},
			AdminRateLimitReqs:   100,
			AdminRateLimitWindow: time.Minute,
			ReadTimeout:          15 * time.Second,
			WriteTimeout:         30 * time.Second,
			IdleTimeout:          120 * time.Second,
			ShutdownTimeout:      10 * time.Second,
		},
		Detection: DetectionConfig{
			MaxRequestsPerMinute:       engine.MaxRequestsPerMinute,
			MaxRequestsPerSecond:       engine.MaxRequestsPerSecond,
			MaxDistinctPaths:           engine.MaxDistinctPaths,
			MaxIdenticalRequests:       engine.MaxIdenticalRequests,
			MaxConnectionsPerClient:    engine.MaxConnectionsPerClient,
			BlockDuration:              engine.BlockDuration,
			SuspicionDuration:          engine.SuspicionDuration,
			SweepInterval:              engine.SweepInterval,
			IdleThreshold:              engine.IdleThreshold,
			WhitelistedAddresses:       engine.WhitelistedAddresses,
			WhitelistedAgentSubstrings: engine.WhitelistedAgentSubstrings,
			SuspiciousAgentPatterns:    engine.SuspiciousAgentPatterns,
			TrustPrivateNetworks:       engine.TrustPrivateNetworks,
		},
		Blocklist: BlocklistConfig{
			ArchivePath:      "",
			SnapshotInterval: time.Minute,
			FeedURL:          "",
			PushURL:          "",
			FeedInterval:     5 * time.Minute,
			FeedTimeout:      10 * time.Second,
			BreakerFailures:  3,
			BreakerTimeout:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5.0,
			FailureDecay:     30.0,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf with layered sources.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables
//  2. Config file (config.yaml, or the path in CONFIG_PATH)
//  3. Default values
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// GUARD_MAX_REQUESTS_PER_MINUTE -> detection.max_requests_per_minute
	// LISTEN_ADDR -> server.listen_addr
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
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

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
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

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"server.trusted_proxies",
	"server.cors_origins",
	"detection.whitelisted_addresses",
	"detection.whitelisted_agent_substrings",
	"detection.suspicious_agent_patterns",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars arrive as strings while the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		strVal, ok := val.(string)
		if !ok {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	// Server
	"listen_addr":             "server.listen_addr",
	"admin_addr":              "server.admin_addr",
	"upstream_url":            "server.upstream_url",
	"admin_token":             "server.admin_token",
	"trusted_proxies":         "server.trusted_proxies",
	"cors_origins":            "server.cors_origins",
	"admin_rate_limit_reqs":   "server.admin_rate_limit_reqs",
	"admin_rate_limit_window": "server.admin_rate_limit_window",
	"http_read_timeout":       "server.read_timeout",
	"http_write_timeout":      "server.write_timeout",
	"http_idle_timeout":       "server.idle_timeout",
	"http_shutdown_timeout":   "server.shutdown_timeout",

	// Detection thresholds
	"guard_max_requests_per_minute":      "detection.max_requests_per_minute",
	"guard_max_requests_per_second":      "detection.max_requests_per_second",
	"guard_max_distinct_paths":           "detection.max_distinct_paths",
	"guard_max_identical_requests":       "detection.max_identical_requests",
	"guard_max_connections_per_client":   "detection.max_connections_per_client",
	"guard_block_duration":               "detection.block_duration",
	"guard_suspicion_duration":           "detection.suspicion_duration",
	"guard_sweep_interval":               "detection.sweep_interval",
	"guard_idle_threshold":               "detection.idle_threshold",
	"guard_whitelisted_addresses":        "detection.whitelisted_addresses",
	"guard_whitelisted_agent_substrings": "detection.whitelisted_agent_substrings",
	"guard_suspicious_agent_patterns":    "detection.suspicious_agent_patterns",
	"guard_trust_private_networks":       "detection.trust_private_networks",

	// Block list archive and feed
	"blocklist_archive_path":      "blocklist.archive_path",
	"blocklist_snapshot_interval": "blocklist.snapshot_interval",
	"blocklist_feed_url":          "blocklist.feed_url",
	"blocklist_push_url":          "blocklist.push_url",
	"blocklist_feed_token":        "blocklist.feed_token",
	"blocklist_feed_interval":     "blocklist.feed_interval",
	"blocklist_feed_timeout":      "blocklist.feed_timeout",
	"blocklist_breaker_failures":  "blocklist.breaker_failures",
	"blocklist_breaker_timeout":   "blocklist.breaker_timeout",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - GUARD_MAX_REQUESTS_PER_MINUTE -> detection.max_requests_per_minute
//   - BLOCKLIST_FEED_URL -> blocklist.feed_url
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	// Unmapped variables are skipped so unrelated environment cannot leak in.
	return ""
}
