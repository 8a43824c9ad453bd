// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package config

import (
	"time"

	"github.com/tomtom215/abuseguard/internal/detection"
	"github.com/tomtom215/abuseguard/internal/logging"
	"github.com/tomtom215/abuseguard/internal/supervisor"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Detection  DetectionConfig  `koanf:"detection"`
	Blocklist  BlocklistConfig  `koanf:"blocklist"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig configures the public and admin listeners.
type ServerConfig struct {
	// ListenAddr is the public listener guarded by the engine.
	// Default: :8080
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`

	// AdminAddr is the operator listener. Keep it off public interfaces.
	// Default: 127.0.0.1:9090
	AdminAddr string `koanf:"admin_addr" validate:"required,hostname_port"`

	// UpstreamURL is the application requests are proxied to once allowed.
	// Empty answers allowed requests with a static 200.
	UpstreamURL string `koanf:"upstream_url"`

	// AdminToken, when set, is required as a bearer token on /v1 admin routes.
	AdminToken string `koanf:"admin_token"`

	// TrustedProxies lists addresses or CIDR ranges whose X-Forwarded-For
	// and X-Real-IP headers are believed.
	TrustedProxies []string `koanf:"trusted_proxies"`

	// CORSOrigins for the admin listener.
	// Default: none
	CORSOrigins []string `koanf:"cors_origins"`

	// AdminRateLimitReqs per AdminRateLimitWindow and client IP on the admin listener.
	AdminRateLimitReqs   int           `koanf:"admin_rate_limit_reqs" validate:"min=1"`
	AdminRateLimitWindow time.Duration `koanf:"admin_rate_limit_window" validate:"gt=0"`

	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// DetectionConfig holds the engine thresholds. See detection.EngineConfig.
type DetectionConfig struct {
	MaxRequestsPerMinute    int `koanf:"max_requests_per_minute"`
	MaxRequestsPerSecond    int `koanf:"max_requests_per_second"`
	MaxDistinctPaths        int `koanf:"max_distinct_paths"`
	MaxIdenticalRequests    int `koanf:"max_identical_requests"`
	MaxConnectionsPerClient int `koanf:"max_connections_per_client"`

	BlockDuration     time.Duration `koanf:"block_duration"`
	SuspicionDuration time.Duration `koanf:"suspicion_duration"`
	SweepInterval     time.Duration `koanf:"sweep_interval"`
	IdleThreshold     time.Duration `koanf:"idle_threshold"`

	WhitelistedAddresses       []string `koanf:"whitelisted_addresses"`
	WhitelistedAgentSubstrings []string `koanf:"whitelisted_agent_substrings"`
	SuspiciousAgentPatterns    []string `koanf:"suspicious_agent_patterns"`
	TrustPrivateNetworks       bool     `koanf:"trust_private_networks"`
}

// BlocklistConfig configures the on-disk archive and the external feed.
type BlocklistConfig struct {
	// ArchivePath is the Badger directory. Empty disables the archive.
	ArchivePath string `koanf:"archive_path"`

	// SnapshotInterval between archive writes.
	// Default: 1m
	SnapshotInterval time.Duration `koanf:"snapshot_interval" validate:"gt=0"`

	// FeedURL is pulled periodically and its keys imported with reason "feed".
	FeedURL string `koanf:"feed_url"`

	// PushURL receives the local export after every pull.
	PushURL string `koanf:"push_url"`

	// FeedToken is sent as a bearer token to both feed URLs.
	FeedToken string `koanf:"feed_token"`

	// FeedInterval between feed syncs.
	// Default: 5m
	FeedInterval time.Duration `koanf:"feed_interval" validate:"gt=0"`

	// FeedTimeout bounds each feed request.
	// Default: 10s
	FeedTimeout time.Duration `koanf:"feed_timeout" validate:"gt=0"`

	// BreakerFailures is the number of consecutive feed failures that opens the circuit.
	// Default: 3
	BreakerFailures uint32 `koanf:"breaker_failures" validate:"min=1"`

	// BreakerTimeout is how long the circuit stays open.
	// Default: 1m
	BreakerTimeout time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level"`

	// Format is json or console.
	// Default: json
	Format string `koanf:"format"`

	// Caller includes caller file and line number in logs.
	// Default: false
	Caller bool `koanf:"caller"`
}

// SupervisorConfig holds the suture tree settings.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff" validate:"gt=0"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// ArchiveEnabled reports whether the block list is archived to disk.
func (c *Config) ArchiveEnabled() bool {
	return c.Blocklist.ArchivePath != ""
}

// FeedEnabled reports whether an external block list feed is configured.
func (c *Config) FeedEnabled() bool {
	return c.Blocklist.FeedURL != "" || c.Blocklist.PushURL != ""
}

// ToEngineConfig converts the detection section for detection.NewEngine.
func (c *Config) ToEngineConfig() detection.EngineConfig {
	d := c.Detection
	return detection.EngineConfig{
		MaxRequestsPerMinute:       d.MaxRequestsPerMinute,
		MaxRequestsPerSecond:       d.MaxRequestsPerSecond,
		MaxDistinctPaths:           d.MaxDistinctPaths,
		MaxIdenticalRequests:       d.MaxIdenticalRequests,
		MaxConnectionsPerClient:    d.MaxConnectionsPerClient,
		BlockDuration:              d.BlockDuration,
		SuspicionDuration:          d.SuspicionDuration,
		SweepInterval:              d.SweepInterval,
		IdleThreshold:              d.IdleThreshold,
		WhitelistedAddresses:       append([]string(nil), d.WhitelistedAddresses...),
		WhitelistedAgentSubstrings: append([]string(nil), d.WhitelistedAgentSubstrings...),
		SuspiciousAgentPatterns:    append([]string(nil), d.SuspiciousAgentPatterns...),
		TrustPrivateNetworks:       d.TrustPrivateNetworks,
	}
}

// ToLoggingConfig converts the logging section for logging.Init.
func (c *Config) ToLoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Format = c.Logging.Format
	lc.Caller = c.Logging.Caller
	return lc
}

// ToTreeConfig converts the supervisor section.
func (c *Config) ToTreeConfig() supervisor.TreeConfig {
	return supervisor.TreeConfig{
		FailureThreshold: c.Supervisor.FailureThreshold,
		FailureDecay:     c.Supervisor.FailureDecay,
		FailureBackoff:   c.Supervisor.FailureBackoff,
		ShutdownTimeout:  c.Supervisor.ShutdownTimeout,
	}
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, then validates it.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
