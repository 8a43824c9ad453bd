// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

// Package config loads and validates AbuseGuard configuration.
//
// Configuration is layered with koanf. Later layers win:
//
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file: CONFIG_PATH, then config.yaml, config.yml,
//     /etc/abuseguard/config.yaml, /etc/abuseguard/config.yml
//  3. Environment variables, through an explicit name mapping
//
// Only mapped environment variables are read. List values accept
// comma-separated strings.
//
// # Sections
//
//	server      listeners, upstream, admin token, trusted proxies, timeouts
//	detection   engine thresholds, durations, whitelist and agent patterns
//	blocklist   Badger archive path and interval, feed URLs and circuit breaker
//	logging     level, format, caller
//	supervisor  suture failure threshold, decay, backoff, shutdown timeout
//
// # Environment Variables
//
//	LISTEN_ADDR, ADMIN_ADDR, UPSTREAM_URL, ADMIN_TOKEN, TRUSTED_PROXIES, CORS_ORIGINS
//	GUARD_MAX_REQUESTS_PER_MINUTE, GUARD_MAX_REQUESTS_PER_SECOND,
//	GUARD_MAX_DISTINCT_PATHS, GUARD_MAX_IDENTICAL_REQUESTS,
//	GUARD_MAX_CONNECTIONS_PER_CLIENT, GUARD_BLOCK_DURATION,
//	GUARD_SUSPICION_DURATION, GUARD_SWEEP_INTERVAL, GUARD_IDLE_THRESHOLD,
//	GUARD_WHITELISTED_ADDRESSES, GUARD_WHITELISTED_AGENT_SUBSTRINGS,
//	GUARD_SUSPICIOUS_AGENT_PATTERNS, GUARD_TRUST_PRIVATE_NETWORKS
//	BLOCKLIST_ARCHIVE_PATH, BLOCKLIST_SNAPSHOT_INTERVAL, BLOCKLIST_FEED_URL,
//	BLOCKLIST_PUSH_URL, BLOCKLIST_FEED_TOKEN, BLOCKLIST_FEED_INTERVAL,
//	BLOCKLIST_FEED_TIMEOUT, BLOCKLIST_BREAKER_FAILURES, BLOCKLIST_BREAKER_TIMEOUT
//	LOG_LEVEL, LOG_FORMAT, LOG_CALLER
//	SUPERVISOR_FAILURE_THRESHOLD, SUPERVISOR_FAILURE_DECAY,
//	SUPERVISOR_FAILURE_BACKOFF, SUPERVISOR_SHUTDOWN_TIMEOUT
//
// Durations use Go syntax ("90s", "1h").
//
// # Validation
//
// Load fails unless Validate passes. Struct tags are checked through the
// validation package; cross-field rules (distinct listener addresses, URL
// shape, trusted proxy parsing, pattern compilation) are checked by hand.
// The configuration is read once at start-up. There is no hot reload.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("invalid configuration")
//	}
//	logging.Init(cfg.ToLoggingConfig())
//	engine, err := detection.NewEngine(cfg.ToEngineConfig())
package config
