// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/tomtom215/abuseguard/internal/logging"
	"github.com/tomtom215/abuseguard/internal/validation"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateDetection(); err != nil {
		return err
	}

	if err := c.validateBlocklist(); err != nil {
		return err
	}

	if err := c.validateSupervisor(); err != nil {
		return err
	}

	return c.validateLogging()
}

// validateServer validates listener configuration
func (c *Config) validateServer() error {
	if verr := validation.ValidateStruct(&c.Server); verr != nil {
		return fmt.Errorf("server: %w", verr)
	}
	if c.Server.ListenAddr == c.Server.AdminAddr {
		return fmt.Errorf("LISTEN_ADDR and ADMIN_ADDR must differ, both are %s", c.Server.ListenAddr)
	}
	if c.Server.UpstreamURL != "" {
		if err := validateHTTPURL(c.Server.UpstreamURL, "UPSTREAM_URL", false); err != nil {
			return err
		}
	}
	if err := c.validateTrustedProxies(); err != nil {
		return err
	}
	return c.validateAdminToken()
}

// validateTrustedProxies checks every entry parses as an address or prefix
func (c *Config) validateTrustedProxies() error {
	_, err := c.Server.TrustedProxyPrefixes()
	return err
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-address prefix.
func (s *ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, entry := range s.TrustedProxies {
		p, err := parseAddressOrPrefix(entry)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES entry %q: %w", entry, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// validateAdminToken rejects placeholder tokens copied from examples
func (c *Config) validateAdminToken() error {
	token := c.Server.AdminToken
	if token == "" {
		return nil
	}
	if len(token) < 16 {
		return fmt.Errorf("ADMIN_TOKEN must be at least 16 characters")
	}
	if containsPlaceholder(token) {
		return fmt.Errorf("ADMIN_TOKEN appears to be a placeholder value")
	}
	return nil
}

// validateDetection validates the engine thresholds, patterns and whitelist
func (c *Config) validateDetection() error {
	ec := c.ToEngineConfig()
	if err := ec.Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	return nil
}

// validateBlocklist validates archive and feed settings
func (c *Config) validateBlocklist() error {
	if verr := validation.ValidateStruct(&c.Blocklist); verr != nil {
		return fmt.Errorf("blocklist: %w", verr)
	}
	if c.Blocklist.FeedURL != "" {
		if err := validateHTTPURL(c.Blocklist.FeedURL, "BLOCKLIST_FEED_URL", true); err != nil {
			return err
		}
	}
	if c.Blocklist.PushURL != "" {
		if err := validateHTTPURL(c.Blocklist.PushURL, "BLOCKLIST_PUSH_URL", true); err != nil {
			return err
		}
	}
	if c.Blocklist.FeedTimeout >= c.Blocklist.FeedInterval {
		return fmt.Errorf("BLOCKLIST_FEED_TIMEOUT (%v) must be shorter than BLOCKLIST_FEED_INTERVAL (%v)",
			c.Blocklist.FeedTimeout, c.Blocklist.FeedInterval)
	}
	return nil
}

// validateSupervisor validates the suture tree settings
func (c *Config) validateSupervisor() error {
	if verr := validation.ValidateStruct(&c.Supervisor); verr != nil {
		return fmt.Errorf("supervisor: %w", verr)
	}
	return nil
}

// validLogFormats defines valid log format values
var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// validateLogging validates logging configuration
func (c *Config) validateLogging() error {
	if err := c.validateLogLevel(); err != nil {
		return err
	}
	return c.validateLogFormat()
}

// validateLogLevel validates the log level configuration
func (c *Config) validateLogLevel() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	return nil
}

// validateLogFormat validates the log format configuration
func (c *Config) validateLogFormat() error {
	if c.Logging.Format == "" {
		return nil
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

func parseAddressOrPrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// placeholderPatterns defines common placeholder patterns that indicate
// the user forgot to set a real value.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_TOKEN",
	"YOUR_SECRET",
	"PLACEHOLDER",
	"EXAMPLE",
}

// containsPlaceholder checks if a value contains common placeholder patterns.
func containsPlaceholder(value string) bool {
	upperValue := strings.ToUpper(value)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(upperValue, pattern) {
			return true
		}
	}
	return false
}
