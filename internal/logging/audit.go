// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package logging

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// AuditEvent is an operator action or admin access attempt.
type AuditEvent struct {
	// Event names the action: block, unblock, import, auth_failure.
	Event string
	// Key is the client key acted upon, if any.
	Key string
	// Actor is the address of the operator making the call.
	Actor string
	// RequestID ties the entry to the admin request.
	RequestID string
	Reason    string
	Success   bool
	Error     string
	Details   map[string]string
}

// AuditLogger writes operator actions under the "audit" component. Values
// that could carry credentials are masked.
type AuditLogger struct {
	logger zerolog.Logger
}

// NewAuditLogger creates an audit logger on the global logger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{logger: WithComponent("audit")}
}

// NewAuditLoggerWithLogger creates an audit logger on logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewAuditLoggerWithLogger(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.With().Str("component", "audit").Logger()}
}

// Log writes one audit entry. Failures are logged at warn level.
func (l *AuditLogger) Log(ev *AuditEvent) {
	e := l.logger.Info()
	status := "success"
	if !ev.Success {
		e = l.logger.Warn()
		status = "failed"
	}
	e = e.Str("event", ev.Event).Str("status", status)

	if ev.Key != "" {
		e = e.Str("key", ev.Key)
	}
	if ev.Actor != "" {
		e = e.Str("actor", ev.Actor)
	}
	if ev.RequestID != "" {
		e = e.Str("request_id", ev.RequestID)
	}
	if ev.Reason != "" {
		e = e.Str("reason", truncateString(ev.Reason, 200))
	}
	if ev.Error != "" && !ev.Success {
		e = e.Str("error", SanitizeError(ev.Error))
	}
	for k, v := range ev.Details {
		e = e.Str(k, SanitizeValue(k, v))
	}
	e.Msg("audit")
}

// LogBlock records an administrative block.
func (l *AuditLogger) LogBlock(key, reason, actor, requestID, status string) {
	l.Log(&AuditEvent{
		Event:     "block",
		Key:       key,
		Actor:     actor,
		RequestID: requestID,
		Reason:    reason,
		Success:   status == "blocked",
		Error:     failureDetail(status),
		Details:   map[string]string{"result": status},
	})
}

// LogUnblock records an administrative unblock.
func (l *AuditLogger) LogUnblock(key, reason, actor, requestID string, existed bool) {
	l.Log(&AuditEvent{
		Event:     "unblock",
		Key:       key,
		Actor:     actor,
		RequestID: requestID,
		Reason:    reason,
		Success:   true,
		Details:   map[string]string{"existed": strconv.FormatBool(existed)},
	})
}

// LogImport records a bulk block list import.
func (l *AuditLogger) LogImport(reason, actor, requestID string, requested, imported int) {
	l.Log(&AuditEvent{
		Event:     "import",
		Actor:     actor,
		RequestID: requestID,
		Reason:    reason,
		Success:   true,
		Details: map[string]string{
			"requested": strconv.Itoa(requested),
			"imported":  strconv.Itoa(imported),
		},
	})
}

// LogAuthFailure records a rejected admin request. Only a masked form of
// the presented token is written.
func (l *AuditLogger) LogAuthFailure(actor, requestID, path, presentedToken string) {
	l.Log(&AuditEvent{
		Event:     "auth_failure",
		Actor:     actor,
		RequestID: requestID,
		Success:   false,
		Error:     "invalid admin credentials",
		Details: map[string]string{
			"path":  truncateString(path, 200),
			"token": presentedToken,
		},
	})
}

func failureDetail(status string) string {
	if status == "blocked" {
		return ""
	}
	return status
}

// SanitizeToken masks a credential, keeping the first and last four characters.
//
//	"s3cr3t-admin-token-value" -> "s3cr...alue"
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

var sensitiveWords = []string{"password", "secret", "token", "bearer", "authorization", "cookie"}

// SanitizeError replaces messages mentioning credentials with a generic one
// and truncates the rest.
func SanitizeError(err string) string {
	lower := strings.ToLower(err)
	for _, w := range sensitiveWords {
		if strings.Contains(lower, w) {
			return "credential error"
		}
	}
	return truncateString(err, 200)
}

var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"authorization": {},
	"bearer":        {},
	"password":      {},
	"secret":        {},
	"api_key":       {},
	"cookie":        {},
}

// SanitizeValue masks v when key names a credential.
func SanitizeValue(key, v string) string {
	if _, ok := sensitiveKeys[strings.ToLower(key)]; ok {
		return SanitizeToken(v)
	}
	return v
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
