// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

// Package logging provides zerolog-based structured logging for AbuseGuard.
//
// A single global logger is configured once at startup from the logging
// section of the configuration and shared by every package. JSON output is
// the default; console output is meant for local runs.
//
// # Quick Start
//
//	logging.Init(logging.Config{
//	    Level:     "info",
//	    Format:    "json",
//	    Timestamp: true,
//	})
//
//	logging.Info().Str("key", key).Str("reason", reason).Msg("client blocked")
//	logging.Error().Err(err).Msg("block list snapshot failed")
//
// # Configuration
//
// Environment variables (read by the config package):
//
//	LOG_LEVEL   - trace, debug, info, warn, error, disabled (default: info)
//	LOG_FORMAT  - json or console (default: json)
//	LOG_CALLER  - include caller file:line (default: false)
//
// ABUSEGUARD_QUIET=1 disables output before Init runs, which keeps
// benchmark output readable.
//
// # Component Loggers
//
//	sweepLog := logging.WithComponent("sweeper")
//	sweepLog.Debug().Int("released", n).Msg("sweep complete")
//
// # Request Context
//
// The request ID middleware stores the ID in the request context. Handlers
// log through Ctx so every line carries it:
//
//	logging.Ctx(r.Context()).Info().Str("key", key).Msg("client unblocked")
//
// # slog Adapter
//
// The supervisor tree logs through suture's slog hook:
//
//	hook := (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook()
//
// # Audit Logging
//
// AuditLogger records operator actions on the admin listener (block,
// unblock, import) and rejected admin credentials. Presented tokens are
// masked before they are written.
//
// # Testing
//
//	var buf bytes.Buffer
//	logging.SetLogger(logging.NewTestLogger(&buf))
package logging
