// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

/*
Package supervisor runs AbuseGuard's long-lived services under a suture v4
supervisor tree.

# Overview

Services are grouped into three child supervisors so that a crash loop in
one group backs off independently of the others:

	abuseguard
	├── detection-layer
	│   ├── detection-sweeper
	│   └── blocklist-snapshot   (archive enabled)
	├── messaging-layer
	│   ├── event-hub
	│   ├── stats-broadcaster
	│   └── blocklist-feed       (feed configured)
	└── api-layer
	    ├── public-listener
	    └── admin-listener

Supervisor events (start, failure, backoff, restart) are logged through
sutureslog, which the application points at the zerolog-backed slog
handler from internal/logging.

# Shutdown

Canceling the context passed to Serve stops every layer. Each service gets
TreeConfig.ShutdownTimeout; services still running after it are listed by
UnstoppedServiceReport:

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    logging.Error().Err(err).Msg("supervisor stopped")
	}
	if report, _ := tree.UnstoppedServiceReport(); len(report) > 0 {
	    logging.Warn().Int("count", len(report)).Msg("services did not stop in time")
	}

See package services for the suture.Service wrappers.
*/
package supervisor
