// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/abuseguard/internal/detection"
	"github.com/tomtom215/abuseguard/internal/logging"
	ws "github.com/tomtom215/abuseguard/internal/websocket"
)

// AdminEngine is the part of the detection engine the admin API drives.
// Satisfied by *detection.Engine.
type AdminEngine interface {
	Evaluate(req detection.RequestDescriptor, now time.Time) detection.Verdict
	Block(key, reason string, duration time.Duration) detection.BlockResult
	Unblock(key, reason string) bool
	Statistics() detection.Statistics
	ExportBlocklist() detection.Blocklist
	ImportBlocklist(keys []string, reason string) int
}

// Handler serves the admin API.
type Handler struct {
	engine      AdminEngine
	wsHub       *ws.Hub
	audit       *logging.AuditLogger
	corsOrigins []string
	startTime   time.Time
	now         func() time.Time
}

// NewHandler creates the admin handlers. hub may be nil, in which case
// /v1/events answers 503.
func NewHandler(engine AdminEngine, hub *ws.Hub, audit *logging.AuditLogger, corsOrigins []string) *Handler {
	if audit == nil {
		audit = logging.NewAuditLogger()
	}
	return &Handler{
		engine:      engine,
		wsHub:       hub,
		audit:       audit,
		corsOrigins: corsOrigins,
		startTime:   time.Now(),
		now:         time.Now,
	}
}

// HealthStatus is the /healthz payload.
type HealthStatus struct {
	Status           string  `json:"status"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	BlockedClients   int     `json:"blocked_clients"`
	TrackedClients   int     `json:"tracked_clients"`
	EventSubscribers int     `json:"event_subscribers"`
}

// Health handles liveness checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.Statistics()
	status := HealthStatus{
		Status:         "ok",
		UptimeSeconds:  time.Since(h.startTime).Seconds(),
		BlockedClients: stats.BlockedCount,
		TrackedClients: stats.TrackedClientCount,
	}
	if h.wsHub != nil {
		status.EventSubscribers = h.wsHub.GetClientCount()
	}
	respondSuccess(w, r, http.StatusOK, status)
}

// Stats returns the engine statistics snapshot.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, http.StatusOK, h.engine.Statistics())
}
