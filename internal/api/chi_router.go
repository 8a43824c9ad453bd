// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/abuseguard/internal/logging"
	"github.com/tomtom215/abuseguard/internal/middleware"
)

// Router builds the admin listener's routes.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	adminToken    string
}

// NewRouter creates the admin router. A nil middleware config uses
// DefaultChiMiddlewareConfig.
func NewRouter(handler *Handler, mw *ChiMiddlewareConfig, adminToken string) *Router {
	return &Router{
		handler:       handler,
		chiMiddleware: NewChiMiddleware(mw),
		adminToken:    adminToken,
	}
}

// SetupChi configures all admin routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // must be global to answer OPTIONS preflight
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/healthz", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(RequireAdminToken(router.adminToken, router.handler.audit))

		r.Post("/evaluate", router.handler.Evaluate)
		r.Get("/stats", router.handler.Stats)
		r.Post("/blocks", router.handler.Block)
		r.Delete("/blocks/{key}", router.handler.Unblock)
		r.With(middleware.Compression).Get("/blocklist", router.handler.ExportBlocklist)
		r.Post("/blocklist/import", router.handler.ImportBlocklist)
		r.Get("/events", router.handler.Events)
	})

	if router.adminToken == "" {
		logging.Warn().Msg("admin API has no bearer token configured; restrict admin_addr to trusted networks")
	}
	return r
}
