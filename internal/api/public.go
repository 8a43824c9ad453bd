// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package api

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tomtom215/abuseguard/internal/logging"
	"github.com/tomtom215/abuseguard/internal/middleware"
)

// NewPublicHandler builds the public listener: every request is tagged
// with an ID, measured, attributed to a client IP and judged by guard
// before it reaches the upstream. A nil upstream answers allowed requests
// with 200 {"status":"ok"}.
func NewPublicHandler(guard *middleware.Guard, resolver *middleware.ClientIPResolver, upstream *url.URL) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(chimiddleware.Recoverer)
	r.Use(resolver.Middleware)
	r.Use(guard.Handler)

	if upstream != nil {
		r.Handle("/*", NewUpstreamProxy(upstream))
	} else {
		r.Handle("/*", http.HandlerFunc(allowedOK))
	}
	return r
}

func allowedOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// NewUpstreamProxy forwards allowed requests to target. The inbound
// X-Forwarded-For chain is kept and the peer appended; the resolved client
// IP goes in X-Real-IP.
func NewUpstreamProxy(target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = pr.In.Host
			if prior, ok := pr.In.Header["X-Forwarded-For"]; ok {
				pr.Out.Header["X-Forwarded-For"] = prior
			}
			pr.SetXForwarded()
			if ip := middleware.ClientIPFromContext(pr.In.Context()); ip != "" {
				pr.Out.Header.Set("X-Real-IP", ip)
			}
			if id := middleware.GetRequestID(pr.In.Context()); id != "" {
				pr.Out.Header.Set("X-Request-ID", id)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logging.Ctx(r.Context()).Warn().Err(err).Str("upstream", target.Host).Msg("upstream request failed")
			respondError(w, r, http.StatusBadGateway, ErrCodeUpstream, "Upstream unavailable", nil)
		},
	}
}
