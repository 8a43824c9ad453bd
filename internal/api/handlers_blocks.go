// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/abuseguard/internal/detection"
	"github.com/tomtom215/abuseguard/internal/logging"
	"github.com/tomtom215/abuseguard/internal/middleware"
)

// Evaluate runs a request descriptor supplied by an external caller
// through the engine. The call counts toward that client's history exactly
// like a proxied request.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req detection.RequestDescriptor
	if !decodeJSON(w, r, &req) {
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}

	v := h.engine.Evaluate(req, h.now())
	resp := EvaluateResponse{
		Action:     string(v.Action),
		Reason:     string(v.Reason),
		Detail:     v.Detail,
		Diagnostic: v.Diagnostic,
	}
	if v.Action == detection.ActionBlock {
		resp.RetryAfterSeconds = middleware.RetryAfterSeconds(v.RetryAfter)
	}
	respondSuccess(w, r, http.StatusOK, resp)
}

// Block places an administrative block.
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}

	var duration time.Duration
	if req.Duration != "" {
		// Already checked by the duration validator.
		duration, _ = time.ParseDuration(req.Duration)
	}

	res := h.engine.Block(req.Key, req.Reason, duration)
	h.audit.LogBlock(req.Key, res.Reason, remoteIP(r), middleware.GetRequestID(r.Context()), string(res.Status))

	switch res.Status {
	case detection.BlockStatusBlocked:
		respondSuccess(w, r, http.StatusCreated, res)
	case detection.BlockStatusRefusedWhitelisted:
		respondError(w, r, http.StatusConflict, ErrCodeWhitelisted, "Client is whitelisted and cannot be blocked",
			map[string]string{"key": res.Key})
	default:
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidKey, "Client key is empty after normalization", nil)
	}
}

// Unblock removes a block and the client's history. Removing a key that
// is not blocked succeeds with removed=false.
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidKey, "Invalid client key in path", nil)
		return
	}
	reason := r.URL.Query().Get("reason")

	removed := h.engine.Unblock(key, reason)
	h.audit.LogUnblock(key, reason, remoteIP(r), middleware.GetRequestID(r.Context()), removed)

	respondSuccess(w, r, http.StatusOK, UnblockResponse{Key: detection.NormalizeKey(key), Removed: removed})
}

// ExportBlocklist returns the active blocks and suspicious keys.
func (h *Handler) ExportBlocklist(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, http.StatusOK, h.engine.ExportBlocklist())
}

// ImportBlocklist blocks every key in the request body.
func (h *Handler) ImportBlocklist(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}

	n := h.engine.ImportBlocklist(req.Keys, req.Reason)
	h.audit.LogImport(req.Reason, remoteIP(r), middleware.GetRequestID(r.Context()), len(req.Keys), n)
	logging.Ctx(r.Context()).Info().Int("requested", len(req.Keys)).Int("imported", n).Msg("block list import via admin API")

	respondSuccess(w, r, http.StatusOK, ImportResponse{Requested: len(req.Keys), Imported: n})
}
