// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package api

// BlockRequest is the body of POST /v1/blocks.
type BlockRequest struct {
	Key    string `json:"key" validate:"required,client_key"`
	Reason string `json:"reason" validate:"omitempty,max=256"`
	// Duration is a Go duration string such as "30m". Empty uses the
	// engine's configured block duration.
	Duration string `json:"duration" validate:"omitempty,duration"`
}

// ImportRequest is the body of POST /v1/blocklist/import.
type ImportRequest struct {
	Keys   []string `json:"keys" validate:"required,min=1,max=100000,dive,client_key"`
	Reason string   `json:"reason" validate:"omitempty,max=256"`
}

// EvaluateResponse is the verdict returned by POST /v1/evaluate.
type EvaluateResponse struct {
	Action            string `json:"action"`
	Reason            string `json:"reason"`
	Detail            string `json:"detail,omitempty"`
	Diagnostic        string `json:"diagnostic,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// UnblockResponse is returned by DELETE /v1/blocks/{key}.
type UnblockResponse struct {
	Key     string `json:"key"`
	Removed bool   `json:"removed"`
}

// ImportResponse is returned by POST /v1/blocklist/import.
type ImportResponse struct {
	Requested int `json:"requested"`
	Imported  int `json:"imported"`
}
