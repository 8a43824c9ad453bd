// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

// Package validation provides struct validation using go-playground/validator v10.
//
// A shared validator caches struct information and carries the custom tags
// used across AbuseGuard. Failures are returned as *Error, which converts to
// the VALIDATION_ERROR body used by the admin API. Fields are reported by
// their json or koanf key, so messages name what the operator actually sent.
//
// # Custom Tags
//
//	client_key  non-empty, no whitespace or control characters, at most 256 bytes
//	duration    a positive Go duration string such as "30m"
//
// # Usage
//
//	type blockRequest struct {
//	    Key      string `json:"key" validate:"client_key"`
//	    Duration string `json:"duration" validate:"omitempty,duration"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, verr)
//	    return
//	}
//
// The detection engine configuration and the top-level configuration are
// validated the same way before any service starts.
package validation
