// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/abuseguard/internal/detection"
	"github.com/tomtom215/abuseguard/internal/logging"
)

// Error codes returned to blocked clients.
const (
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeBlocked           = "BLOCKED"
)

// WarningHeader carries the reason of a warn verdict to the upstream and client.
const WarningHeader = "X-Abuse-Warning"

// Evaluator decides on one request. *detection.Engine satisfies it.
type Evaluator interface {
	Evaluate(req detection.RequestDescriptor, now time.Time) detection.Verdict
}

// Guard runs every request through the detection engine before it reaches
// the wrapped handler.
type Guard struct {
	eval     Evaluator
	resolver *ClientIPResolver
	now      func() time.Time
}

// NewGuard creates a guard. A nil resolver uses the peer address.
func NewGuard(eval Evaluator, resolver *ClientIPResolver) *Guard {
	if resolver == nil {
		resolver = NewClientIPResolver(nil)
	}
	return &Guard{eval: eval, resolver: resolver, now: time.Now}
}

type guardError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type guardMetadata struct {
	Timestamp time.Time `json:"timestamp"`
}

type guardResponse struct {
	Status   string        `json:"status"`
	Metadata guardMetadata `json:"metadata"`
	Error    guardError    `json:"error"`
}

// Handler is chi-compatible middleware.
//
//	r.Use(guard.Handler)
func (g *Guard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := ClientIPFromContext(r.Context())
		if clientIP == "" {
			clientIP = g.resolver.Resolve(r)
		}

		now := g.now()
		verdict := g.eval.Evaluate(detection.RequestDescriptor{
			ClientAddr: clientIP,
			Method:     r.Method,
			Path:       r.URL.Path,
			UserAgent:  r.UserAgent(),
		}, now)

		switch verdict.Action {
		case detection.ActionBlock:
			g.reject(w, r, clientIP, verdict, now)
			return
		case detection.ActionWarn:
			w.Header().Set(WarningHeader, string(verdict.Reason))
			r.Header.Set(WarningHeader, string(verdict.Reason))
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, clientIP string, v detection.Verdict, now time.Time) {
	code, message := rejectionCode(v)

	details := map[string]string{"reason": string(v.Reason)}
	if v.Detail != "" {
		details["block_reason"] = v.Detail
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(v.RetryAfter)))
	w.WriteHeader(http.StatusTooManyRequests)

	body := guardResponse{
		Status:   "error",
		Metadata: guardMetadata{Timestamp: now.UTC()},
		Error:    guardError{Code: code, Message: message, Details: details},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("failed to write rejection body")
	}

	logging.Ctx(r.Context()).Debug().
		Str("client", clientIP).
		Str("reason", string(v.Reason)).
		Str("block_reason", v.Detail).
		Msg("request rejected")
}

func rejectionCode(v detection.Verdict) (code, message string) {
	reason := v.Reason
	if reason == detection.ReasonBlocked && v.Detail != "" {
		reason = detection.Reason(v.Detail)
	}
	switch reason {
	case detection.ReasonRatePerMinute, detection.ReasonRatePerSecond, detection.ReasonRepeatedViolations:
		return CodeRateLimitExceeded, "Too many requests. Please retry later."
	default:
		return CodeBlocked, "Access temporarily blocked."
	}
}

// RetryAfterSeconds converts a block's remaining time to a Retry-After
// value. It rounds up so clients never retry before the block ends, and is
// at least one.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
