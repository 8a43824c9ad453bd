// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

// Package detection inspects every inbound request, keeps per-client
// behavioral state, and decides in real time whether to allow, warn, or
// block traffic.
//
// Detection Architecture:
//
//	RequestDescriptor -> Engine.Evaluate -> Verdict
//	                        |
//	     whitelist -> block check -> ClientRegistry -> Classifier
//	                                                      |
//	                                   BlockStore <- block / warn
//
// Whitelisted clients bypass all tracking. Blocked clients are answered
// before any history is touched. Everyone else has the request appended to a
// 60 second activity window that the Classifier evaluates against an ordered
// rule list; the first matching rule wins:
//   - rate_per_minute: sustained request rate
//   - rate_per_second: burst rate
//   - scanning_detected: distinct paths in the window
//   - replay_suspected: identical method, path and agent repeated
//   - suspicious_agent: missing, short or automation user agent (warn only)
//   - unusual_method: TRACE or TRACK seen from the client
//
// Warnings accumulate in a suspicion record and escalate to a block after
// SuspicionThreshold occurrences. Rate-limit blocks also feed a violation
// ledger that escalates after ViolationThreshold entries within an hour.
//
// All per-client state lives in sharded maps; each key is serialized by its
// shard lock. The Sweeper releases expired records one shard at a time and
// runs under the supervisor tree through Engine.RunWithContext.
package detection
