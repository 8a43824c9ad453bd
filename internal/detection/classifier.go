// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package detection

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// minAgentLength is the shortest user agent not considered suspicious.
const minAgentLength = 10

// burstWindow is the trailing window of the per-second rule.
const burstWindow = time.Second

// rule is one predicate of the classifier. It returns ok=false when it does
// not apply.
type rule struct {
	name  Reason
	check func(s *ActivitySnapshot, now time.Time) (Verdict, bool)
}

// Classifier evaluates an ordered list of rules. The first rule that matches
// decides the verdict. A Classifier holds no mutable state.
type Classifier struct {
	rules    []rule
	patterns []*regexp.Regexp
}

// NewClassifier builds the rule chain from the thresholds in cfg.
func NewClassifier(cfg EngineConfig) (*Classifier, error) {
	patterns, err := compilePatterns(cfg.SuspiciousAgentPatterns)
	if err != nil {
		return nil, err
	}
	c := &Classifier{patterns: patterns}
	c.rules = []rule{
		{ReasonRatePerMinute, thresholdRule(ReasonRatePerMinute, cfg.MaxRequestsPerMinute, func(s *ActivitySnapshot, now time.Time) int {
			return s.CountSince(now, ActivityWindow)
		})},
		{ReasonRatePerSecond, thresholdRule(ReasonRatePerSecond, cfg.MaxRequestsPerSecond, func(s *ActivitySnapshot, now time.Time) int {
			return s.CountSince(now, burstWindow)
		})},
		{ReasonScanningDetected, thresholdRule(ReasonScanningDetected, cfg.MaxDistinctPaths, func(s *ActivitySnapshot, _ time.Time) int {
			return s.DistinctPaths
		})},
		{ReasonReplaySuspected, thresholdRule(ReasonReplaySuspected, cfg.MaxIdenticalRequests, func(s *ActivitySnapshot, _ time.Time) int {
			return s.MaxIdenticalRepeats
		})},
		{ReasonSuspiciousAgent, c.checkAgent},
		{ReasonUnusualMethod, checkMethods},
	}
	return c, nil
}

// Classify returns the verdict of the first matching rule, or allow.
func (c *Classifier) Classify(s *ActivitySnapshot, now time.Time) Verdict {
	for _, r := range c.rules {
		if v, ok := r.check(s, now); ok {
			return v
		}
	}
	return Verdict{Action: ActionAllow, Reason: ReasonPatternOK}
}

// thresholdRule blocks when measure exceeds limit. Equal to the limit passes.
func thresholdRule(reason Reason, limit int, measure func(*ActivitySnapshot, time.Time) int) func(*ActivitySnapshot, time.Time) (Verdict, bool) {
	return func(s *ActivitySnapshot, now time.Time) (Verdict, bool) {
		n := measure(s, now)
		if n <= limit {
			return Verdict{}, false
		}
		return Verdict{
			Action: ActionBlock,
			Reason: reason,
			Detail: fmt.Sprintf("%d exceeds limit %d", n, limit),
		}, true
	}
}

func (c *Classifier) checkAgent(s *ActivitySnapshot, _ time.Time) (Verdict, bool) {
	ua := strings.TrimSpace(s.UserAgent)
	switch {
	case ua == "":
		return warnAgent("missing user agent"), true
	case len(ua) < minAgentLength:
		return warnAgent("user agent too short"), true
	}
	for _, re := range c.patterns {
		if re.MatchString(ua) {
			return warnAgent("user agent matches " + re.String()[len("(?i)"):]), true
		}
	}
	return Verdict{}, false
}

func warnAgent(detail string) Verdict {
	return Verdict{Action: ActionWarn, Reason: ReasonSuspiciousAgent, Detail: detail}
}

func checkMethods(s *ActivitySnapshot, _ time.Time) (Verdict, bool) {
	for _, m := range unusualMethods {
		if s.HasMethod(m) {
			return Verdict{Action: ActionBlock, Reason: ReasonUnusualMethod, Detail: m + " seen"}, true
		}
	}
	return Verdict{}, false
}

var unusualMethods = []string{"TRACE", "TRACK"}

func isUnusualMethod(m string) bool {
	for _, u := range unusualMethods {
		if m == u {
			return true
		}
	}
	return false
}
