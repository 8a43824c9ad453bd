// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package blocklist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/abuseguard/internal/detection"
	"github.com/tomtom215/abuseguard/internal/logging"
	"github.com/tomtom215/abuseguard/internal/metrics"
)

const (
	feedBreakerName  = "blocklist-feed"
	maxFeedBodyBytes = 16 << 20
	userAgent        = "abuseguard-feed/1"
)

var (
	// ErrFeedUnavailable is returned while the feed circuit breaker is open
	// or probing.
	ErrFeedUnavailable = errors.New("blocklist feed unavailable")

	// ErrFeedNotConfigured is returned by Pull or Push when no URL is set.
	ErrFeedNotConfigured = errors.New("blocklist feed not configured")
)

// FeedConfig configures a FeedClient.
type FeedConfig struct {
	// PullURL serves a JSON block list to import. Optional.
	PullURL string
	// PushURL receives the local export via POST. Optional.
	PushURL string
	// Token is sent as a bearer token on both requests when set.
	Token string
	// Timeout bounds each request.
	Timeout time.Duration
	// BreakerFailures is the number of consecutive failures that opens the breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
	// HTTPClient overrides the default client. Tests use it.
	HTTPClient *http.Client
}

// FeedDocument is the payload accepted from a feed. Blocked uses the same
// entry format as the local export; Keys is a plain list for simple feeds.
// Only keys are imported, so feed entries always get the local block
// duration.
type FeedDocument struct {
	Blocked []detection.BlockEntry `json:"blocked"`
	Keys    []string               `json:"keys"`
}

// AllKeys returns the keys of Blocked followed by Keys.
func (d FeedDocument) AllKeys() []string {
	keys := make([]string, 0, len(d.Blocked)+len(d.Keys))
	for _, e := range d.Blocked {
		keys = append(keys, e.Key)
	}
	return append(keys, d.Keys...)
}

// FeedClient exchanges block lists with an external feed. Every request
// goes through a circuit breaker so an unreachable feed costs one failed
// request per breaker timeout rather than one per sync.
type FeedClient struct {
	cfg    FeedConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker[[]byte]
}

// NewFeedClient creates a feed client.
func NewFeedClient(cfg FeedConfig) *FeedClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	metrics.SetFeedCircuitState(feedBreakerName, stateToInt(gobreaker.StateClosed))

	threshold := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        feedBreakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetFeedCircuitState(name, stateToInt(to))
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("feed circuit breaker state transition")
		},
	})

	return &FeedClient{cfg: cfg, client: client, cb: cb}
}

// CanPull reports whether a pull URL is configured.
func (f *FeedClient) CanPull() bool { return f.cfg.PullURL != "" }

// CanPush reports whether a push URL is configured.
func (f *FeedClient) CanPush() bool { return f.cfg.PushURL != "" }

// State returns the breaker state.
func (f *FeedClient) State() gobreaker.State {
	return f.cb.State()
}

// Pull fetches and decodes the remote block list.
func (f *FeedClient) Pull(ctx context.Context) (FeedDocument, error) {
	if !f.CanPull() {
		return FeedDocument{}, ErrFeedNotConfigured
	}

	body, err := f.execute(func() ([]byte, error) {
		return f.do(ctx, http.MethodGet, f.cfg.PullURL, nil)
	})
	if err != nil {
		return FeedDocument{}, err
	}

	var doc FeedDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return FeedDocument{}, fmt.Errorf("decode feed: %w", err)
	}
	return doc, nil
}

// Push posts list to the push URL.
func (f *FeedClient) Push(ctx context.Context, list detection.Blocklist) error {
	if !f.CanPush() {
		return ErrFeedNotConfigured
	}

	payload, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal block list: %w", err)
	}
	_, err = f.execute(func() ([]byte, error) {
		return f.do(ctx, http.MethodPost, f.cfg.PushURL, payload)
	})
	return err
}

// execute runs fn under the breaker and maps breaker rejections to
// ErrFeedUnavailable.
func (f *FeedClient) execute(fn func() ([]byte, error)) ([]byte, error) {
	body, err := f.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	return body, err
}

func (f *FeedClient) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.Token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read feed response: %w", err)
	}
	if len(data) > maxFeedBodyBytes {
		return nil, fmt.Errorf("feed response exceeds %d bytes", maxFeedBodyBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("feed %s returned status %d", method, resp.StatusCode)
	}
	return data, nil
}

// stateToInt converts breaker state to the metric encoding.
func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
