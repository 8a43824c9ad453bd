// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/abuseguard/internal/api"
	"github.com/tomtom215/abuseguard/internal/blocklist"
	"github.com/tomtom215/abuseguard/internal/config"
	"github.com/tomtom215/abuseguard/internal/detection"
	"github.com/tomtom215/abuseguard/internal/logging"
	"github.com/tomtom215/abuseguard/internal/middleware"
	"github.com/tomtom215/abuseguard/internal/supervisor"
	"github.com/tomtom215/abuseguard/internal/supervisor/services"
	ws "github.com/tomtom215/abuseguard/internal/websocket"
)

// restoreTimeout bounds reading the archive at startup.
const restoreTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("AbuseGuard failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.ToLoggingConfig())

	logging.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("admin_addr", cfg.Server.AdminAddr).
		Bool("archive", cfg.ArchiveEnabled()).
		Bool("feed", cfg.FeedEnabled()).
		Msg("Starting AbuseGuard")

	engine, err := detection.NewEngine(cfg.ToEngineConfig())
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	hub := ws.NewHub()
	engine.SetBroadcaster(hub)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), cfg.ToTreeConfig())
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddDetectionService(services.NewEngineService(engine))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddMessagingService(services.NewStatsBroadcastService(engine, hub, services.DefaultStatsInterval))

	archive, err := initArchive(cfg, engine, tree)
	if err != nil {
		return err
	}
	if archive != nil {
		// Runs after the tree has stopped and the final snapshot is written.
		defer func() {
			if err := archive.Close(); err != nil {
				logging.Warn().Err(err).Msg("Failed to close block list archive")
			}
		}()
	}

	initFeed(cfg, engine, tree)

	publicServer, adminServer, err := buildServers(cfg, engine, hub)
	if err != nil {
		return err
	}
	tree.AddAPIService(services.NewHTTPServerService("public-listener", publicServer, cfg.Server.ShutdownTimeout))
	tree.AddAPIService(services.NewHTTPServerService("admin-listener", adminServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Starting supervisor tree")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	engine.Shutdown()
	logging.Info().Msg("AbuseGuard stopped")
	return nil
}

// initArchive opens the block list archive, restores it into the engine and
// schedules snapshots. It returns nil when archiving is disabled.
func initArchive(cfg *config.Config, engine *detection.Engine, tree *supervisor.SupervisorTree) (*blocklist.Archive, error) {
	if !cfg.ArchiveEnabled() {
		logging.Info().Msg("Block list archive disabled (BLOCKLIST_ARCHIVE_PATH not set)")
		return nil, nil
	}

	archive, err := blocklist.OpenArchive(cfg.Blocklist.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("open block list archive: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	if _, err := blocklist.Restore(ctx, archive, engine); err != nil {
		// Start with an empty block list rather than not at all.
		logging.Warn().Err(err).Msg("Failed to restore block list archive")
	}

	snap := blocklist.NewSnapshotService(engine, archive, cfg.Blocklist.SnapshotInterval)
	tree.AddDetectionService(services.NewBlocklistService(snap))
	return archive, nil
}

func initFeed(cfg *config.Config, engine *detection.Engine, tree *supervisor.SupervisorTree) {
	if !cfg.FeedEnabled() {
		return
	}

	client := blocklist.NewFeedClient(blocklist.FeedConfig{
		PullURL:         cfg.Blocklist.FeedURL,
		PushURL:         cfg.Blocklist.PushURL,
		Token:           cfg.Blocklist.FeedToken,
		Timeout:         cfg.Blocklist.FeedTimeout,
		BreakerFailures: cfg.Blocklist.BreakerFailures,
		BreakerTimeout:  cfg.Blocklist.BreakerTimeout,
	})
	feedSync := blocklist.NewFeedSyncService(engine, client, cfg.Blocklist.FeedInterval)
	tree.AddMessagingService(services.NewBlocklistService(feedSync))

	logging.Info().
		Bool("pull", client.CanPull()).
		Bool("push", client.CanPush()).
		Dur("interval", cfg.Blocklist.FeedInterval).
		Msg("Block list feed enabled")
}

// buildServers creates the public and admin listeners.
func buildServers(cfg *config.Config, engine *detection.Engine, hub *ws.Hub) (public, admin *http.Server, err error) {
	trusted, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return nil, nil, fmt.Errorf("trusted proxies: %w", err)
	}

	var upstream *url.URL
	if cfg.Server.UpstreamURL != "" {
		upstream, err = url.Parse(cfg.Server.UpstreamURL)
		if err != nil {
			return nil, nil, fmt.Errorf("upstream url: %w", err)
		}
	} else {
		logging.Warn().Msg("No UPSTREAM_URL configured; allowed requests receive a static 200")
	}

	resolver := middleware.NewClientIPResolver(trusted)
	guard := middleware.NewGuard(engine, resolver)
	limiter := middleware.NewConnLimiter(engine, resolver)

	public = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      api.NewPublicHandler(guard, resolver, upstream),
		ConnState:    limiter.ConnState,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	mwCfg := api.DefaultChiMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = cfg.Server.CORSOrigins
	mwCfg.RateLimitRequests = cfg.Server.AdminRateLimitReqs
	mwCfg.RateLimitWindow = cfg.Server.AdminRateLimitWindow

	handler := api.NewHandler(engine, hub, logging.NewAuditLogger(), cfg.Server.CORSOrigins)
	// No WriteTimeout: the event stream is long-lived and the websocket
	// pumps set their own deadlines.
	admin = &http.Server{
		Addr:        cfg.Server.AdminAddr,
		Handler:     api.NewRouter(handler, mwCfg, cfg.Server.AdminToken).SetupChi(),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	return public, admin, nil
}
