// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g/internal/cache"
	"github.com/ManuGH/xg2g/internal/config"
	"github.com/ManuGH/xg2g/internal/control"
	"github.com/ManuGH/xg2g/internal/control/admission"
	"github.com/ManuGH/xg2g/internal/health"
	xglog "github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/realtime"
	"github.com/ManuGH/xg2g/internal/store"
	"github.com/ManuGH/xg2g/internal/telemetry"
	"github.com/ManuGH/xg2g/internal/tenancy"
	"github.com/ManuGH/xg2g/internal/wire"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{Level: "info", Service: "rtc-session-core", Version: version})
	logger := xglog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().Err(err).Str("event", "config.load_failed").Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "rtc-session-core", Version: cfg.Version})
	logger = xglog.WithComponent("main")
	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.HTTP.ListenAddr).
		Msg("starting rtc session core")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Str("event", "startup.check_failed").Msg("startup checks failed")
	}

	tracerProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "rtc-session-core",
		ServiceVersion: cfg.Version,
		ExporterType:   "grpc",
		Endpoint:       cfg.OTLPEndpoint,
		SamplingRate:   cfg.TracingSampler,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("failed to initialize tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	tenantRepo, err := newTenantRepository(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "tenant_repo.init_failed").Msg("failed to initialize tenant repository")
	}

	tenantCache := newTenantCache(cfg)

	resolver := tenancy.NewTenantResolver(tenancy.ResolverConfig{
		Strategies:  cfg.Tenancy.Strategies,
		HeaderName:  cfg.Tenancy.HeaderName,
		PathPattern: cfg.Tenancy.PathPattern,
		QueryParam:  cfg.Tenancy.QueryParam,
		JWTClaim:    cfg.Tenancy.JWTClaim,
		BaseDomain:  cfg.Tenancy.BaseDomain,
		CacheTTL:    cfg.Tenancy.CacheTTL,
	}, tenantRepo, tenantCache)

	rateLimitPlans := make(map[tenancy.Plan]tenancy.PlanLimit, len(cfg.RateLimit.Plans))
	for name, pl := range cfg.RateLimit.Plans {
		rateLimitPlans[tenancy.Plan(name)] = tenancy.PlanLimit{
			RequestsPerWindow: pl.RequestsPerWindow,
			WindowDuration:    pl.WindowDuration,
		}
	}
	rateLimiter := tenancy.NewRateLimiter(tenancy.RateLimiterConfig{
		Plans: rateLimitPlans,
		Default: tenancy.PlanLimit{
			RequestsPerWindow: cfg.RateLimit.Default.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.Default.WindowDuration,
		},
		MapCapacity: cfg.RateLimit.MapCapacity,
	})

	usageStorage, err := newUsageStorage(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "usage_store.init_failed").Msg("failed to initialize usage storage")
	}
	usageTracker := tenancy.NewUsageTracker(usageStorage, []int{50, 80, 95, 100})
	usageTracker.OnThreshold(func(tenantID, metric string, threshold int, current, limit int64) {
		logger.Warn().
			Str("tenant_id", tenantID).
			Str("metric", metric).
			Int("threshold_pct", threshold).
			Int64("current", current).
			Int64("limit", limit).
			Msg("tenant usage threshold crossed")
	})
	limitEnforcer := tenancy.NewLimitEnforcer(usageTracker)

	admissionController := admission.NewController(cfg.RateLimit)

	presenceStore, err := newPresenceStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "presence_store.init_failed").Msg("failed to initialize presence storage")
	}

	registry := realtime.NewConnectionRegistry()

	router := realtime.NewChannelRouter(realtime.RouterConfig{
		HistorySize:         cfg.Channel.HistorySize,
		OutboundQueueSize:   cfg.Channel.OutboundQueueSize,
		BackpressurePolicy:  realtime.BackpressurePolicy(cfg.Channel.BackpressurePolicy),
		SlowConsumerTimeout: 2 * time.Second,
	}, func(connID, channelID, reason string) {
		logger.Debug().Str("conn_id", connID).Str("channel_id", channelID).Str("reason", reason).Msg("subscriber evicted")
	})

	presenceState := realtime.NewPresenceStateManager(router)
	presenceTracker := realtime.NewPresenceTracker(presenceState)
	presenceTracker.Subscribe(realtime.PresenceListener{
		OnJoined: func(p realtime.Presence) {
			if err := presenceStore.Save(context.Background(), p); err != nil {
				logger.Warn().Err(err).Str("channel_id", p.ChannelID).Msg("failed to persist presence join")
			}
		},
		OnUpdated: func(p realtime.Presence) {
			if err := presenceStore.Save(context.Background(), p); err != nil {
				logger.Warn().Err(err).Str("channel_id", p.ChannelID).Msg("failed to persist presence update")
			}
		},
		OnLeft: func(channelID, userID, connectionID string) {
			if err := presenceStore.Delete(context.Background(), channelID, userID, connectionID); err != nil {
				logger.Warn().Err(err).Str("channel_id", channelID).Msg("failed to persist presence leave")
			}
		},
		OnCleaned: func(channelID string) {
			if err := presenceStore.DeleteChannel(context.Background(), channelID); err != nil {
				logger.Warn().Err(err).Str("channel_id", channelID).Msg("failed to persist presence channel cleanup")
			}
		},
	})

	codec := wire.NewCodec(wire.CodecConfig{
		ChecksumEnabled: true,
		MaxFrameBytes:   cfg.Wire.MaxFrameBytes,
	})

	heartbeats := wire.NewHeartbeatManager(wire.ManagerConfig{
		SweepInterval:  cfg.Heartbeat.SweepInterval,
		StaleThreshold: cfg.Heartbeat.Timeout * time.Duration(cfg.Heartbeat.MaxMissed+1),
	},
		func(id, pingID string) {
			conn, ok := registry.Get(id)
			if !ok {
				return
			}
			frame, err := codec.Encode(&wire.Packet{
				Header: wire.Header{ID: pingID, Type: wire.MessageTypePing, Timestamp: time.Now().UnixMilli()},
			})
			if err != nil {
				logger.Warn().Err(err).Str("conn_id", id).Msg("failed to encode ping")
				return
			}
			if err := conn.Send(frame); err != nil {
				logger.Debug().Err(err).Str("conn_id", id).Msg("failed to enqueue ping")
			}
		},
		func(id string, latency time.Duration) {
			if conn, ok := registry.Get(id); ok {
				conn.SetLatency(latency)
			}
		},
		func(id string) {
			logger.Debug().Str("conn_id", id).Msg("connection missed too many heartbeats, evicting")
			if conn, ok := registry.Get(id); ok {
				_ = conn.Transition(realtime.StateClosed)
			}
			registry.Remove(id)
		},
	)

	healthMgr := health.NewManager(cfg.Version)
	healthMgr.SetReadyStrict(true)
	healthMgr.RegisterChecker(health.NewTenantRepositoryChecker(func(ctx context.Context) error {
		_, err := tenantRepo.FindAll(ctx, nil)
		return err
	}))
	healthMgr.RegisterChecker(health.NewConnectionLoadChecker(registry.Count, cfg.HTTP.MaxTotalConnections))

	srv := control.NewServer(control.Deps{
		Resolver:   resolver,
		RateLimit:  rateLimiter,
		Limits:     limitEnforcer,
		Admission:  admissionController,
		Registry:   registry,
		Router:     router,
		Heartbeats: heartbeats,
		Presence:   presenceTracker,
		Presences:  presenceStore,
		Health:     healthMgr,
		Codec:      codec,
		HTTP:       cfg.HTTP,
		HBConfig:   cfg.Heartbeat,
		Wire:       cfg.Wire,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("event", "listen").Str("addr", cfg.HTTP.ListenAddr).Msg("admission edge listening")
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	registry.Shutdown()

	if closer, ok := presenceStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close presence store")
		}
	}
	if closer, ok := usageStorage.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close usage storage")
		}
	}
	if closer, ok := tenantRepo.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close tenant repository")
		}
	}

	logger.Info().Msg("server exiting")
}

func newTenantCache(cfg config.AppConfig) cache.Cache {
	if cfg.Tenancy.CacheTTL <= 0 {
		return cache.NewNoOpCache()
	}
	return cache.NewMemoryCache(cfg.Tenancy.CacheTTL)
}

func newTenantRepository(cfg config.AppConfig, logger zerolog.Logger) (tenancy.TenantRepository, error) {
	if cfg.Store.RedisAddr == "" {
		return tenancy.NewMemoryTenantRepository(), nil
	}
	return tenancy.NewRedisTenantRepository(tenancy.RedisTenantRepositoryConfig{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
	}, logger)
}

func newUsageStorage(cfg config.AppConfig, _ zerolog.Logger) (tenancy.UsageStorage, error) {
	switch cfg.Store.UsageBackend {
	case "redis":
		return store.NewRedisUsageStorage(store.RedisUsageStorageConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
	default:
		return store.NewMemoryUsageStorage(), nil
	}
}

func newPresenceStore(cfg config.AppConfig, _ zerolog.Logger) (store.PresenceStore, error) {
	switch cfg.Store.PresenceBackend {
	case "badger":
		return store.OpenBadgerPresenceStore(cfg.Store.BadgerPath)
	default:
		return store.NewMemoryPresenceStore(), nil
	}
}
