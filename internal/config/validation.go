// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"net"
)

var validStrategies = map[string]bool{
	"subdomain": true,
	"header":    true,
	"path":      true,
	"query":     true,
	"jwt":       true,
	"custom":    true,
}

var validBackpressurePolicies = map[string]bool{
	"drop_oldest":         true,
	"evict_slow_consumer": true,
}

// Validate checks cfg for internally-consistent, startable settings. It does
// not touch the filesystem or network; PerformStartupChecks covers those.
func Validate(cfg AppConfig) error {
	if cfg.Wire.MaxFrameBytes <= 0 {
		return fmt.Errorf("wire.max_frame_bytes must be positive, got %d", cfg.Wire.MaxFrameBytes)
	}

	if cfg.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive")
	}
	if cfg.Heartbeat.Timeout <= 0 {
		return fmt.Errorf("heartbeat.timeout must be positive")
	}
	if cfg.Heartbeat.MaxMissed <= 0 {
		return fmt.Errorf("heartbeat.max_missed must be positive, got %d", cfg.Heartbeat.MaxMissed)
	}
	if cfg.Heartbeat.SweepInterval <= 0 {
		return fmt.Errorf("heartbeat.sweep_interval must be positive")
	}

	if cfg.Channel.HistorySize < 0 {
		return fmt.Errorf("channel.history_size must not be negative, got %d", cfg.Channel.HistorySize)
	}
	if cfg.Channel.OutboundQueueSize <= 0 {
		return fmt.Errorf("channel.outbound_queue_size must be positive, got %d", cfg.Channel.OutboundQueueSize)
	}
	if !validBackpressurePolicies[cfg.Channel.BackpressurePolicy] {
		return fmt.Errorf("channel.backpressure_policy %q is not one of drop_oldest, evict_slow_consumer", cfg.Channel.BackpressurePolicy)
	}

	if len(cfg.Tenancy.Strategies) == 0 {
		return fmt.Errorf("tenancy.strategies must list at least one resolution strategy")
	}
	for _, s := range cfg.Tenancy.Strategies {
		if !validStrategies[s] {
			return fmt.Errorf("tenancy.strategies: unknown strategy %q", s)
		}
	}
	if cfg.Tenancy.CacheTTL < 0 {
		return fmt.Errorf("tenancy.cache_ttl must not be negative")
	}
	if cfg.Tenancy.CacheSize <= 0 {
		return fmt.Errorf("tenancy.cache_size must be positive, got %d", cfg.Tenancy.CacheSize)
	}

	if err := validatePlanLimits("rate_limit.default", cfg.RateLimit.Default); err != nil {
		return err
	}
	for name, limits := range cfg.RateLimit.Plans {
		if err := validatePlanLimits(fmt.Sprintf("rate_limit.plans[%s]", name), limits); err != nil {
			return err
		}
	}
	if cfg.RateLimit.MapCapacity <= 0 {
		return fmt.Errorf("rate_limit.map_capacity must be positive, got %d", cfg.RateLimit.MapCapacity)
	}

	if cfg.HTTP.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.HTTP.ListenAddr); err != nil {
			return fmt.Errorf("http.listen_addr %q is invalid: %w", cfg.HTTP.ListenAddr, err)
		}
	}
	if (cfg.HTTP.TLSCert == "") != (cfg.HTTP.TLSKey == "") {
		return fmt.Errorf("http.tls_cert and http.tls_key must both be set or both be empty")
	}
	if cfg.HTTP.EdgeRateRPS < 0 {
		return fmt.Errorf("http.edge_rate_rps must not be negative")
	}
	if cfg.HTTP.EdgeRateBurst <= 0 {
		return fmt.Errorf("http.edge_rate_burst must be positive, got %d", cfg.HTTP.EdgeRateBurst)
	}

	switch cfg.Store.UsageBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("store.usage_backend %q must be memory or redis", cfg.Store.UsageBackend)
	}
	switch cfg.Store.PresenceBackend {
	case "memory", "badger":
	default:
		return fmt.Errorf("store.presence_backend %q must be memory or badger", cfg.Store.PresenceBackend)
	}
	if cfg.Store.UsageBackend == "redis" && cfg.Store.RedisAddr == "" {
		return fmt.Errorf("store.redis_addr is required when store.usage_backend is redis")
	}

	if cfg.TracingEnabled && (cfg.TracingSampler < 0 || cfg.TracingSampler > 1) {
		return fmt.Errorf("tracing_sampler must be within [0,1], got %f", cfg.TracingSampler)
	}

	return nil
}

func validatePlanLimits(label string, limits PlanLimits) error {
	if limits.MaxConnections <= 0 {
		return fmt.Errorf("%s.max_connections must be positive", label)
	}
	if limits.MaxChannels <= 0 {
		return fmt.Errorf("%s.max_channels must be positive", label)
	}
	if limits.RequestsPerWindow <= 0 {
		return fmt.Errorf("%s.requests_per_window must be positive", label)
	}
	if limits.WindowDuration <= 0 {
		return fmt.Errorf("%s.window_duration must be positive", label)
	}
	return nil
}
