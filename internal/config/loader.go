// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/xg2g/internal/log"
)

// Loader builds an AppConfig with precedence: environment > file > defaults.
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
	lookupEnvFn     envLookupFunc
}

// NewLoader creates a loader that reads from the process environment.
func NewLoader(configPath, version string) *Loader {
	return NewLoaderWithEnv(configPath, version, os.LookupEnv)
}

// NewLoaderWithEnv creates a loader with an injected environment lookup, for tests.
func NewLoaderWithEnv(configPath, version string, lookup envLookupFunc) *Loader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
		lookupEnvFn:     lookup,
	}
}

func (l *Loader) envLookup(key string) (string, bool) {
	l.ConsumedEnvKeys[key] = struct{}{}
	return l.lookupEnvFn(key)
}

func (l *Loader) envString(key, def string) string {
	return parseStringWithLookup(log.WithComponent("config"), l.envLookup, key, def)
}

func (l *Loader) envBool(key string, def bool) bool {
	return parseBoolWithLookup(log.WithComponent("config"), l.envLookup, key, def)
}

func (l *Loader) envInt(key string, def int) int {
	return parseIntWithLookup(log.WithComponent("config"), l.envLookup, key, def)
}

func (l *Loader) envFloat(key string, def float64) float64 {
	return parseFloatWithLookup(log.WithComponent("config"), l.envLookup, key, def)
}

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	return parseDurationWithLookup(log.WithComponent("config"), l.envLookup, key, def)
}

func (l *Loader) envStringList(key string, def []string) []string {
	return parseStringListWithLookup(log.WithComponent("config"), l.envLookup, key, def)
}

// Load runs the full precedence pipeline and returns a validated AppConfig.
func (l *Loader) Load() (AppConfig, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		fileCfg, err := loadFile(l.configPath)
		if err != nil {
			return AppConfig{}, fmt.Errorf("load config file: %w", err)
		}
		mergeFileConfig(&cfg, fileCfg)
	}

	l.applyEnvOverrides(&cfg)

	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return AppConfig{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML config file with strict unknown-field rejection.
func loadFile(path string) (AppConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator flag/env
	if err != nil {
		if os.IsNotExist(err) {
			return AppConfig{}, nil
		}
		return AppConfig{}, err
	}
	var fileCfg AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse yaml: %w", err)
	}
	return fileCfg, nil
}

// mergeFileConfig overlays non-zero fields from the file config onto cfg.
// Zero values in the file are treated as "not set" so defaults still apply.
func mergeFileConfig(cfg *AppConfig, file AppConfig) {
	if file.DataDir != "" {
		cfg.DataDir = file.DataDir
	}
	if file.Wire.MaxFrameBytes != 0 {
		cfg.Wire.MaxFrameBytes = file.Wire.MaxFrameBytes
	}
	cfg.Wire.EnableCompression = cfg.Wire.EnableCompression || file.Wire.EnableCompression
	cfg.Wire.EnableEncryption = cfg.Wire.EnableEncryption || file.Wire.EnableEncryption

	if file.Heartbeat.Interval != 0 {
		cfg.Heartbeat.Interval = file.Heartbeat.Interval
	}
	if file.Heartbeat.Timeout != 0 {
		cfg.Heartbeat.Timeout = file.Heartbeat.Timeout
	}
	if file.Heartbeat.MaxMissed != 0 {
		cfg.Heartbeat.MaxMissed = file.Heartbeat.MaxMissed
	}
	if file.Heartbeat.Jitter != 0 {
		cfg.Heartbeat.Jitter = file.Heartbeat.Jitter
	}
	if file.Heartbeat.SweepInterval != 0 {
		cfg.Heartbeat.SweepInterval = file.Heartbeat.SweepInterval
	}

	if file.Channel.HistorySize != 0 {
		cfg.Channel.HistorySize = file.Channel.HistorySize
	}
	if file.Channel.OutboundQueueSize != 0 {
		cfg.Channel.OutboundQueueSize = file.Channel.OutboundQueueSize
	}
	if file.Channel.BackpressurePolicy != "" {
		cfg.Channel.BackpressurePolicy = file.Channel.BackpressurePolicy
	}

	if len(file.Tenancy.Strategies) > 0 {
		cfg.Tenancy.Strategies = file.Tenancy.Strategies
	}
	if file.Tenancy.HeaderName != "" {
		cfg.Tenancy.HeaderName = file.Tenancy.HeaderName
	}
	if file.Tenancy.PathPattern != "" {
		cfg.Tenancy.PathPattern = file.Tenancy.PathPattern
	}
	if file.Tenancy.QueryParam != "" {
		cfg.Tenancy.QueryParam = file.Tenancy.QueryParam
	}
	if file.Tenancy.JWTClaim != "" {
		cfg.Tenancy.JWTClaim = file.Tenancy.JWTClaim
	}
	if file.Tenancy.BaseDomain != "" {
		cfg.Tenancy.BaseDomain = file.Tenancy.BaseDomain
	}
	if file.Tenancy.CacheTTL != 0 {
		cfg.Tenancy.CacheTTL = file.Tenancy.CacheTTL
	}
	if file.Tenancy.CacheSize != 0 {
		cfg.Tenancy.CacheSize = file.Tenancy.CacheSize
	}

	if len(file.RateLimit.Plans) > 0 {
		if cfg.RateLimit.Plans == nil {
			cfg.RateLimit.Plans = map[string]PlanLimits{}
		}
		for name, limits := range file.RateLimit.Plans {
			cfg.RateLimit.Plans[name] = limits
		}
	}
	if (file.RateLimit.Default != PlanLimits{}) {
		cfg.RateLimit.Default = file.RateLimit.Default
	}
	if file.RateLimit.MapCapacity != 0 {
		cfg.RateLimit.MapCapacity = file.RateLimit.MapCapacity
	}

	if file.HTTP.ListenAddr != "" {
		cfg.HTTP.ListenAddr = file.HTTP.ListenAddr
	}
	if file.HTTP.TLSCert != "" {
		cfg.HTTP.TLSCert = file.HTTP.TLSCert
	}
	if file.HTTP.TLSKey != "" {
		cfg.HTTP.TLSKey = file.HTTP.TLSKey
	}
	if file.HTTP.ReadTimeout != 0 {
		cfg.HTTP.ReadTimeout = file.HTTP.ReadTimeout
	}
	if file.HTTP.WriteTimeout != 0 {
		cfg.HTTP.WriteTimeout = file.HTTP.WriteTimeout
	}
	if file.HTTP.ShutdownTimeout != 0 {
		cfg.HTTP.ShutdownTimeout = file.HTTP.ShutdownTimeout
	}
	if len(file.HTTP.CORSOrigins) > 0 {
		cfg.HTTP.CORSOrigins = file.HTTP.CORSOrigins
	}
	if file.HTTP.EdgeRateRPS != 0 {
		cfg.HTTP.EdgeRateRPS = file.HTTP.EdgeRateRPS
	}
	if file.HTTP.EdgeRateBurst != 0 {
		cfg.HTTP.EdgeRateBurst = file.HTTP.EdgeRateBurst
	}
	if file.HTTP.MaxTotalConnections != 0 {
		cfg.HTTP.MaxTotalConnections = file.HTTP.MaxTotalConnections
	}

	if file.Store.UsageBackend != "" {
		cfg.Store.UsageBackend = file.Store.UsageBackend
	}
	if file.Store.PresenceBackend != "" {
		cfg.Store.PresenceBackend = file.Store.PresenceBackend
	}
	if file.Store.RedisAddr != "" {
		cfg.Store.RedisAddr = file.Store.RedisAddr
	}
	if file.Store.RedisPassword != "" {
		cfg.Store.RedisPassword = file.Store.RedisPassword
	}
	if file.Store.RedisDB != 0 {
		cfg.Store.RedisDB = file.Store.RedisDB
	}
	if file.Store.BadgerPath != "" {
		cfg.Store.BadgerPath = file.Store.BadgerPath
	}

	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.LogOutput != "" {
		cfg.LogOutput = file.LogOutput
	}
	cfg.TracingEnabled = cfg.TracingEnabled || file.TracingEnabled
	if file.TracingSampler != 0 {
		cfg.TracingSampler = file.TracingSampler
	}
	if file.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = file.OTLPEndpoint
	}
}

// applyEnvOverrides merges environment variables over cfg, the highest
// precedence layer.
func (l *Loader) applyEnvOverrides(cfg *AppConfig) {
	cfg.DataDir = l.envString("RTC_DATA_DIR", cfg.DataDir)

	cfg.Wire.MaxFrameBytes = l.envInt("RTC_WIRE_MAX_FRAME_BYTES", cfg.Wire.MaxFrameBytes)
	cfg.Wire.EnableCompression = l.envBool("RTC_WIRE_ENABLE_COMPRESSION", cfg.Wire.EnableCompression)
	cfg.Wire.EnableEncryption = l.envBool("RTC_WIRE_ENABLE_ENCRYPTION", cfg.Wire.EnableEncryption)

	cfg.Heartbeat.Interval = l.envDuration("RTC_HEARTBEAT_INTERVAL", cfg.Heartbeat.Interval)
	cfg.Heartbeat.Timeout = l.envDuration("RTC_HEARTBEAT_TIMEOUT", cfg.Heartbeat.Timeout)
	cfg.Heartbeat.MaxMissed = l.envInt("RTC_HEARTBEAT_MAX_MISSED", cfg.Heartbeat.MaxMissed)
	cfg.Heartbeat.Jitter = l.envDuration("RTC_HEARTBEAT_JITTER", cfg.Heartbeat.Jitter)
	cfg.Heartbeat.SweepInterval = l.envDuration("RTC_HEARTBEAT_SWEEP_INTERVAL", cfg.Heartbeat.SweepInterval)

	cfg.Channel.HistorySize = l.envInt("RTC_CHANNEL_HISTORY_SIZE", cfg.Channel.HistorySize)
	cfg.Channel.OutboundQueueSize = l.envInt("RTC_CHANNEL_OUTBOUND_QUEUE_SIZE", cfg.Channel.OutboundQueueSize)
	cfg.Channel.BackpressurePolicy = l.envString("RTC_CHANNEL_BACKPRESSURE_POLICY", cfg.Channel.BackpressurePolicy)

	cfg.Tenancy.Strategies = l.envStringList("RTC_TENANCY_STRATEGIES", cfg.Tenancy.Strategies)
	cfg.Tenancy.HeaderName = l.envString("RTC_TENANCY_HEADER_NAME", cfg.Tenancy.HeaderName)
	cfg.Tenancy.PathPattern = l.envString("RTC_TENANCY_PATH_PATTERN", cfg.Tenancy.PathPattern)
	cfg.Tenancy.QueryParam = l.envString("RTC_TENANCY_QUERY_PARAM", cfg.Tenancy.QueryParam)
	cfg.Tenancy.JWTClaim = l.envString("RTC_TENANCY_JWT_CLAIM", cfg.Tenancy.JWTClaim)
	cfg.Tenancy.BaseDomain = l.envString("RTC_TENANCY_BASE_DOMAIN", cfg.Tenancy.BaseDomain)
	cfg.Tenancy.CacheTTL = l.envDuration("RTC_TENANCY_CACHE_TTL", cfg.Tenancy.CacheTTL)
	cfg.Tenancy.CacheSize = l.envInt("RTC_TENANCY_CACHE_SIZE", cfg.Tenancy.CacheSize)

	cfg.RateLimit.Default.RequestsPerWindow = l.envInt("RTC_RATE_LIMIT_DEFAULT_REQUESTS", cfg.RateLimit.Default.RequestsPerWindow)
	cfg.RateLimit.Default.WindowDuration = l.envDuration("RTC_RATE_LIMIT_DEFAULT_WINDOW", cfg.RateLimit.Default.WindowDuration)
	cfg.RateLimit.Default.MaxConnections = l.envInt("RTC_RATE_LIMIT_DEFAULT_MAX_CONNECTIONS", cfg.RateLimit.Default.MaxConnections)
	cfg.RateLimit.Default.MaxChannels = l.envInt("RTC_RATE_LIMIT_DEFAULT_MAX_CHANNELS", cfg.RateLimit.Default.MaxChannels)
	cfg.RateLimit.MapCapacity = l.envInt("RTC_RATE_LIMIT_MAP_CAPACITY", cfg.RateLimit.MapCapacity)

	cfg.HTTP.ListenAddr = l.envString("RTC_HTTP_LISTEN_ADDR", cfg.HTTP.ListenAddr)
	cfg.HTTP.TLSCert = l.envString("RTC_HTTP_TLS_CERT", cfg.HTTP.TLSCert)
	cfg.HTTP.TLSKey = l.envString("RTC_HTTP_TLS_KEY", cfg.HTTP.TLSKey)
	cfg.HTTP.ReadTimeout = l.envDuration("RTC_HTTP_READ_TIMEOUT", cfg.HTTP.ReadTimeout)
	cfg.HTTP.WriteTimeout = l.envDuration("RTC_HTTP_WRITE_TIMEOUT", cfg.HTTP.WriteTimeout)
	cfg.HTTP.ShutdownTimeout = l.envDuration("RTC_HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)
	cfg.HTTP.CORSOrigins = l.envStringList("RTC_HTTP_CORS_ORIGINS", cfg.HTTP.CORSOrigins)
	cfg.HTTP.EdgeRateRPS = l.envFloat("RTC_HTTP_EDGE_RATE_RPS", cfg.HTTP.EdgeRateRPS)
	cfg.HTTP.EdgeRateBurst = l.envInt("RTC_HTTP_EDGE_RATE_BURST", cfg.HTTP.EdgeRateBurst)
	cfg.HTTP.MaxTotalConnections = l.envInt("RTC_HTTP_MAX_TOTAL_CONNECTIONS", cfg.HTTP.MaxTotalConnections)

	cfg.Store.UsageBackend = l.envString("RTC_STORE_USAGE_BACKEND", cfg.Store.UsageBackend)
	cfg.Store.PresenceBackend = l.envString("RTC_STORE_PRESENCE_BACKEND", cfg.Store.PresenceBackend)
	cfg.Store.RedisAddr = l.envString("RTC_STORE_REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisPassword = l.envString("RTC_STORE_REDIS_PASSWORD", cfg.Store.RedisPassword)
	cfg.Store.RedisDB = l.envInt("RTC_STORE_REDIS_DB", cfg.Store.RedisDB)
	cfg.Store.BadgerPath = l.envString("RTC_STORE_BADGER_PATH", cfg.Store.BadgerPath)

	cfg.LogLevel = l.envString("RTC_LOG_LEVEL", cfg.LogLevel)
	cfg.LogOutput = l.envString("RTC_LOG_OUTPUT", cfg.LogOutput)
	cfg.TracingEnabled = l.envBool("RTC_TRACING_ENABLED", cfg.TracingEnabled)
	cfg.TracingSampler = l.envFloat("RTC_TRACING_SAMPLER", cfg.TracingSampler)
	cfg.OTLPEndpoint = l.envString("RTC_OTLP_ENDPOINT", cfg.OTLPEndpoint)
}
