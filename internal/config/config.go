// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// WireConfig controls framing limits on the length-prefixed codec.
type WireConfig struct {
	MaxFrameBytes     int  `yaml:"max_frame_bytes"`
	EnableCompression bool `yaml:"enable_compression"`
	EnableEncryption  bool `yaml:"enable_encryption"`
}

// HeartbeatConfig tunes HeartbeatManager's per-connection cadence and the
// global sweeper that evicts connections which stopped answering pings.
type HeartbeatConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxMissed     int           `yaml:"max_missed"`
	Jitter        time.Duration `yaml:"jitter"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ChannelConfig sizes the per-channel history ring and per-subscriber
// outbound queue inside ChannelRouter.
type ChannelConfig struct {
	HistorySize        int    `yaml:"history_size"`
	OutboundQueueSize  int    `yaml:"outbound_queue_size"`
	BackpressurePolicy string `yaml:"backpressure_policy"` // "drop_oldest" or "evict_slow_consumer"
}

// TenancyConfig configures TenantResolver's ordered strategy list and the
// TTL cache fronting TenantRepository lookups.
type TenancyConfig struct {
	Strategies  []string      `yaml:"strategies"` // ordered: subdomain, header, path, query, jwt, custom
	HeaderName  string        `yaml:"header_name"`
	PathPattern string        `yaml:"path_pattern"`
	QueryParam  string        `yaml:"query_param"`
	JWTClaim    string        `yaml:"jwt_claim"`
	BaseDomain  string        `yaml:"base_domain"` // for subdomain extraction
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	CacheSize   int           `yaml:"cache_size"`
}

// PlanLimits describes the admission limits bound to a tenant plan tier.
type PlanLimits struct {
	MaxConnections    int           `yaml:"max_connections"`
	MaxChannels       int           `yaml:"max_channels"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	WindowDuration    time.Duration `yaml:"window_duration"`
}

// RateLimitConfig holds the tumbling-window limits keyed by plan name, plus
// a fallback for tenants whose plan isn't listed.
type RateLimitConfig struct {
	Plans   map[string]PlanLimits `yaml:"plans"`
	Default PlanLimits            `yaml:"default"`
	// MapCapacity bounds the tumbling-window tracking map; entries beyond
	// this are evicted least-recently-used.
	MapCapacity int `yaml:"map_capacity"`
}

// HTTPConfig configures the admission edge's listener.
type HTTPConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	TLSCert         string        `yaml:"tls_cert"`
	TLSKey          string        `yaml:"tls_key"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	EdgeRateRPS     float64       `yaml:"edge_rate_rps"`
	EdgeRateBurst   int           `yaml:"edge_rate_burst"`
	// MaxTotalConnections is the soft ceiling the readiness probe degrades
	// against as the connection registry fills up. 0 disables the check.
	MaxTotalConnections int `yaml:"max_total_connections"`
}

// StoreConfig selects the pluggable backends for usage/presence persistence.
type StoreConfig struct {
	UsageBackend    string `yaml:"usage_backend"`    // "memory" or "redis"
	PresenceBackend string `yaml:"presence_backend"` // "memory" or "badger"
	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	BadgerPath      string `yaml:"badger_path"`
}

// AppConfig is the root configuration for the realtime session core and
// admission plane.
type AppConfig struct {
	Version   string          `yaml:"-"`
	DataDir   string          `yaml:"data_dir"`
	Wire      WireConfig      `yaml:"wire"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Channel   ChannelConfig   `yaml:"channel"`
	Tenancy   TenancyConfig   `yaml:"tenancy"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`

	LogLevel  string `yaml:"log_level"`
	LogOutput string `yaml:"log_output"`

	TracingEnabled bool    `yaml:"tracing_enabled"`
	TracingSampler float64 `yaml:"tracing_sampler"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
}

// DefaultConfig returns the baseline configuration applied before file and
// environment overrides are merged in.
func DefaultConfig() AppConfig {
	return AppConfig{
		DataDir: "./data",
		Wire: WireConfig{
			MaxFrameBytes:     1 << 20, // 1 MiB
			EnableCompression: false,
			EnableEncryption:  false,
		},
		Heartbeat: HeartbeatConfig{
			Interval:      15 * time.Second,
			Timeout:       5 * time.Second,
			MaxMissed:     3,
			Jitter:        2 * time.Second,
			SweepInterval: 10 * time.Second,
		},
		Channel: ChannelConfig{
			HistorySize:        50,
			OutboundQueueSize:  128,
			BackpressurePolicy: "drop_oldest",
		},
		Tenancy: TenancyConfig{
			Strategies:  []string{"header", "subdomain", "path", "query"},
			HeaderName:  "X-Tenant-ID",
			PathPattern: "/t/{tenant}",
			QueryParam:  "tenant",
			JWTClaim:    "tenant_id",
			CacheTTL:    30 * time.Second,
			CacheSize:   1000,
		},
		RateLimit: RateLimitConfig{
			Default: PlanLimits{
				MaxConnections:    100,
				MaxChannels:       50,
				RequestsPerWindow: 600,
				WindowDuration:    time.Minute,
			},
			Plans:       map[string]PlanLimits{},
			MapCapacity: 10000,
		},
		HTTP: HTTPConfig{
			ListenAddr:      ":8443",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{},
			EdgeRateRPS:     50,
			EdgeRateBurst:   100,

			MaxTotalConnections: 10000,
		},
		Store: StoreConfig{
			UsageBackend:    "memory",
			PresenceBackend: "memory",
			RedisDB:         0,
			BadgerPath:      "./data/presence",
		},
		LogLevel:       "info",
		LogOutput:      "stdout",
		TracingEnabled: false,
		TracingSampler: 0.1,
	}
}
