// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/xg2g/internal/tenancy"
)

// periodTTL bounds how long a counter key survives once first written,
// so a tenant that stops sending traffic doesn't leave counters in Redis
// forever. The bucket itself is period-scoped (see usageRedisKey), so this
// is a safety margin on top of natural rollover, not the rollover
// mechanism.
var periodTTL = map[tenancy.Period]time.Duration{
	tenancy.PeriodMinute: 2 * time.Minute,
	tenancy.PeriodHour:   2 * time.Hour,
	tenancy.PeriodDay:    48 * time.Hour,
	tenancy.PeriodMonth:  62 * 24 * time.Hour,
}

// RedisUsageStorage implements tenancy.UsageStorage atomically against a
// shared Redis instance, so usage counters are consistent across every
// admission-plane process.
type RedisUsageStorage struct {
	client *redis.Client
}

// RedisUsageStorageConfig mirrors config.StoreConfig's redis fields.
type RedisUsageStorageConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisUsageStorage dials Redis and verifies connectivity.
func NewRedisUsageStorage(cfg RedisUsageStorageConfig) (*RedisUsageStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisUsageStorage{client: client}, nil
}

// bucketSuffix returns a key fragment identifying the current tumbling
// bucket for period, e.g. "2026-08-01T14" for PeriodHour. Bucketing by
// wall-clock truncation means no explicit reset job is required: the key
// simply stops being written to and expires via periodTTL.
func bucketSuffix(period tenancy.Period, now time.Time) string {
	switch period {
	case tenancy.PeriodMinute:
		return now.Format("2006-01-02T15:04")
	case tenancy.PeriodHour:
		return now.Format("2006-01-02T15")
	case tenancy.PeriodDay:
		return now.Format("2006-01-02")
	case tenancy.PeriodMonth:
		return now.Format("2006-01")
	default:
		return now.Format("2006-01-02T15:04")
	}
}

func usageRedisKey(tenantID, metric string, period tenancy.Period, now time.Time) string {
	return fmt.Sprintf("usage:%s:%s:%s:%s", tenantID, metric, period, bucketSuffix(period, now))
}

func (r *RedisUsageStorage) Increment(ctx context.Context, tenantID, metric string, period tenancy.Period, delta int64) (int64, error) {
	key := usageRedisKey(tenantID, metric, period, time.Now())
	pipe := r.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	ttl := periodTTL[period]
	if ttl <= 0 {
		ttl = time.Hour
	}
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return incr.Val(), nil
}

func (r *RedisUsageStorage) Get(ctx context.Context, tenantID, metric string, period tenancy.Period) (int64, error) {
	key := usageRedisKey(tenantID, metric, period, time.Now())
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse usage counter: %w", err)
	}
	return n, nil
}

func (r *RedisUsageStorage) GetAll(ctx context.Context, tenantID string, period tenancy.Period) (map[string]int64, error) {
	pattern := fmt.Sprintf("usage:%s:*:%s:%s", tenantID, period, bucketSuffix(period, time.Now()))
	out := make(map[string]int64)
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		v, err := r.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		parts := splitUsageKey(key)
		if parts != "" {
			out[parts] = n
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan usage keys: %w", err)
	}
	return out, nil
}

// splitUsageKey extracts the metric segment from a "usage:<tenant>:<metric>:<period>:<bucket>" key.
func splitUsageKey(key string) string {
	const prefix = "usage:"
	if len(key) <= len(prefix) {
		return ""
	}
	rest := key[len(prefix):]
	// rest = tenantID:metric:period:bucket...; find the second colon segment.
	firstColon := indexByte(rest, ':')
	if firstColon < 0 {
		return ""
	}
	rest = rest[firstColon+1:]
	secondColon := indexByte(rest, ':')
	if secondColon < 0 {
		return ""
	}
	return rest[:secondColon]
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func (r *RedisUsageStorage) Reset(ctx context.Context, tenantID, metric string, period tenancy.Period) error {
	key := usageRedisKey(tenantID, metric, period, time.Now())
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisUsageStorage) Close() error {
	return r.client.Close()
}

var _ tenancy.UsageStorage = (*RedisUsageStorage)(nil)
