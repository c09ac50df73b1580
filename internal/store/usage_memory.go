// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store provides the pluggable persistence backends for the
// admission plane's usage counters and presence records.
package store

import (
	"context"
	"sync"

	"github.com/ManuGH/xg2g/internal/tenancy"
)

// MemoryUsageStorage is a process-local tenancy.UsageStorage. Counters do
// not survive a restart; acceptable for a single-node deployment or tests,
// not for a horizontally scaled admission plane (use RedisUsageStorage
// there).
type MemoryUsageStorage struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryUsageStorage builds an empty storage.
func NewMemoryUsageStorage() *MemoryUsageStorage {
	return &MemoryUsageStorage{counts: make(map[string]int64)}
}

func usageKey(tenantID, metric string, period tenancy.Period) string {
	return tenantID + "\x00" + metric + "\x00" + string(period)
}

func (m *MemoryUsageStorage) Increment(_ context.Context, tenantID, metric string, period tenancy.Period, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := usageKey(tenantID, metric, period)
	m.counts[k] += delta
	return m.counts[k], nil
}

func (m *MemoryUsageStorage) Get(_ context.Context, tenantID, metric string, period tenancy.Period) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[usageKey(tenantID, metric, period)], nil
}

func (m *MemoryUsageStorage) GetAll(_ context.Context, tenantID string, period tenancy.Period) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := tenantID + "\x00"
	suffix := "\x00" + string(period)
	out := make(map[string]int64)
	for k, v := range m.counts {
		if len(k) <= len(prefix)+len(suffix) {
			continue
		}
		if k[:len(prefix)] != prefix || k[len(k)-len(suffix):] != suffix {
			continue
		}
		metric := k[len(prefix) : len(k)-len(suffix)]
		out[metric] = v
	}
	return out, nil
}

func (m *MemoryUsageStorage) Reset(_ context.Context, tenantID, metric string, period tenancy.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, usageKey(tenantID, metric, period))
	return nil
}

var _ tenancy.UsageStorage = (*MemoryUsageStorage)(nil)
